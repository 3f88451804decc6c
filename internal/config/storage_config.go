package config

// StorageConfig configures local persistence: the sqlite transition journal
// and the parquet verdict history.
type StorageConfig struct {
	SQLiteDBPath     string `json:"sqlite_db_path,omitempty" yaml:"sqlite_db_path,omitempty"`
	ParquetBasePath  string `json:"parquet_base_path,omitempty" yaml:"parquet_base_path,omitempty"`
	CompressionCodec string `json:"compression_codec,omitempty" yaml:"compression_codec,omitempty" validate:"omitempty,oneof=zstd snappy gzip none"`
}

// NewDefaultStorageConfig creates default storage configuration.
func NewDefaultStorageConfig() StorageConfig {
	return StorageConfig{
		SQLiteDBPath:     DefaultSQLiteDBPath,
		ParquetBasePath:  DefaultParquetBasePath,
		CompressionCodec: DefaultCompressionCodec,
	}
}
