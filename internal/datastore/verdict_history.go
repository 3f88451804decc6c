package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"websentry/internal/config"
	"websentry/internal/models"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
)

// VerdictHistoryStore persists classified verdicts as parquet files, one file
// per append under a per-day directory. The control API serves recent history
// from it.
type VerdictHistoryStore struct {
	basePath    string
	compression parquet.WriterOption
	logger      zerolog.Logger
}

// NewVerdictHistoryStore creates the store and its base directory.
func NewVerdictHistoryStore(cfg *config.StorageConfig, logger zerolog.Logger) (*VerdictHistoryStore, error) {
	if cfg.ParquetBasePath == "" {
		return nil, fmt.Errorf("parquet base path is not configured")
	}
	if err := os.MkdirAll(cfg.ParquetBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", cfg.ParquetBasePath, err)
	}

	return &VerdictHistoryStore{
		basePath:    cfg.ParquetBasePath,
		compression: compressionOption(cfg.CompressionCodec),
		logger:      logger.With().Str("component", "VerdictHistoryStore").Logger(),
	}, nil
}

func compressionOption(codec string) parquet.WriterOption {
	switch strings.ToLower(codec) {
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "snappy":
		return parquet.Compression(&parquet.Snappy)
	case "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Zstd)
	}
}

// Append writes rows to a new parquet file under the current UTC day.
func (s *VerdictHistoryStore) Append(rows []models.VerdictRecordRow) error {
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	dayDir := filepath.Join(s.basePath, now.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return fmt.Errorf("failed to create day directory %s: %w", dayDir, err)
	}

	filePath := filepath.Join(dayDir, fmt.Sprintf("verdicts-%d.parquet", now.UnixNano()))
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create history file %s: %w", filePath, err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[models.VerdictRecordRow](file, s.compression)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write verdict rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize history file: %w", err)
	}

	s.logger.Debug().Int("rows", len(rows)).Str("file", filePath).Msg("Verdict history appended")
	return nil
}

// Recent reads back up to limit rows, newest files first.
func (s *VerdictHistoryStore) Recent(limit int) ([]models.VerdictRecordRow, error) {
	var files []string
	err := filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var out []models.VerdictRecordRow
	for _, path := range files {
		rows, err := parquet.ReadFile[models.VerdictRecordRow](path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable history file")
			continue
		}
		out = append(out, rows...)
		if limit > 0 && len(out) >= limit {
			out = out[:limit]
			break
		}
	}
	return out, nil
}
