package config

const (
	// Log Defaults
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultLogFile       = ""
	DefaultMaxLogSizeMB  = 100
	DefaultMaxLogBackups = 3

	// Scanner Defaults
	DefaultScannerProbeTimeoutSecs  = 5
	DefaultScannerSubmitTimeoutSecs = 120
	DefaultScannerMinHoldMs         = 700
	DefaultScannerRetryAttempts     = 1

	// Interceptor Defaults
	DefaultPermitTTLSecs           = 5
	DefaultUserInitiatedWindowSecs = 10
	DefaultIntermediateExtensions  = ".html,.htm"
	DefaultIntermediateMIMETypes   = "text/html,application/xhtml+xml"

	// Navigation Defaults
	DefaultUnsafeURLTTLMinutes    = 60
	DefaultAutoScanActiveTTLSecs  = 60
	DefaultAutoScanPendingTTLSecs = 120
	DefaultLogPollIntervalSecs    = 2
	DefaultLogPollTimeoutSecs     = 120
	DefaultNotifyDedupeMinutes    = 10
	DefaultNavBypassTTLSecs       = 30
	DefaultPlaceholderURL         = "about:blank"

	// Janitor Defaults
	DefaultJanitorSweepIntervalSecs = 15
	DefaultJournalRetentionHours    = 24

	// Storage Defaults
	DefaultSQLiteDBPath     = "data/websentry.db"
	DefaultParquetBasePath  = "data/history"
	DefaultCompressionCodec = "zstd"

	// API Defaults
	DefaultAPIListenAddr = "127.0.0.1:8976"
)

// GlobalConfig aggregates all feature configurations for the agent.
type GlobalConfig struct {
	APIConfig          APIConfig          `json:"api_config,omitempty" yaml:"api_config,omitempty"`
	InterceptorConfig  InterceptorConfig  `json:"interceptor_config,omitempty" yaml:"interceptor_config,omitempty"`
	JanitorConfig      JanitorConfig      `json:"janitor_config,omitempty" yaml:"janitor_config,omitempty"`
	LogConfig          LogConfig          `json:"log_config,omitempty" yaml:"log_config,omitempty"`
	NavigationConfig   NavigationConfig   `json:"navigation_config,omitempty" yaml:"navigation_config,omitempty"`
	NotificationConfig NotificationConfig `json:"notification_config,omitempty" yaml:"notification_config,omitempty"`
	ScannerConfig      ScannerConfig      `json:"scanner_config,omitempty" yaml:"scanner_config,omitempty"`
	StorageConfig      StorageConfig      `json:"storage_config,omitempty" yaml:"storage_config,omitempty"`
}

// NewDefaultGlobalConfig returns a GlobalConfig populated with defaults.
func NewDefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		APIConfig:          NewDefaultAPIConfig(),
		InterceptorConfig:  NewDefaultInterceptorConfig(),
		JanitorConfig:      NewDefaultJanitorConfig(),
		LogConfig:          NewDefaultLogConfig(),
		NavigationConfig:   NewDefaultNavigationConfig(),
		NotificationConfig: NewDefaultNotificationConfig(),
		ScannerConfig:      NewDefaultScannerConfig(),
		StorageConfig:      NewDefaultStorageConfig(),
	}
}
