package config

// ScannerConfig configures the remote scan service client and the scan
// coordinator's timing behavior.
type ScannerConfig struct {
	// ServiceURL is the base URL of the remote verdict service.
	ServiceURL string `json:"service_url,omitempty" yaml:"service_url,omitempty" validate:"omitempty,url"`
	// ProbePath is the cheap liveness endpoint checked before every submit.
	ProbePath         string `json:"probe_path,omitempty" yaml:"probe_path,omitempty"`
	ProbeTimeoutSecs  int    `json:"probe_timeout_secs,omitempty" yaml:"probe_timeout_secs,omitempty" validate:"omitempty,gt=0"`
	SubmitTimeoutSecs int    `json:"submit_timeout_secs,omitempty" yaml:"submit_timeout_secs,omitempty" validate:"omitempty,gt=0"`
	// MinHoldMs is the minimum delay before a verdict is surfaced, so
	// near-instant scans do not produce a flashing prompt.
	MinHoldMs     int `json:"min_hold_ms,omitempty" yaml:"min_hold_ms,omitempty" validate:"omitempty,gte=0"`
	RetryAttempts int `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty" validate:"omitempty,gte=0"`
}

// NewDefaultScannerConfig creates default scanner configuration.
func NewDefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		ProbePath:         "/health",
		ProbeTimeoutSecs:  DefaultScannerProbeTimeoutSecs,
		SubmitTimeoutSecs: DefaultScannerSubmitTimeoutSecs,
		MinHoldMs:         DefaultScannerMinHoldMs,
		RetryAttempts:     DefaultScannerRetryAttempts,
	}
}
