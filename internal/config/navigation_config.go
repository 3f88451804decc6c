package config

// NavigationConfig tunes the navigation guard.
type NavigationConfig struct {
	AutoScanEnabled bool `json:"auto_scan_enabled,omitempty" yaml:"auto_scan_enabled,omitempty"`
	// PlaceholderURL is the neutral page blocked navigations are parked on.
	PlaceholderURL string `json:"placeholder_url,omitempty" yaml:"placeholder_url,omitempty"`
	// InternalURLPrefixes are never scanned or blocked (host-internal pages).
	InternalURLPrefixes    []string `json:"internal_url_prefixes,omitempty" yaml:"internal_url_prefixes,omitempty"`
	UnsafeURLTTLMinutes    int      `json:"unsafe_url_ttl_minutes,omitempty" yaml:"unsafe_url_ttl_minutes,omitempty" validate:"omitempty,gt=0"`
	AutoScanActiveTTLSecs  int      `json:"auto_scan_active_ttl_secs,omitempty" yaml:"auto_scan_active_ttl_secs,omitempty" validate:"omitempty,gt=0"`
	AutoScanPendingTTLSecs int      `json:"auto_scan_pending_ttl_secs,omitempty" yaml:"auto_scan_pending_ttl_secs,omitempty" validate:"omitempty,gt=0"`
	LogPollIntervalSecs    int      `json:"log_poll_interval_secs,omitempty" yaml:"log_poll_interval_secs,omitempty" validate:"omitempty,gt=0"`
	LogPollTimeoutSecs     int      `json:"log_poll_timeout_secs,omitempty" yaml:"log_poll_timeout_secs,omitempty" validate:"omitempty,gt=0"`
	NotifyDedupeMinutes    int      `json:"notify_dedupe_minutes,omitempty" yaml:"notify_dedupe_minutes,omitempty" validate:"omitempty,gt=0"`
	// NavBypassTTLSecs bounds how long an approved-but-uncommitted navigation
	// keeps its single-use bypass.
	NavBypassTTLSecs int `json:"nav_bypass_ttl_secs,omitempty" yaml:"nav_bypass_ttl_secs,omitempty" validate:"omitempty,gt=0"`
}

// NewDefaultNavigationConfig creates default navigation configuration.
func NewDefaultNavigationConfig() NavigationConfig {
	return NavigationConfig{
		AutoScanEnabled:        true,
		PlaceholderURL:         DefaultPlaceholderURL,
		UnsafeURLTTLMinutes:    DefaultUnsafeURLTTLMinutes,
		AutoScanActiveTTLSecs:  DefaultAutoScanActiveTTLSecs,
		AutoScanPendingTTLSecs: DefaultAutoScanPendingTTLSecs,
		LogPollIntervalSecs:    DefaultLogPollIntervalSecs,
		LogPollTimeoutSecs:     DefaultLogPollTimeoutSecs,
		NotifyDedupeMinutes:    DefaultNotifyDedupeMinutes,
		NavBypassTTLSecs:       DefaultNavBypassTTLSecs,
	}
}
