package config

// JanitorConfig tunes the periodic sweep.
type JanitorConfig struct {
	SweepIntervalSecs     int `json:"sweep_interval_secs,omitempty" yaml:"sweep_interval_secs,omitempty" validate:"omitempty,gt=0"`
	JournalRetentionHours int `json:"journal_retention_hours,omitempty" yaml:"journal_retention_hours,omitempty" validate:"omitempty,gt=0"`
}

// NewDefaultJanitorConfig creates default janitor configuration.
func NewDefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		SweepIntervalSecs:     DefaultJanitorSweepIntervalSecs,
		JournalRetentionHours: DefaultJournalRetentionHours,
	}
}
