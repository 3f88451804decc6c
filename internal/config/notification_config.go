package config

// NotificationConfig configures the out-of-band ops webhook channel. User
// prompts always go through the host notification surface regardless.
type NotificationConfig struct {
	WebhookURL                  string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty" validate:"omitempty,url"`
	NotifyOnInfected            bool   `json:"notify_on_infected,omitempty" yaml:"notify_on_infected,omitempty"`
	NotifyOnAuthFailure         bool   `json:"notify_on_auth_failure,omitempty" yaml:"notify_on_auth_failure,omitempty"`
	NotifyOnReinitiationFailure bool   `json:"notify_on_reinitiation_failure,omitempty" yaml:"notify_on_reinitiation_failure,omitempty"`
}

// NewDefaultNotificationConfig creates default notification configuration.
func NewDefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		NotifyOnInfected:            true,
		NotifyOnAuthFailure:         true,
		NotifyOnReinitiationFailure: true,
	}
}
