package config

// APIConfig configures the local control API serving the popup/UI surface.
type APIConfig struct {
	Enabled    bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty" validate:"omitempty,hostname_port"`
}

// NewDefaultAPIConfig creates default API configuration.
func NewDefaultAPIConfig() APIConfig {
	return APIConfig{
		Enabled:    true,
		ListenAddr: DefaultAPIListenAddr,
	}
}
