package config

import "strings"

// InterceptorConfig tunes the download interception policy.
type InterceptorConfig struct {
	// PermitTTLSecs bounds how long a reinitiation permit stays valid. The
	// short window is deliberate: one-shot exemption, not an allow-list.
	PermitTTLSecs int `json:"permit_ttl_secs,omitempty" yaml:"permit_ttl_secs,omitempty" validate:"omitempty,gt=0"`
	// UserInitiatedWindowSecs is the tunable heuristic window for treating a
	// download as user-initiated relative to the last user gesture.
	UserInitiatedWindowSecs int `json:"user_initiated_window_secs,omitempty" yaml:"user_initiated_window_secs,omitempty" validate:"omitempty,gte=0"`
	// IntermediateFileExtensions lists extensions treated as benign
	// redirect/landing-page artifacts, comma separated.
	IntermediateFileExtensions string `json:"intermediate_file_extensions,omitempty" yaml:"intermediate_file_extensions,omitempty"`
	// IntermediateMIMETypes lists MIME types treated the same way.
	IntermediateMIMETypes string `json:"intermediate_mime_types,omitempty" yaml:"intermediate_mime_types,omitempty"`
}

// NewDefaultInterceptorConfig creates default interceptor configuration.
func NewDefaultInterceptorConfig() InterceptorConfig {
	return InterceptorConfig{
		PermitTTLSecs:              DefaultPermitTTLSecs,
		UserInitiatedWindowSecs:    DefaultUserInitiatedWindowSecs,
		IntermediateFileExtensions: DefaultIntermediateExtensions,
		IntermediateMIMETypes:      DefaultIntermediateMIMETypes,
	}
}

// IntermediateExtensionList splits the configured extensions.
func (c InterceptorConfig) IntermediateExtensionList() []string {
	return splitTrimmed(c.IntermediateFileExtensions)
}

// IntermediateMIMETypeList splits the configured MIME types.
func (c InterceptorConfig) IntermediateMIMETypeList() []string {
	return splitTrimmed(c.IntermediateMIMETypes)
}

func splitTrimmed(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
