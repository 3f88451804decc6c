package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlobalConfigDefaults(t *testing.T) {
	cfg, err := LoadGlobalConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultScannerMinHoldMs, cfg.ScannerConfig.MinHoldMs)
	assert.Equal(t, DefaultPermitTTLSecs, cfg.InterceptorConfig.PermitTTLSecs)
	assert.Equal(t, DefaultUnsafeURLTTLMinutes, cfg.NavigationConfig.UnsafeURLTTLMinutes)
	assert.Equal(t, DefaultNavBypassTTLSecs, cfg.NavigationConfig.NavBypassTTLSecs)
	assert.Equal(t, DefaultJanitorSweepIntervalSecs, cfg.JanitorConfig.SweepIntervalSecs)
	assert.True(t, cfg.NavigationConfig.AutoScanEnabled)
}

func TestLoadGlobalConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
scanner_config:
  service_url: "https://scan.example.com"
  min_hold_ms: 500
navigation_config:
  auto_scan_enabled: false
  unsafe_url_ttl_minutes: 30
log_config:
  log_level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadGlobalConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://scan.example.com", cfg.ScannerConfig.ServiceURL)
	assert.Equal(t, 500, cfg.ScannerConfig.MinHoldMs)
	assert.False(t, cfg.NavigationConfig.AutoScanEnabled)
	assert.Equal(t, 30, cfg.NavigationConfig.UnsafeURLTTLMinutes)
	assert.Equal(t, "debug", cfg.LogConfig.LogLevel)
	// Untouched sections keep defaults.
	assert.Equal(t, DefaultPermitTTLSecs, cfg.InterceptorConfig.PermitTTLSecs)
}

func TestLoadGlobalConfigInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_config:\n  log_level: verbose\n"), 0644))

	_, err := LoadGlobalConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loglevel")
}

func TestLoadGlobalConfigUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	_, err := LoadGlobalConfig(path)
	require.Error(t, err)
}

func TestIntermediateListParsing(t *testing.T) {
	cfg := NewDefaultInterceptorConfig()
	assert.Equal(t, []string{".html", ".htm"}, cfg.IntermediateExtensionList())
	assert.Contains(t, cfg.IntermediateMIMETypeList(), "text/html")
}
