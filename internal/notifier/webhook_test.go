package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"websentry/internal/config"
	"websentry/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu       sync.Mutex
	payloads []webhookPayload
}

func newCaptureServer(t *testing.T) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var p webhookPayload
		require.NoError(t, json.Unmarshal(body, &p))
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server, c
}

func (c *capture) all() []webhookPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webhookPayload{}, c.payloads...)
}

func TestThreatDetectedPostsPayload(t *testing.T) {
	server, captured := newCaptureServer(t)
	cfg := config.NewDefaultNotificationConfig()
	cfg.WebhookURL = server.URL

	n, err := NewWebhookNotifier(cfg, zerolog.Nop())
	require.NoError(t, err)

	n.ThreatDetected(context.Background(), "https://evil.example/", models.ThreatLevelCritical)

	payloads := captured.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, "threat_detected", payloads[0].Event)
	assert.Equal(t, "https://evil.example/", payloads[0].Fields["url"])
	assert.Equal(t, "critical", payloads[0].Fields["severity"])
}

func TestEmptyWebhookURLDisablesSends(t *testing.T) {
	n, err := NewWebhookNotifier(config.NewDefaultNotificationConfig(), zerolog.Nop())
	require.NoError(t, err)

	// Must not panic or attempt network IO.
	n.ThreatDetected(context.Background(), "https://evil.example/", models.ThreatLevelHigh)
	n.AuthFailure(context.Background())
	n.ReinitiationFailure(context.Background(), "dl-1", "https://example.com/f")
}

func TestNotifyFlagsGateEvents(t *testing.T) {
	server, captured := newCaptureServer(t)
	cfg := config.NewDefaultNotificationConfig()
	cfg.WebhookURL = server.URL
	cfg.NotifyOnInfected = false

	n, err := NewWebhookNotifier(cfg, zerolog.Nop())
	require.NoError(t, err)

	n.ThreatDetected(context.Background(), "https://evil.example/", models.ThreatLevelHigh)
	assert.Empty(t, captured.all())

	n.AuthFailure(context.Background())
	payloads := captured.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, "auth_failure", payloads[0].Event)
}
