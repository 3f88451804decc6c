// Package notifier posts out-of-band agent events to an ops webhook. User
// prompts never go through here; this channel exists so an operator sees
// confirmed threats and credential problems without watching logs.
package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/httpclient"
	"websentry/internal/models"

	"github.com/rs/zerolog"
)

// WebhookNotifier sends JSON event payloads to the configured webhook.
// An empty webhook URL disables it; every send becomes a no-op.
type WebhookNotifier struct {
	cfg        config.NotificationConfig
	httpClient *httpclient.HTTPClient
	logger     zerolog.Logger
}

// webhookPayload is the wire form of one ops event.
type webhookPayload struct {
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NewWebhookNotifier creates the notifier.
func NewWebhookNotifier(cfg config.NotificationConfig, logger zerolog.Logger) (*WebhookNotifier, error) {
	componentLogger := logger.With().Str("component", "WebhookNotifier").Logger()

	hc, err := httpclient.NewHTTPClient(httpclient.DefaultHTTPClientConfig(), componentLogger)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to build webhook HTTP client")
	}
	hc.WithRetryHandler(httpclient.NewRetryHandler(httpclient.RetryHandlerConfig{
		MaxRetries:       2,
		BaseDelay:        time.Second,
		MaxDelay:         5 * time.Second,
		EnableJitter:     true,
		RetryStatusCodes: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, componentLogger))

	if cfg.WebhookURL == "" {
		componentLogger.Info().Msg("No webhook URL configured, ops notifications disabled")
	}

	return &WebhookNotifier{
		cfg:        cfg,
		httpClient: hc,
		logger:     componentLogger,
	}, nil
}

// ThreatDetected reports a confirmed unsafe URL.
func (n *WebhookNotifier) ThreatDetected(ctx context.Context, url string, severity models.ThreatLevel) {
	if !n.cfg.NotifyOnInfected {
		return
	}
	n.send(ctx, "threat_detected", map[string]string{
		"url":      url,
		"severity": string(severity),
	})
}

// AuthFailure reports a credential rejection and purge.
func (n *WebhookNotifier) AuthFailure(ctx context.Context) {
	if !n.cfg.NotifyOnAuthFailure {
		return
	}
	n.send(ctx, "auth_failure", nil)
}

// ReinitiationFailure reports an approved download that could not be
// restarted.
func (n *WebhookNotifier) ReinitiationFailure(ctx context.Context, downloadID, url string) {
	if !n.cfg.NotifyOnReinitiationFailure {
		return
	}
	n.send(ctx, "reinitiation_failure", map[string]string{
		"download_id": downloadID,
		"url":         url,
	})
}

func (n *WebhookNotifier) send(ctx context.Context, event string, fields map[string]string) {
	if n.cfg.WebhookURL == "" {
		return
	}

	body, err := json.Marshal(webhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	})
	if err != nil {
		n.logger.Error().Err(err).Str("event", event).Msg("Failed to encode webhook payload")
		return
	}

	resp, err := n.httpClient.Do(&httpclient.HTTPRequest{
		Context: ctx,
		Method:  http.MethodPost,
		URL:     n.cfg.WebhookURL,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("event", event).Msg("Failed to deliver webhook notification")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Str("event", event).Msg("Webhook rejected notification")
	}
}
