// Package scanclient is the REST client for the remote verdict service.
package scanclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/httpclient"
	"websentry/internal/models"

	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) string
}

// ScanResponse is the wire form of a verdict.
type ScanResponse struct {
	Status  string   `json:"status"`
	Threats []string `json:"threats,omitempty"`
	ScanID  string   `json:"scanId,omitempty"`
}

// Client talks to the remote scan service.
type Client struct {
	baseURL      string
	probePath    string
	probeTimeout time.Duration
	httpClient   *httpclient.HTTPClient
	tokens       TokenSource
	logger       zerolog.Logger
}

// NewClient creates a scan service client.
func NewClient(cfg config.ScannerConfig, tokens TokenSource, logger zerolog.Logger) (*Client, error) {
	if cfg.ServiceURL == "" {
		return nil, errorwrapper.NewValidationError("service_url", cfg.ServiceURL, "scan service URL is required")
	}

	componentLogger := logger.With().Str("component", "ScanClient").Logger()

	hc, err := httpclient.NewHTTPClient(httpclient.DefaultHTTPClientConfig(), componentLogger)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to build HTTP client")
	}
	if cfg.RetryAttempts > 0 {
		hc.WithRetryHandler(httpclient.NewRetryHandler(httpclient.RetryHandlerConfig{
			MaxRetries:       cfg.RetryAttempts,
			BaseDelay:        500 * time.Millisecond,
			MaxDelay:         5 * time.Second,
			EnableJitter:     true,
			RetryStatusCodes: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable},
		}, componentLogger))
	}

	probePath := cfg.ProbePath
	if probePath == "" {
		probePath = "/health"
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.ServiceURL, "/"),
		probePath:    probePath,
		probeTimeout: time.Duration(cfg.ProbeTimeoutSecs) * time.Second,
		httpClient:   hc,
		tokens:       tokens,
		logger:       componentLogger,
	}, nil
}

// Origin returns the service base URL, used to avoid scanning the scanner.
func (c *Client) Origin() string {
	return c.baseURL
}

// Probe performs the cheap liveness check that precedes every submission.
func (c *Client) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	resp, err := c.httpClient.Do(&httpclient.HTTPRequest{
		Context: probeCtx,
		Method:  http.MethodGet,
		URL:     c.baseURL + c.probePath,
	})
	if err != nil {
		return errorwrapper.WrapError(errorwrapper.ErrScanUnavailable, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorwrapper.WrapError(errorwrapper.ErrScanUnavailable,
			fmt.Sprintf("probe returned status %d", resp.StatusCode))
	}
	return nil
}

// Submit sends a scan request for a download or a page and returns the raw
// service response. A rejected credential maps to ErrAuthRequired.
func (c *Client) Submit(ctx context.Context, kind models.ScanKind, targetURL, fileName string) (*ScanResponse, error) {
	var payload map[string]string
	switch kind {
	case models.ScanKindDownload:
		payload = map[string]string{"fileUrl": targetURL, "fileName": fileName}
	case models.ScanKindPage:
		payload = map[string]string{"url": targetURL}
	default:
		return nil, errorwrapper.NewError("unknown scan kind: %s", kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to encode scan request")
	}

	token := c.tokens.Token(ctx)
	if token == "" {
		return nil, errorwrapper.ErrAuthRequired
	}

	resp, err := c.httpClient.Do(&httpclient.HTTPRequest{
		Context: ctx,
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("%s/scan/%s", c.baseURL, kind),
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + token,
		},
		Body: body,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errorwrapper.ErrAuthRequired
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errorwrapper.NewHTTPErrorWithURL(resp.StatusCode, "scan submission failed", targetURL)
	}

	var scanResp ScanResponse
	if err := json.Unmarshal(resp.Body, &scanResp); err != nil {
		return nil, errorwrapper.WrapError(err, "failed to decode scan response")
	}
	return &scanResp, nil
}

// Logs retrieves entries from the service log feed, optionally filtered by
// type. The feed doubles as the page-scan completion channel.
func (c *Client) Logs(ctx context.Context, logType string) ([]models.LogEntry, error) {
	endpoint := c.baseURL + "/logs"
	if logType != "" {
		endpoint += "?type=" + url.QueryEscape(logType)
	}

	headers := map[string]string{}
	if token := c.tokens.Token(ctx); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	resp, err := c.httpClient.Do(&httpclient.HTTPRequest{
		Context: ctx,
		Method:  http.MethodGet,
		URL:     endpoint,
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errorwrapper.ErrAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorwrapper.NewHTTPError(resp.StatusCode, "log retrieval failed")
	}

	var entries []models.LogEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, errorwrapper.WrapError(err, "failed to decode log entries")
	}
	return entries, nil
}

// ClearLogs deletes entries from the service log feed, optionally filtered
// by type.
func (c *Client) ClearLogs(ctx context.Context, logType string) error {
	endpoint := c.baseURL + "/logs"
	if logType != "" {
		endpoint += "?type=" + url.QueryEscape(logType)
	}

	token := c.tokens.Token(ctx)
	if token == "" {
		return errorwrapper.ErrAuthRequired
	}

	resp, err := c.httpClient.Do(&httpclient.HTTPRequest{
		Context: ctx,
		Method:  http.MethodDelete,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errorwrapper.ErrAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorwrapper.NewHTTPError(resp.StatusCode, "log clearing failed")
	}
	return nil
}
