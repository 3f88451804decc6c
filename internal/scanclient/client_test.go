package scanclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
}

func (s staticTokens) Token(ctx context.Context) string { return s.token }

func newTestClient(t *testing.T, serverURL, token string) *Client {
	t.Helper()
	cfg := config.NewDefaultScannerConfig()
	cfg.ServiceURL = serverURL
	client, err := NewClient(cfg, staticTokens{token: token}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "tok")
	assert.NoError(t, client.Probe(context.Background()))
}

func TestProbeDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	server.Close()

	client := newTestClient(t, server.URL, "tok")
	err := client.Probe(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errorwrapper.ErrScanUnavailable)
}

func TestSubmitDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scan/download", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://example.com/evil.exe", payload["fileUrl"])
		assert.Equal(t, "evil.exe", payload["fileName"])

		_ = json.NewEncoder(w).Encode(ScanResponse{Status: "infected", Threats: []string{"Trojan.Generic"}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "tok")
	resp, err := client.Submit(context.Background(), models.ScanKindDownload, "https://example.com/evil.exe", "evil.exe")
	require.NoError(t, err)
	assert.Equal(t, "infected", resp.Status)
	assert.Equal(t, []string{"Trojan.Generic"}, resp.Threats)
}

func TestSubmitPagePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scan/page", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://example.com/", payload["url"])
		_, hasFileName := payload["fileName"]
		assert.False(t, hasFileName)
		_ = json.NewEncoder(w).Encode(ScanResponse{Status: "clean"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "tok")
	resp, err := client.Submit(context.Background(), models.ScanKindPage, "https://example.com/", "")
	require.NoError(t, err)
	assert.Equal(t, "clean", resp.Status)
}

func TestSubmitAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "expired")
	_, err := client.Submit(context.Background(), models.ScanKindDownload, "https://example.com/f", "f")
	assert.ErrorIs(t, err, errorwrapper.ErrAuthRequired)
}

func TestSubmitWithoutToken(t *testing.T) {
	client := newTestClient(t, "https://scan.invalid", "")
	_, err := client.Submit(context.Background(), models.ScanKindDownload, "https://example.com/f", "f")
	assert.ErrorIs(t, err, errorwrapper.ErrAuthRequired)
}

func TestClearLogs(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		assert.Equal(t, "/logs", r.URL.Path)
		assert.Equal(t, "page", r.URL.Query().Get("type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "tok")
	require.NoError(t, client.ClearLogs(context.Background(), "page"))
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestClearLogsWithoutToken(t *testing.T) {
	client := newTestClient(t, "https://scan.invalid", "")
	err := client.ClearLogs(context.Background(), "")
	assert.ErrorIs(t, err, errorwrapper.ErrAuthRequired)
}

func TestLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs", r.URL.Path)
		assert.Equal(t, "page", r.URL.Query().Get("type"))
		_ = json.NewEncoder(w).Encode([]models.LogEntry{
			{ID: "1", Source: "https://example.com/", Result: "clean"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "tok")
	entries, err := client.Logs(context.Background(), "page")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://example.com/", entries[0].Source)
}
