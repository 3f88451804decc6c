package reinitiate

import (
	"context"
	"testing"
	"time"

	"websentry/internal/cache"
	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/host"
	"websentry/internal/models"
	"websentry/internal/urlhandler"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *host.MemDownloads, *cache.ExpiringCache[string, models.ReinitiationPermit]) {
	t.Helper()
	downloads := &host.MemDownloads{}
	permits := cache.New[string, models.ReinitiationPermit]("reinit-permits", 5*time.Second)
	m := NewManager(config.NewDefaultInterceptorConfig(), downloads, permits, zerolog.Nop())
	return m, downloads, permits
}

func TestAllowConsumesLiveToken(t *testing.T) {
	m, downloads, permits := newTestManager(t)

	var fired string
	pd := &models.PendingDownload{
		ID:          "dl-1",
		ResolvedURL: "https://example.com/f.exe",
		FileName:    "f.exe",
		Token:       models.NewApprovalToken(func(name string) { fired = name }),
	}

	require.NoError(t, m.Allow(context.Background(), pd))
	assert.Equal(t, "f.exe", fired)
	assert.Empty(t, downloads.StartedRequests, "live token path must not restart")
	assert.Zero(t, permits.Len())
	assert.False(t, pd.Token.Live())
}

func TestAllowRestartsUnderPermitWhenTokenDead(t *testing.T) {
	m, downloads, permits := newTestManager(t)

	pd := &models.PendingDownload{
		ID:            "dl-1",
		ResolvedURL:   "https://example.com/path/f.exe",
		FileName:      "f.exe",
		Token:         models.NewApprovalToken(nil),
		RaceCancelled: true,
	}

	require.NoError(t, m.Allow(context.Background(), pd))
	require.Len(t, downloads.StartedRequests, 1)
	assert.Equal(t, "https://example.com/path/f.exe", downloads.StartedRequests[0].URL)

	normalized, err := urlhandler.NormalizeURL(pd.ResolvedURL)
	require.NoError(t, err)
	permit, ok := permits.Get(normalized)
	require.True(t, ok)
	assert.Equal(t, "dl-1", permit.DownloadID)
	assert.Equal(t, "f.exe", permit.FileName)
}

func TestAllowSanitizesFileName(t *testing.T) {
	m, downloads, _ := newTestManager(t)

	pd := &models.PendingDownload{
		ID:          "dl-1",
		ResolvedURL: "https://example.com/f",
		FileName:    `..\..\evil<name>.exe`,
		Token:       models.NewApprovalToken(nil),
	}

	require.NoError(t, m.Allow(context.Background(), pd))
	require.Len(t, downloads.StartedRequests, 1)
	name := downloads.StartedRequests[0].FileName
	assert.NotContains(t, name, `\`)
	assert.NotContains(t, name, "<")
}

func TestAllowStartFailureDropsPermitWithoutRetry(t *testing.T) {
	m, downloads, permits := newTestManager(t)
	downloads.FailStart = true

	pd := &models.PendingDownload{
		ID:          "dl-1",
		ResolvedURL: "https://example.com/f.exe",
		FileName:    "f.exe",
		Token:       models.NewApprovalToken(nil),
	}

	err := m.Allow(context.Background(), pd)
	require.Error(t, err)
	assert.ErrorIs(t, err, errorwrapper.ErrReinitiationFailed)
	assert.Zero(t, permits.Len(), "permit must not survive a failed restart")
}
