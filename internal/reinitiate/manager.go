// Package reinitiate completes approved downloads. When the host is still
// waiting on the pre-start callback the approval token is consumed directly;
// when the callback is gone the download is restarted under a short-lived
// single-use permit so the new attempt skips interception exactly once.
package reinitiate

import (
	"context"
	"time"

	"websentry/internal/cache"
	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/host"
	"websentry/internal/models"
	"websentry/internal/urlhandler"

	"github.com/rs/zerolog"
)

// Manager owns the permit cache write side and the restart path.
type Manager struct {
	downloads host.DownloadControl
	permits   *cache.ExpiringCache[string, models.ReinitiationPermit]
	permitTTL time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a reinitiation manager sharing the permit cache with
// the interceptor's pre-start hook.
func NewManager(
	cfg config.InterceptorConfig,
	downloads host.DownloadControl,
	permits *cache.ExpiringCache[string, models.ReinitiationPermit],
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		downloads: downloads,
		permits:   permits,
		permitTTL: time.Duration(cfg.PermitTTLSecs) * time.Second,
		logger:    logger.With().Str("component", "ReinitiationManager").Logger(),
		now:       time.Now,
	}
}

// Allow completes an approved download. The failure mode is deliberate:
// a failed restart is reported once and never retried, so a broken host
// surface cannot turn into a download loop.
func (m *Manager) Allow(ctx context.Context, pd *models.PendingDownload) error {
	fileName := urlhandler.SanitizeFileName(pd.FileName)

	if fire, ok := pd.Token.Consume(); ok {
		fire(fileName)
		m.logger.Info().
			Str("download_id", pd.ID).
			Str("file", fileName).
			Msg("Approval token consumed, download released in place")
		return nil
	}

	normalized, err := urlhandler.NormalizeURL(pd.ResolvedURL)
	if err != nil {
		return errorwrapper.WrapError(errorwrapper.ErrReinitiationFailed, err.Error())
	}

	m.permits.SetTTL(normalized, models.ReinitiationPermit{
		DownloadID: pd.ID,
		URL:        normalized,
		FileName:   fileName,
		IssuedAt:   m.now(),
	}, m.permitTTL)

	newID, err := m.downloads.Start(ctx, host.DownloadRequest{URL: pd.ResolvedURL, FileName: fileName})
	if err != nil {
		// Drop the permit so the exemption cannot outlive the failed attempt.
		m.permits.Delete(normalized)
		return errorwrapper.WrapError(errorwrapper.ErrReinitiationFailed, err.Error())
	}

	m.logger.Info().
		Str("download_id", pd.ID).
		Str("new_download_id", newID).
		Str("url", normalized).
		Msg("Download reinitiated under permit")
	return nil
}
