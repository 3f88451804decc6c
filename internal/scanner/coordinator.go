// Package scanner coordinates scan submissions against the remote verdict
// service: liveness probing, timeout enforcement, verdict classification and
// the minimum UI hold.
package scanner

import (
	"context"
	"errors"
	"strings"
	"time"

	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/models"
	"websentry/internal/scanclient"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScanService is the slice of the scan client the coordinator drives.
type ScanService interface {
	Probe(ctx context.Context) error
	Submit(ctx context.Context, kind models.ScanKind, targetURL, fileName string) (*scanclient.ScanResponse, error)
}

// CredentialPurger drops the stored credential after a rejection.
type CredentialPurger interface {
	ClearAll(ctx context.Context) error
}

// VerdictSink receives every classified verdict for persistence.
type VerdictSink interface {
	Append(rows []models.VerdictRecordRow) error
}

// Coordinator submits scans and classifies their outcomes.
type Coordinator struct {
	service       ScanService
	credentials   CredentialPurger
	history       VerdictSink
	probeFirst    bool
	submitTimeout time.Duration
	minHold       time.Duration
	logger        zerolog.Logger
}

// NewCoordinator creates a scan coordinator. history may be nil.
func NewCoordinator(
	cfg config.ScannerConfig,
	service ScanService,
	credentials CredentialPurger,
	history VerdictSink,
	logger zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		service:       service,
		credentials:   credentials,
		history:       history,
		probeFirst:    true,
		submitTimeout: time.Duration(cfg.SubmitTimeoutSecs) * time.Second,
		minHold:       time.Duration(cfg.MinHoldMs) * time.Millisecond,
		logger:        logger.With().Str("component", "ScanCoordinator").Logger(),
	}
}

// Submit runs one scan end to end and returns a classified verdict.
//
// Error cases are part of the contract:
//   - ErrScanUnavailable: the probe failed; the caller fails open, silently.
//   - ErrAuthRequired: credential rejected and purged; the caller fails closed.
//
// Any other outcome is expressed as a Verdict (Clean/Infected/Timeout/Error)
// and is only returned after the minimum hold has elapsed, so near-instant
// scans do not produce a flashing prompt.
func (c *Coordinator) Submit(ctx context.Context, kind models.ScanKind, targetURL, fileName string) (models.Verdict, error) {
	start := time.Now()

	if c.probeFirst {
		if err := c.service.Probe(ctx); err != nil {
			c.logger.Warn().Err(err).Str("url", targetURL).Msg("Scan service probe failed, failing open")
			return models.Verdict{}, errorwrapper.WrapError(errorwrapper.ErrScanUnavailable, err.Error())
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	resp, err := c.service.Submit(submitCtx, kind, targetURL, fileName)
	verdict := c.classify(resp, err, start)

	if err != nil && errors.Is(err, errorwrapper.ErrAuthRequired) {
		c.logger.Warn().Str("url", targetURL).Msg("Credential rejected by scan service, purging")
		if purgeErr := c.credentials.ClearAll(ctx); purgeErr != nil {
			c.logger.Error().Err(purgeErr).Msg("Failed to purge rejected credential")
		}
		c.hold(ctx, start)
		return models.Verdict{}, errorwrapper.ErrAuthRequired
	}

	c.hold(ctx, start)
	c.record(kind, targetURL, fileName, verdict)

	c.logger.Info().
		Str("url", targetURL).
		Str("kind", string(kind)).
		Str("status", string(verdict.Status)).
		Dur("elapsed", verdict.Elapsed).
		Msg("Scan verdict classified")

	return verdict, nil
}

func (c *Coordinator) classify(resp *scanclient.ScanResponse, err error, start time.Time) models.Verdict {
	verdict := models.Verdict{
		ScanID:  uuid.NewString(),
		Elapsed: time.Since(start),
	}

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline exceeded")):
		verdict.Status = models.VerdictTimeout
	case err != nil:
		verdict.Status = models.VerdictError
	default:
		if resp.ScanID != "" {
			verdict.ScanID = resp.ScanID
		}
		verdict.Threats = resp.Threats
		switch strings.ToLower(resp.Status) {
		case "clean":
			verdict.Status = models.VerdictClean
		case "infected":
			verdict.Status = models.VerdictInfected
		case "timeout":
			verdict.Status = models.VerdictTimeout
		default:
			verdict.Status = models.VerdictError
		}
	}
	return verdict
}

// hold blocks until the minimum UI hold has elapsed since start.
func (c *Coordinator) hold(ctx context.Context, start time.Time) {
	remaining := c.minHold - time.Since(start)
	if remaining <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}

func (c *Coordinator) record(kind models.ScanKind, targetURL, fileName string, verdict models.Verdict) {
	if c.history == nil {
		return
	}
	row := models.VerdictRecordRow{
		ScanID:    verdict.ScanID,
		Kind:      string(kind),
		URL:       targetURL,
		FileName:  fileName,
		Status:    string(verdict.Status),
		Threats:   strings.Join(verdict.Threats, ","),
		ElapsedMs: verdict.Elapsed.Milliseconds(),
		ScannedAt: time.Now().UnixMilli(),
	}
	if err := c.history.Append([]models.VerdictRecordRow{row}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to append verdict history")
	}
}
