// Package interceptor owns the download interception pipeline: the pre-start
// hook that holds downloads for scanning, the post-creation safety net that
// catches host deadline races, and the pending-download state machine that
// routes verdicts and user decisions to exactly one outcome.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"websentry/internal/cache"
	"websentry/internal/config"
	"websentry/internal/errorwrapper"
	"websentry/internal/host"
	"websentry/internal/models"
	"websentry/internal/urlhandler"

	"github.com/rs/zerolog"
)

// ScanSubmitter runs one scan end to end and classifies the outcome.
type ScanSubmitter interface {
	Submit(ctx context.Context, kind models.ScanKind, targetURL, fileName string) (models.Verdict, error)
}

// AuthChecker reports whether a scan credential is currently stored.
type AuthChecker interface {
	Authenticated(ctx context.Context) bool
}

// TransitionJournal persists state transitions before their side effects run.
type TransitionJournal interface {
	RecordTransition(downloadID, url, fromState, toState, verdict string) error
}

// Prompter presents an approval prompt for a pending download. The response
// arrives later through ResolveDecision.
type Prompter interface {
	PromptDownload(ctx context.Context, pd *models.PendingDownload) error
}

// Releaser completes an allow: through the live token when the host is still
// waiting, or by restarting the download under a permit when it is not.
type Releaser interface {
	Allow(ctx context.Context, pd *models.PendingDownload) error
}

// EventSink receives lifecycle events for the UI surfaces. May be nil.
type EventSink interface {
	Publish(event models.AgentEvent)
}

// FailureAlerter forwards operational failures to the ops channel. May be nil.
type FailureAlerter interface {
	ReinitiationFailure(ctx context.Context, downloadID, url string)
}

// decider wraps the host's decide callback so allow and cancel share one
// at-most-once guard.
type decider struct {
	once sync.Once
	fn   host.DecideFunc
}

func (d *decider) allow(fileName string) {
	d.once.Do(func() { d.fn(host.PreStartDecision{FileName: fileName}) })
}

func (d *decider) cancel() {
	d.once.Do(func() { d.fn(host.PreStartDecision{Cancel: true}) })
}

// Interceptor holds the pending-download table and drives every download
// from detection to a terminal outcome.
type Interceptor struct {
	cfg       config.InterceptorConfig
	downloads host.Downloads
	notices   host.NotificationService
	scans     ScanSubmitter
	auth      AuthChecker
	journal   TransitionJournal
	prompter  Prompter
	releaser  Releaser
	events    EventSink
	alerts    FailureAlerter
	permits   *cache.ExpiringCache[string, models.ReinitiationPermit]
	enabled   func() bool
	logger    zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	pending     map[string]*models.PendingDownload
	deciders    map[string]*decider
	lastGesture time.Time

	loginNoticeOnce sync.Once

	intermediateExts  map[string]struct{}
	intermediateMIMEs map[string]struct{}
}

// NewInterceptor creates the interceptor. It does not register host hooks
// until Attach is called, so construction order stays flexible.
func NewInterceptor(
	cfg config.InterceptorConfig,
	downloads host.Downloads,
	notices host.NotificationService,
	scans ScanSubmitter,
	auth AuthChecker,
	journal TransitionJournal,
	permits *cache.ExpiringCache[string, models.ReinitiationPermit],
	enabled func() bool,
	logger zerolog.Logger,
) *Interceptor {
	exts := make(map[string]struct{})
	for _, e := range cfg.IntermediateExtensionList() {
		exts[strings.TrimPrefix(e, ".")] = struct{}{}
	}
	mimes := make(map[string]struct{})
	for _, m := range cfg.IntermediateMIMETypeList() {
		mimes[m] = struct{}{}
	}

	return &Interceptor{
		cfg:               cfg,
		downloads:         downloads,
		notices:           notices,
		scans:             scans,
		auth:              auth,
		journal:           journal,
		permits:           permits,
		enabled:           enabled,
		logger:            logger.With().Str("component", "Interceptor").Logger(),
		now:               time.Now,
		pending:           make(map[string]*models.PendingDownload),
		deciders:          make(map[string]*decider),
		intermediateExts:  exts,
		intermediateMIMEs: mimes,
	}
}

// SetPrompter wires the approval surface. Must be set before Attach.
func (i *Interceptor) SetPrompter(p Prompter) { i.prompter = p }

// SetReleaser wires the reinitiation path. Must be set before Attach.
func (i *Interceptor) SetReleaser(r Releaser) { i.releaser = r }

// SetEventSink wires the optional event broadcast.
func (i *Interceptor) SetEventSink(s EventSink) { i.events = s }

// SetFailureAlerter wires the optional ops failure channel.
func (i *Interceptor) SetFailureAlerter(a FailureAlerter) { i.alerts = a }

// Attach registers the download hooks on the host.
func (i *Interceptor) Attach() {
	i.downloads.OnPreStart(i.handlePreStart)
	i.downloads.OnPostCreate(i.handlePostCreate)
	i.downloads.OnRemoved(i.handleRemoved)
	i.downloads.OnChanged(i.handleChanged)
}

// NoteUserGesture records the timestamp of the last user gesture; downloads
// starting inside the configured window count as user-initiated.
func (i *Interceptor) NoteUserGesture() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastGesture = i.now()
}

// Pending returns a snapshot of undecided downloads, for the status surface.
func (i *Interceptor) Pending() []models.PendingDownload {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]models.PendingDownload, 0, len(i.pending))
	for _, pd := range i.pending {
		out = append(out, *pd)
	}
	return out
}

// handlePreStart is the decision point for every new download. Anything that
// does not need a scan is released synchronously; everything else is
// registered and scanned in the background while the host waits.
func (i *Interceptor) handlePreStart(ev host.DownloadEvent, decide host.DecideFunc) {
	ctx := context.Background()
	targetURL := ev.FinalURL
	if targetURL == "" {
		targetURL = ev.URL
	}

	if !i.enabled() {
		decide(host.PreStartDecision{FileName: ev.FileName})
		return
	}

	if !urlhandler.IsHTTPURL(targetURL) {
		i.logger.Info().Str("url", targetURL).Msg("Unscannable source URL, asking the user directly")
		i.promptUnscannable(ctx, ev, targetURL, decide)
		return
	}

	if permit, ok := i.consumePermit(targetURL); ok {
		i.logger.Info().
			Str("download_id", ev.ID).
			Str("url", targetURL).
			Str("origin_id", permit.DownloadID).
			Msg("Reinitiation permit consumed, releasing")
		decide(host.PreStartDecision{FileName: permit.FileName})
		return
	}

	if i.isIntermediate(ev, targetURL) {
		i.logger.Debug().Str("url", targetURL).Str("mime", ev.MIMEType).Msg("Intermediate artifact, releasing")
		decide(host.PreStartDecision{FileName: ev.FileName})
		return
	}

	if !i.auth.Authenticated(ctx) {
		i.logger.Warn().Str("url", targetURL).Msg("No scan credential stored, releasing without scan")
		decide(host.PreStartDecision{FileName: ev.FileName})
		i.showLoginNotice(ctx)
		return
	}

	fileName := ev.FileName
	if fileName == "" {
		fileName = urlhandler.FileNameFromURL(targetURL)
	}

	d := &decider{fn: decide}
	pd := &models.PendingDownload{
		ID:            ev.ID,
		SourceURL:     ev.URL,
		ResolvedURL:   targetURL,
		FileName:      fileName,
		State:         models.StateDetected,
		CreatedAt:     i.now(),
		ScanStartedAt: i.now(),
	}
	pd.Token = models.NewApprovalToken(d.allow)

	i.mu.Lock()
	i.pending[pd.ID] = pd
	i.deciders[pd.ID] = d
	userInitiated := i.now().Sub(i.lastGesture) <= time.Duration(i.cfg.UserInitiatedWindowSecs)*time.Second
	i.mu.Unlock()

	i.record(pd, "", models.StateDetected.String(), "")
	i.logger.Info().
		Str("download_id", pd.ID).
		Str("url", targetURL).
		Str("file", fileName).
		Bool("user_initiated", userInitiated).
		Msg("Download intercepted")

	go i.runScan(ctx, pd)
}

// promptUnscannable registers a download the scanner cannot inspect (blob,
// data, file or malformed source URL) and asks the user directly, with no
// scan.
func (i *Interceptor) promptUnscannable(ctx context.Context, ev host.DownloadEvent, targetURL string, decide host.DecideFunc) {
	fileName := ev.FileName
	if fileName == "" {
		fileName = urlhandler.FileNameFromURL(targetURL)
	}

	d := &decider{fn: decide}
	verdict := models.Verdict{Status: models.VerdictError}
	pd := &models.PendingDownload{
		ID:          ev.ID,
		SourceURL:   ev.URL,
		ResolvedURL: targetURL,
		FileName:    fileName,
		State:       models.StateDetected,
		Verdict:     &verdict,
		CreatedAt:   i.now(),
	}
	pd.Token = models.NewApprovalToken(d.allow)

	i.mu.Lock()
	i.pending[pd.ID] = pd
	i.deciders[pd.ID] = d
	i.mu.Unlock()

	i.record(pd, "", models.StateDetected.String(), "")
	go i.promptFor(ctx, pd, verdict)
}

// handlePostCreate is the safety net: a registered download materializing
// before its decision means the host deadline lapsed and the download is
// running unscanned. It is cancelled exactly once and moved to
// AwaitingApproval, so the later verdict always routes through a prompt.
func (i *Interceptor) handlePostCreate(ev host.DownloadEvent) {
	i.mu.Lock()
	pd, exists := i.pending[ev.ID]
	if !exists || pd.Decided() || pd.RaceCancelled {
		i.mu.Unlock()
		return
	}
	pd.RaceCancelled = true
	pd.Token.Invalidate()
	i.mu.Unlock()

	ctx := context.Background()
	i.logger.Warn().Str("download_id", ev.ID).Msg("Host started download past decision deadline, cancelling")

	// Journal the awaiting transition before the cancel side effect runs.
	if err := i.transition(pd, models.StateAwaitingApproval, ""); err != nil {
		i.logger.Debug().Err(err).Str("download_id", ev.ID).Msg("Race-cancelled record already awaiting approval")
	}

	if err := i.downloads.Cancel(ctx, ev.ID); err != nil {
		i.logger.Error().Err(err).Str("download_id", ev.ID).Msg("Race cancel failed, attempting pause")
		if pauseErr := i.downloads.Pause(ctx, ev.ID); pauseErr != nil {
			i.logger.Error().Err(pauseErr).Str("download_id", ev.ID).Msg("Race pause failed, download is running unscanned")
		}
	}
}

// handleRemoved drops the pending record when the host forgets the download,
// except when the removal is fallout from our own race cancellation.
func (i *Interceptor) handleRemoved(id string) {
	i.mu.Lock()
	pd, exists := i.pending[id]
	if !exists || pd.RaceCancelled {
		i.mu.Unlock()
		return
	}
	delete(i.pending, id)
	delete(i.deciders, id)
	i.mu.Unlock()

	pd.Token.Invalidate()
	i.record(pd, pd.State.String(), models.StateTerminal.String(), string(models.TerminalCancelled))
	i.logger.Info().Str("download_id", id).Msg("Download removed by host, dropping pending record")
}

// handleChanged watches for the user cancelling in the host UI while a scan
// is still in flight.
func (i *Interceptor) handleChanged(delta host.DownloadDelta) {
	if delta.State != "interrupted" && delta.State != "cancelled" {
		return
	}

	i.mu.Lock()
	pd, exists := i.pending[delta.ID]
	if !exists || pd.Decided() || pd.RaceCancelled {
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	i.logger.Info().Str("download_id", delta.ID).Str("state", delta.State).Msg("Download interrupted while pending")
	i.finalize(pd, models.TerminalCancelled)
}

// runScan submits the scan and routes the classified outcome.
func (i *Interceptor) runScan(ctx context.Context, pd *models.PendingDownload) {
	if err := i.transition(pd, models.StateScanning, ""); err != nil {
		// The post-creation safety net may have advanced the record first;
		// the scan still has to run for it.
		if !i.inState(pd, models.StateAwaitingApproval) {
			return
		}
	}

	verdict, err := i.scans.Submit(ctx, models.ScanKindDownload, pd.ResolvedURL, pd.FileName)
	switch {
	case err != nil && errors.Is(err, errorwrapper.ErrScanUnavailable):
		// The scan service is unreachable: fail open without bothering the
		// user, restarting if the race already cancelled the download.
		i.logger.Warn().Str("download_id", pd.ID).Msg("Scan unavailable, failing open")
		i.release(ctx, pd)
		return
	case err != nil && errors.Is(err, errorwrapper.ErrAuthRequired):
		// The credential was rejected mid-flight: fail closed.
		i.logger.Warn().Str("download_id", pd.ID).Msg("Credential rejected, failing closed")
		i.block(ctx, pd)
		i.showLoginNotice(ctx)
		return
	case err != nil:
		verdict = models.Verdict{Status: models.VerdictError}
	}

	i.mu.Lock()
	pd.Verdict = &verdict
	raced := pd.RaceCancelled
	tokenLive := pd.Token.Live()
	i.mu.Unlock()

	i.publishScanComplete(pd, verdict)

	if verdict.Status == models.VerdictClean && !raced && tokenLive {
		i.logger.Info().Str("download_id", pd.ID).Msg("Clean verdict with live token, auto-allowing")
		i.release(ctx, pd)
		return
	}

	i.promptFor(ctx, pd, verdict)
}

// promptFor moves the record to AwaitingApproval and presents the prompt.
// If the prompt cannot be created, the default policy applies: block when
// the verdict is Infected, allow otherwise.
func (i *Interceptor) promptFor(ctx context.Context, pd *models.PendingDownload, verdict models.Verdict) {
	if err := i.transition(pd, models.StateAwaitingApproval, string(verdict.Status)); err != nil {
		// The race safety net already advanced the record; prompt anyway.
		if !i.inState(pd, models.StateAwaitingApproval) {
			return
		}
	}

	if err := i.prompter.PromptDownload(ctx, pd); err != nil {
		i.logger.Error().Err(err).Str("download_id", pd.ID).Msg("Prompt creation failed, applying default policy")
		if verdict.Status == models.VerdictInfected {
			i.block(ctx, pd)
		} else {
			i.release(ctx, pd)
		}
	}
}

// ResolveDecision applies a user decision to a pending download. Duplicate
// or stale decisions are ignored.
func (i *Interceptor) ResolveDecision(ctx context.Context, downloadID string, allow bool) {
	i.mu.Lock()
	pd, exists := i.pending[downloadID]
	i.mu.Unlock()

	if !exists || pd.Decided() {
		i.logger.Debug().Str("download_id", downloadID).Msg("Decision for unknown or decided download, ignoring")
		return
	}

	if allow {
		i.release(ctx, pd)
	} else {
		i.block(ctx, pd)
	}
}

// release completes an allow through the releaser: live token when the host
// is still waiting, permit plus restart when it is not.
func (i *Interceptor) release(ctx context.Context, pd *models.PendingDownload) {
	if err := i.transition(pd, models.StateReinitiating, ""); err != nil {
		return
	}

	if err := i.releaser.Allow(ctx, pd); err != nil {
		i.logger.Error().Err(err).Str("download_id", pd.ID).Msg("Failed to release download")
		i.notifyReleaseFailure(ctx, pd)
		i.finalize(pd, models.TerminalCancelled)
		return
	}
	i.finalize(pd, models.TerminalApproved)
}

// notifyReleaseFailure surfaces a single notice for an approved download the
// host refused to restart. There is no retry.
func (i *Interceptor) notifyReleaseFailure(ctx context.Context, pd *models.PendingDownload) {
	if i.notices != nil {
		_, err := i.notices.Create(ctx, host.Notification{
			Title:    "Download could not be restarted",
			Message:  fmt.Sprintf("%s was approved but the download could not be reissued.", urlhandler.SanitizeFileName(pd.FileName)),
			Severity: "error",
		})
		if err != nil {
			i.logger.Warn().Err(err).Str("download_id", pd.ID).Msg("Failed to show restart failure notice")
		}
	}
	if i.alerts != nil {
		i.alerts.ReinitiationFailure(ctx, pd.ID, pd.ResolvedURL)
	}
}

// block denies the download: the pending decide callback is cancelled if the
// host is still waiting, and raced remnants are erased.
func (i *Interceptor) block(ctx context.Context, pd *models.PendingDownload) {
	i.mu.Lock()
	d := i.deciders[pd.ID]
	raced := pd.RaceCancelled
	i.mu.Unlock()

	pd.Token.Invalidate()
	if d != nil {
		d.cancel()
	}
	if raced {
		if err := i.downloads.Erase(ctx, pd.ID); err != nil {
			i.logger.Warn().Err(err).Str("download_id", pd.ID).Msg("Failed to erase cancelled download")
		}
	}

	i.finalize(pd, models.TerminalBlocked)
}

// finalize moves the record to its terminal state and drops it.
func (i *Interceptor) finalize(pd *models.PendingDownload, reason models.TerminalReason) {
	i.mu.Lock()
	if pd.State == models.StateTerminal {
		i.mu.Unlock()
		return
	}
	from := pd.State
	pd.State = models.StateTerminal
	pd.Terminal = reason
	delete(i.pending, pd.ID)
	delete(i.deciders, pd.ID)
	i.mu.Unlock()

	i.record(pd, from.String(), models.StateTerminal.String(), string(reason))
	i.logger.Info().
		Str("download_id", pd.ID).
		Str("reason", string(reason)).
		Msg("Download reached terminal state")
}

// transition advances the state machine one step, journaling before any side
// effect. Backward or repeated transitions are rejected.
func (i *Interceptor) transition(pd *models.PendingDownload, to models.DownloadState, verdict string) error {
	i.mu.Lock()
	if pd.State >= to || pd.State == models.StateTerminal {
		from := pd.State
		i.mu.Unlock()
		return errorwrapper.WrapError(errorwrapper.ErrInvalidTransition,
			fmt.Sprintf("download %s: %s -> %s", pd.ID, from, to))
	}
	from := pd.State
	pd.State = to
	i.mu.Unlock()

	i.record(pd, from.String(), to.String(), verdict)
	return nil
}

func (i *Interceptor) inState(pd *models.PendingDownload, s models.DownloadState) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return pd.State == s
}

func (i *Interceptor) record(pd *models.PendingDownload, from, to, verdict string) {
	if i.journal == nil {
		return
	}
	if err := i.journal.RecordTransition(pd.ID, pd.ResolvedURL, from, to, verdict); err != nil {
		i.logger.Error().Err(err).Str("download_id", pd.ID).Msg("Failed to journal transition")
	}
}

func (i *Interceptor) consumePermit(targetURL string) (models.ReinitiationPermit, bool) {
	if i.permits == nil {
		return models.ReinitiationPermit{}, false
	}
	normalized, err := urlhandler.NormalizeURL(targetURL)
	if err != nil {
		return models.ReinitiationPermit{}, false
	}
	return i.permits.Consume(normalized)
}

func (i *Interceptor) isIntermediate(ev host.DownloadEvent, targetURL string) bool {
	if ev.MIMEType != "" {
		if _, ok := i.intermediateMIMEs[strings.ToLower(ev.MIMEType)]; ok {
			return true
		}
	}
	name := ev.FileName
	if name == "" {
		name = urlhandler.FileNameFromURL(targetURL)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	_, ok := i.intermediateExts[ext]
	return ok
}

func (i *Interceptor) showLoginNotice(ctx context.Context) {
	if i.notices == nil {
		return
	}
	i.loginNoticeOnce.Do(func() {
		_, err := i.notices.Create(ctx, host.Notification{
			Title:    "Download scanning inactive",
			Message:  "Sign in to enable malware scanning for downloads.",
			Severity: "info",
		})
		if err != nil {
			i.logger.Warn().Err(err).Msg("Failed to show login notice")
		}
	})
}

func (i *Interceptor) publishScanComplete(pd *models.PendingDownload, verdict models.Verdict) {
	if i.events == nil {
		return
	}
	threatLevel := ""
	if len(verdict.Threats) > 0 {
		threatLevel = verdict.Threats[0]
	}
	i.events.Publish(models.NewAgentEvent(models.EventScanComplete, models.ScanCompletePayload{
		URL:         pd.ResolvedURL,
		Result:      string(verdict.Status),
		ThreatLevel: threatLevel,
	}))
}
