// Package navguard watches committed navigations, auto-scans newly visited
// pages and parks navigations to known-unsafe URLs on a placeholder page
// until the user decides.
package navguard

import (
	"context"
	"strings"
	"sync"
	"time"

	"websentry/internal/cache"
	"websentry/internal/config"
	"websentry/internal/host"
	"websentry/internal/models"
	"websentry/internal/urlhandler"

	"github.com/rs/zerolog"
)

// PageScanner submits page scans.
type PageScanner interface {
	Submit(ctx context.Context, kind models.ScanKind, targetURL, fileName string) (models.Verdict, error)
}

// LogFeed reads the remote service's log feed, which doubles as the
// completion channel for asynchronous page scans.
type LogFeed interface {
	Logs(ctx context.Context, logType string) ([]models.LogEntry, error)
}

// Prompter presents and withdraws navigation block prompts.
type Prompter interface {
	PromptNavigation(ctx context.Context, block models.PendingNavigationBlock) error
	CancelNavigation(ctx context.Context, tabID string)
}

// Alerter forwards confirmed threats to an external channel. May be nil.
type Alerter interface {
	ThreatDetected(ctx context.Context, url string, severity models.ThreatLevel)
}

// EventSink receives lifecycle events for the UI surfaces. May be nil.
type EventSink interface {
	Publish(event models.AgentEvent)
}

// Guard is the navigation protection pipeline.
type Guard struct {
	cfg        config.NavigationConfig
	tabs       host.TabControl
	navigation host.NavigationObserver
	scans      PageScanner
	feed       LogFeed
	prompter   Prompter
	alerts     Alerter
	events     EventSink
	enabled    func() bool
	scanOrigin string
	logger     zerolog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration

	unsafe    *cache.ExpiringCache[string, models.UnsafeURLEntry]
	autoScans *cache.ExpiringCache[string, models.AutoScanRecord]
	notified  *cache.ExpiringCache[string, struct{}]
	bypass    *cache.ExpiringCache[string, string]

	mu     sync.Mutex
	blocks map[string]models.PendingNavigationBlock
}

// NewGuard creates the navigation guard. scanOrigin is the scan service's own
// base URL, which is never scanned or blocked.
func NewGuard(
	cfg config.NavigationConfig,
	tabs host.TabControl,
	navigation host.NavigationObserver,
	scans PageScanner,
	feed LogFeed,
	enabled func() bool,
	scanOrigin string,
	logger zerolog.Logger,
) *Guard {
	unsafeTTL := time.Duration(cfg.UnsafeURLTTLMinutes) * time.Minute
	return &Guard{
		cfg:          cfg,
		tabs:         tabs,
		navigation:   navigation,
		scans:        scans,
		feed:         feed,
		enabled:      enabled,
		scanOrigin:   strings.TrimRight(scanOrigin, "/"),
		logger:       logger.With().Str("component", "NavigationGuard").Logger(),
		pollInterval: time.Duration(cfg.LogPollIntervalSecs) * time.Second,
		pollTimeout:  time.Duration(cfg.LogPollTimeoutSecs) * time.Second,
		unsafe:       cache.New[string, models.UnsafeURLEntry]("unsafe-urls", unsafeTTL),
		autoScans:    cache.New[string, models.AutoScanRecord]("auto-scans", time.Duration(cfg.AutoScanPendingTTLSecs)*time.Second),
		notified:     cache.New[string, struct{}]("notified-results", time.Duration(cfg.NotifyDedupeMinutes)*time.Minute),
		bypass:       cache.New[string, string]("nav-bypass", time.Duration(cfg.NavBypassTTLSecs)*time.Second),
		blocks:       make(map[string]models.PendingNavigationBlock),
	}
}

// SetPrompter wires the approval surface. Must be set before Attach.
func (g *Guard) SetPrompter(p Prompter) { g.prompter = p }

// SetAlerter wires the optional external threat channel.
func (g *Guard) SetAlerter(a Alerter) { g.alerts = a }

// SetEventSink wires the optional event broadcast.
func (g *Guard) SetEventSink(s EventSink) { g.events = s }

// Attach registers the navigation hook on the host.
func (g *Guard) Attach() {
	g.navigation.OnCommitted(g.handleCommitted)
}

// Sweepers exposes the guard's expiring stores to the janitor.
func (g *Guard) Sweepers() []cache.Sweeper {
	return []cache.Sweeper{g.unsafe, g.autoScans, g.notified, g.bypass}
}

// MarkUnsafe records a URL as unsafe. Exported for verdict routing from
// outside the auto-scan path (e.g. an explicit page scan from the UI).
func (g *Guard) MarkUnsafe(rawURL string, entry models.UnsafeURLEntry) {
	normalized, err := urlhandler.NormalizeURL(rawURL)
	if err != nil {
		return
	}
	entry.InsertedAt = time.Now()
	g.unsafe.Set(normalized, entry)
}

// Unsafe reports whether a URL currently has a live unsafe entry.
func (g *Guard) Unsafe(rawURL string) (models.UnsafeURLEntry, bool) {
	normalized, err := urlhandler.NormalizeURL(rawURL)
	if err != nil {
		return models.UnsafeURLEntry{}, false
	}
	return g.unsafe.Get(normalized)
}

// PendingBlocks snapshots the navigations currently parked on the
// placeholder, for the status surface and the janitor.
func (g *Guard) PendingBlocks() []models.PendingNavigationBlock {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.PendingNavigationBlock, 0, len(g.blocks))
	for _, b := range g.blocks {
		out = append(out, b)
	}
	return out
}

func (g *Guard) handleCommitted(ev host.NavigationEvent) {
	if !g.enabled() {
		return
	}
	if g.exempt(ev.URL) {
		return
	}

	normalized, err := urlhandler.NormalizeURL(ev.URL)
	if err != nil {
		return
	}

	// A tab-scoped bypass lets exactly one committed navigation through.
	if target, ok := g.bypass.Consume(ev.TabID); ok && target == normalized {
		g.logger.Info().Str("tab_id", ev.TabID).Str("url", normalized).Msg("Bypass consumed, navigation allowed")
		return
	}

	ctx := context.Background()
	if entry, ok := g.unsafe.Get(normalized); ok {
		g.blockNavigation(ctx, ev.TabID, normalized, entry.Severity())
		return
	}

	if g.cfg.AutoScanEnabled {
		g.maybeAutoScan(ctx, ev.TabID, normalized)
	}
}

// exempt filters URLs the guard never touches: non-HTTP schemes, the
// placeholder itself, host-internal pages and the scan service.
func (g *Guard) exempt(rawURL string) bool {
	if !urlhandler.IsHTTPURL(rawURL) {
		return true
	}
	if g.cfg.PlaceholderURL != "" && strings.HasPrefix(rawURL, g.cfg.PlaceholderURL) {
		return true
	}
	for _, prefix := range g.cfg.InternalURLPrefixes {
		if strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	if g.scanOrigin != "" && strings.HasPrefix(rawURL, g.scanOrigin) {
		return true
	}
	return false
}

// blockNavigation parks the tab on the placeholder and prompts. A tab with a
// live block is not re-parked.
func (g *Guard) blockNavigation(ctx context.Context, tabID, normalized string, severity models.ThreatLevel) {
	block := models.PendingNavigationBlock{
		TabID:     tabID,
		URL:       normalized,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	g.mu.Lock()
	if _, exists := g.blocks[tabID]; exists {
		g.mu.Unlock()
		return
	}
	g.blocks[tabID] = block
	g.mu.Unlock()

	g.logger.Warn().
		Str("tab_id", tabID).
		Str("url", normalized).
		Str("severity", string(severity)).
		Msg("Navigation to unsafe URL blocked")

	if err := g.tabs.Update(ctx, tabID, g.cfg.PlaceholderURL); err != nil {
		g.logger.Error().Err(err).Str("tab_id", tabID).Msg("Failed to park tab on placeholder")
	}
	if err := g.prompter.PromptNavigation(ctx, block); err != nil {
		// Navigation prompts fail closed: the tab stays parked.
		g.logger.Error().Err(err).Str("tab_id", tabID).Msg("Failed to present navigation prompt, tab stays parked")
	}
}

// ResolveNavigation applies the user's decision for a parked tab. Duplicate
// decisions are ignored.
func (g *Guard) ResolveNavigation(ctx context.Context, tabID string, allow bool) {
	g.mu.Lock()
	block, exists := g.blocks[tabID]
	if exists {
		delete(g.blocks, tabID)
	}
	g.mu.Unlock()

	if !exists {
		g.logger.Debug().Str("tab_id", tabID).Msg("Decision for unknown navigation block, ignoring")
		return
	}

	if !allow {
		g.logger.Info().Str("tab_id", tabID).Str("url", block.URL).Msg("Navigation denied, tab stays on placeholder")
		return
	}

	// One-shot bypass: the unsafe entry stays live, only this navigation
	// passes through.
	g.bypass.Set(tabID, block.URL)
	if err := g.tabs.Update(ctx, tabID, block.URL); err != nil {
		g.logger.Error().Err(err).Str("tab_id", tabID).Msg("Failed to resume blocked navigation")
		g.bypass.Delete(tabID)
	}
}

// ReconcileBlocks drops blocks whose tab disappeared or moved on. Called by
// the janitor.
func (g *Guard) ReconcileBlocks(ctx context.Context) int {
	tabs, err := g.tabs.Query(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to query tabs during reconciliation")
		return 0
	}
	live := make(map[string]string, len(tabs))
	for _, tab := range tabs {
		live[tab.ID] = tab.URL
	}

	g.mu.Lock()
	stale := make([]string, 0)
	for tabID := range g.blocks {
		url, exists := live[tabID]
		if !exists || (url != "" && g.cfg.PlaceholderURL != "" && !strings.HasPrefix(url, g.cfg.PlaceholderURL)) {
			stale = append(stale, tabID)
			delete(g.blocks, tabID)
		}
	}
	g.mu.Unlock()

	for _, tabID := range stale {
		if g.prompter != nil {
			g.prompter.CancelNavigation(ctx, tabID)
		}
	}
	if len(stale) > 0 {
		g.logger.Info().Int("removed", len(stale)).Msg("Reconciled stale navigation blocks")
	}
	return len(stale)
}

// maybeAutoScan submits a page scan unless one is already pending or
// recently done for this URL.
func (g *Guard) maybeAutoScan(ctx context.Context, tabID, normalized string) {
	if _, ok := g.autoScans.Get(normalized); ok {
		return
	}
	g.autoScans.SetTTL(normalized, models.AutoScanRecord{
		Status:     models.AutoScanPending,
		TabID:      tabID,
		InsertedAt: time.Now(),
	}, time.Duration(g.cfg.AutoScanPendingTTLSecs)*time.Second)

	go g.runAutoScan(ctx, tabID, normalized)
}

// runAutoScan submits the page scan and waits for its result on the log
// feed. Scan failures are silent: navigation is never blocked on scanner
// availability.
func (g *Guard) runAutoScan(ctx context.Context, tabID, normalized string) {
	verdict, err := g.scans.Submit(ctx, models.ScanKindPage, normalized, "")
	if err != nil {
		g.logger.Debug().Err(err).Str("url", normalized).Msg("Auto-scan submission failed, ignoring")
		g.autoScans.Delete(normalized)
		return
	}

	g.autoScans.SetTTL(normalized, models.AutoScanRecord{
		Status:     models.AutoScanDone,
		TabID:      tabID,
		ScanID:     verdict.ScanID,
		InsertedAt: time.Now(),
	}, time.Duration(g.cfg.AutoScanActiveTTLSecs)*time.Second)

	switch verdict.Status {
	case models.VerdictInfected:
		g.handleThreat(ctx, tabID, normalized, entryFromThreats(verdict.Threats))
	case models.VerdictClean:
		g.publishResult(normalized, string(models.VerdictClean), "")
	default:
		// The service answered but deferred the result to its log feed.
		g.pollForResult(ctx, tabID, normalized)
	}
}

// pollForResult watches the log feed for this URL's entry until the poll
// timeout lapses.
func (g *Guard) pollForResult(ctx context.Context, tabID, normalized string) {
	deadline := time.Now().Add(g.pollTimeout)
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			g.logger.Debug().Str("url", normalized).Msg("Auto-scan result never appeared in log feed")
			return
		}

		entries, err := g.feed.Logs(ctx, "page")
		if err != nil {
			continue
		}
		for _, entry := range entries {
			entryURL, normErr := urlhandler.NormalizeURL(entry.Source)
			if normErr != nil || entryURL != normalized {
				continue
			}
			if isUnsafeResult(entry) {
				g.handleThreat(ctx, tabID, normalized, entryFromLog(entry))
			} else {
				g.publishResult(normalized, entry.Result, entry.ThreatLevel)
			}
			return
		}
	}
}

// handleThreat records the unsafe URL, notifies once per dedupe window and
// blocks the tab if it is still sitting on the flagged page.
func (g *Guard) handleThreat(ctx context.Context, tabID, normalized string, entry models.UnsafeURLEntry) {
	entry.InsertedAt = time.Now()
	g.unsafe.Set(normalized, entry)
	severity := entry.Severity()

	if _, seen := g.notified.Get(normalized); !seen {
		g.notified.Set(normalized, struct{}{})
		if g.alerts != nil {
			g.alerts.ThreatDetected(ctx, normalized, severity)
		}
		g.publishResult(normalized, string(models.VerdictInfected), string(severity))
	}

	if current, ok := g.tabURL(ctx, tabID); ok {
		if currentNorm, err := urlhandler.NormalizeURL(current); err == nil && currentNorm == normalized {
			g.blockNavigation(ctx, tabID, normalized, severity)
		}
	}
}

func (g *Guard) tabURL(ctx context.Context, tabID string) (string, bool) {
	tabs, err := g.tabs.Query(ctx)
	if err != nil {
		return "", false
	}
	for _, tab := range tabs {
		if tab.ID == tabID {
			return tab.URL, true
		}
	}
	return "", false
}

func (g *Guard) publishResult(url, result, threatLevel string) {
	if g.events == nil {
		return
	}
	g.events.Publish(models.NewAgentEvent(models.EventScanComplete, models.ScanCompletePayload{
		URL:         url,
		Result:      result,
		ThreatLevel: threatLevel,
	}))
}

func isUnsafeResult(entry models.LogEntry) bool {
	switch strings.ToLower(entry.Result) {
	case "infected", "malicious", "unsafe":
		return true
	}
	switch strings.ToLower(entry.ThreatLevel) {
	case string(models.ThreatLevelCritical), string(models.ThreatLevelHigh), string(models.ThreatLevelMedium):
		return true
	}
	return false
}

func entryFromLog(entry models.LogEntry) models.UnsafeURLEntry {
	e := models.UnsafeURLEntry{ThreatLevel: models.ThreatLevel(strings.ToLower(entry.ThreatLevel))}
	switch e.ThreatLevel {
	case models.ThreatLevelCritical:
		e.CriticalCount = 1
	case models.ThreatLevelHigh:
		e.HighCount = 1
	}
	return e
}

func entryFromThreats(threats []string) models.UnsafeURLEntry {
	return models.UnsafeURLEntry{
		CriticalCount: len(threats),
		ThreatLevel:   models.ThreatLevelCritical,
	}
}
