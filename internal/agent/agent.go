// Package agent assembles the protection pipeline: it wires the host
// capability surface into the interceptor, navigation guard, approval gate,
// scan coordinator and supporting stores, and owns the global protection
// state.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"websentry/internal/api"
	"websentry/internal/approval"
	"websentry/internal/cache"
	"websentry/internal/config"
	"websentry/internal/credentials"
	"websentry/internal/datastore"
	"websentry/internal/errorwrapper"
	"websentry/internal/host"
	"websentry/internal/interceptor"
	"websentry/internal/janitor"
	"websentry/internal/models"
	"websentry/internal/navguard"
	"websentry/internal/notifier"
	"websentry/internal/reinitiate"
	"websentry/internal/scanclient"
	"websentry/internal/scanner"
	"websentry/internal/urlhandler"

	"github.com/rs/zerolog"
)

const protectionKey = "protection.enabled"

// Agent is the assembled protection pipeline.
type Agent struct {
	cfg    *config.GlobalConfig
	caps   host.Capabilities
	logger zerolog.Logger

	creds       *credentials.Store
	scanClient  *scanclient.Client
	coordinator *scanner.Coordinator
	interceptor *interceptor.Interceptor
	guard       *navguard.Guard
	reinit      *reinitiate.Manager
	gate        *approval.Gate
	janitor     *janitor.Janitor
	webhook     *notifier.WebhookNotifier
	journal     *datastore.Journal
	history     *datastore.VerdictHistoryStore
	hub         *api.Hub
	apiServer   *api.Server
	permits     *cache.ExpiringCache[string, models.ReinitiationPermit]

	mu        sync.Mutex
	protected bool

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewAgent builds and wires every component. Nothing starts running until
// Start is called.
func NewAgent(cfg *config.GlobalConfig, caps host.Capabilities, logger zerolog.Logger) (*Agent, error) {
	agentLogger := logger.With().Str("component", "Agent").Logger()

	a := &Agent{
		cfg:       cfg,
		caps:      caps,
		logger:    agentLogger,
		protected: true,
	}

	a.creds = credentials.NewStore(caps.Storage, logger)

	var err error
	a.scanClient, err = scanclient.NewClient(cfg.ScannerConfig, a.creds, logger)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to build scan client")
	}

	a.journal, err = datastore.NewJournal(cfg.StorageConfig.SQLiteDBPath, logger)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to open transition journal")
	}

	a.history, err = datastore.NewVerdictHistoryStore(&cfg.StorageConfig, logger)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to open verdict history")
	}

	a.webhook, err = notifier.NewWebhookNotifier(cfg.NotificationConfig, logger)
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to build webhook notifier")
	}

	a.coordinator = scanner.NewCoordinator(cfg.ScannerConfig, a.scanClient, a.creds, a.history, logger)

	a.permits = cache.New[string, models.ReinitiationPermit](
		"reinit-permits", time.Duration(cfg.InterceptorConfig.PermitTTLSecs)*time.Second)

	a.interceptor = interceptor.NewInterceptor(
		cfg.InterceptorConfig,
		caps.Downloads,
		caps.Notifications,
		a.coordinator,
		a.creds,
		a.journal,
		a.permits,
		a.ProtectionEnabled,
		logger,
	)

	a.reinit = reinitiate.NewManager(cfg.InterceptorConfig, caps.Downloads, a.permits, logger)
	a.interceptor.SetReleaser(a.reinit)
	a.interceptor.SetFailureAlerter(a.webhook)

	a.guard = navguard.NewGuard(
		cfg.NavigationConfig,
		caps.Tabs,
		caps.Navigation,
		a.coordinator,
		a.scanClient,
		a.ProtectionEnabled,
		a.scanClient.Origin(),
		logger,
	)
	a.guard.SetAlerter(a.webhook)

	a.gate = approval.NewGate(caps.Notifications, logger)
	a.gate.OnDecision(a.routeDecision)
	a.interceptor.SetPrompter(&downloadPrompter{gate: a.gate})
	a.guard.SetPrompter(&navigationPrompter{gate: a.gate})

	a.hub = api.NewHub(logger)
	a.interceptor.SetEventSink(a.hub)
	a.guard.SetEventSink(a.hub)
	a.apiServer = api.NewServer(cfg.APIConfig, a, a.scanClient, a.history, a.hub, logger)

	a.janitor = janitor.NewJanitor(cfg.JanitorConfig, a.journal, logger)
	a.janitor.Register(a.permits)
	a.janitor.Register(a.guard.Sweepers()...)
	a.janitor.RegisterReconciler(reconcilerFunc(a.guard.ReconcileBlocks))

	a.creds.OnChange(a.handleAuthChange)
	caps.Storage.OnChanged(a.handleStorageChange)

	return a, nil
}

// Start restores persisted state, attaches host hooks and launches the
// background loops.
func (a *Agent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.restoreProtectionState(runCtx)
	a.reportJournalRemnants()

	a.interceptor.Attach()
	a.guard.Attach()
	a.janitor.Start(runCtx)

	if a.cfg.APIConfig.Enabled {
		go func() {
			if err := a.apiServer.Start(runCtx); err != nil {
				a.logger.Error().Err(err).Msg("Control API stopped with error")
			}
		}()
	}

	a.logger.Info().
		Bool("protection", a.ProtectionEnabled()).
		Bool("authenticated", a.creds.Authenticated(runCtx)).
		Msg("Agent started")
	return nil
}

// Stop shuts the background loops down. Host hooks stay registered; the
// embedding host tears those down with the process.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.janitor.Stop()
		if err := a.apiServer.Shutdown(); err != nil {
			a.logger.Warn().Err(err).Msg("Control API shutdown failed")
		}
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Journal close failed")
		}
		a.logger.Info().Msg("Agent stopped")
	})
}

// ProtectionEnabled reports the global protection switch.
func (a *Agent) ProtectionEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.protected
}

// State implements api.StateProvider.
func (a *Agent) State(ctx context.Context) api.StateSnapshot {
	return api.StateSnapshot{
		ProtectionEnabled:  a.ProtectionEnabled(),
		Authenticated:      a.creds.Authenticated(ctx),
		PendingDownloads:   len(a.interceptor.Pending()),
		PendingNavigations: len(a.guard.PendingBlocks()),
	}
}

// SetProtectionEnabled implements api.StateProvider. The switch is persisted
// so it survives restarts.
func (a *Agent) SetProtectionEnabled(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	changed := a.protected != enabled
	a.protected = enabled
	a.mu.Unlock()

	if !changed {
		return nil
	}

	if err := a.caps.Storage.Set(ctx, protectionKey, fmt.Sprintf("%t", enabled)); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist protection state")
	}
	a.hub.Publish(models.NewAgentEvent(models.EventProtectionStateChanged, map[string]bool{
		"enabled": enabled,
	}))
	a.logger.Info().Bool("enabled", enabled).Msg("Protection state changed")
	return nil
}

func (a *Agent) restoreProtectionState(ctx context.Context) {
	value, exists, err := a.caps.Storage.Get(ctx, protectionKey)
	if err != nil || !exists {
		return
	}
	a.mu.Lock()
	a.protected = value != "false"
	a.mu.Unlock()
}

// reportJournalRemnants surfaces downloads the previous run left in a
// non-terminal state. The host has already discarded their in-memory records,
// so nothing can be resumed; the journal rows remain for diagnosis until the
// janitor prunes them.
func (a *Agent) reportJournalRemnants() {
	remnants, err := a.journal.NonTerminalRemnants(0)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to query journal for interrupted downloads")
		return
	}
	if len(remnants) > 0 {
		a.logger.Warn().
			Int("count", len(remnants)).
			Strs("download_ids", remnants).
			Msg("Previous session left downloads without a terminal state")
	}
}

// routeDecision dispatches consumed prompt responses to their owner.
func (a *Agent) routeDecision(ctx context.Context, corr approval.Correlation, decision approval.Decision) {
	allow := decision == approval.DecisionAllow
	switch corr.Kind {
	case approval.KindDownload:
		a.interceptor.ResolveDecision(ctx, corr.DownloadID, allow)
	case approval.KindNavigation:
		a.guard.ResolveNavigation(ctx, corr.TabID, allow)
	}
}

func (a *Agent) handleAuthChange(authenticated bool) {
	a.hub.Publish(models.NewAgentEvent(models.EventAuthChanged, map[string]bool{
		"authenticated": authenticated,
	}))
	if !authenticated {
		a.webhook.AuthFailure(context.Background())
	}
}

// handleStorageChange observes credential writes made directly by external
// surfaces (the login UI), which bypass the credential store's own methods.
func (a *Agent) handleStorageChange(key, oldValue, newValue string) {
	if key != credentials.TokenStorageKey || oldValue == newValue {
		return
	}
	a.hub.Publish(models.NewAgentEvent(models.EventAuthChanged, map[string]bool{
		"authenticated": newValue != "",
	}))
}

type reconcilerFunc func(ctx context.Context) int

func (f reconcilerFunc) Reconcile(ctx context.Context) int { return f(ctx) }

// downloadPrompter adapts the approval gate to the interceptor.
type downloadPrompter struct {
	gate *approval.Gate
}

func (p *downloadPrompter) PromptDownload(ctx context.Context, pd *models.PendingDownload) error {
	verdict := models.Verdict{Status: models.VerdictError}
	if pd.Verdict != nil {
		verdict = *pd.Verdict
	}
	corr := approval.Correlation{
		Kind:       approval.KindDownload,
		DownloadID: pd.ID,
		URL:        pd.ResolvedURL,
		Verdict:    verdict,
	}
	title, message := downloadPromptText(pd, verdict)
	return p.gate.Present(ctx, corr, title, message)
}

func downloadPromptText(pd *models.PendingDownload, verdict models.Verdict) (string, string) {
	name := urlhandler.SanitizeFileName(pd.FileName)
	switch verdict.Status {
	case models.VerdictInfected:
		return "Malicious download blocked",
			fmt.Sprintf("%s contains threats: %s. Download anyway?", name, strings.Join(verdict.Threats, ", "))
	case models.VerdictTimeout:
		return "Scan timed out",
			fmt.Sprintf("%s could not be scanned in time. Download anyway?", name)
	case models.VerdictClean:
		return "Download was interrupted for scanning",
			fmt.Sprintf("%s scanned clean. Resume the download?", name)
	default:
		return "Scan failed",
			fmt.Sprintf("%s could not be scanned. Download anyway?", name)
	}
}

// navigationPrompter adapts the approval gate to the navigation guard.
type navigationPrompter struct {
	gate *approval.Gate
}

func (p *navigationPrompter) PromptNavigation(ctx context.Context, block models.PendingNavigationBlock) error {
	corr := approval.Correlation{
		Kind:     approval.KindNavigation,
		TabID:    block.TabID,
		URL:      block.URL,
		Verdict:  models.Verdict{Status: models.VerdictInfected},
		Severity: string(block.Severity),
	}
	title := "Unsafe site blocked"
	message := fmt.Sprintf("%s was flagged as %s. Continue anyway?",
		urlhandler.HostnameOf(block.URL), block.Severity)
	return p.gate.Present(ctx, corr, title, message)
}

func (p *navigationPrompter) CancelNavigation(ctx context.Context, tabID string) {
	p.gate.Cancel(ctx, approval.Correlation{Kind: approval.KindNavigation, TabID: tabID})
}
