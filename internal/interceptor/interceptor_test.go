package interceptor

import (
	"context"
	"sync"
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

type fakeScans struct {
	mu      sync.Mutex
	verdict models.Verdict
	err     error
	calls   int
	release chan struct{} // when non-nil, Submit blocks until closed
}

func (f *fakeScans) Submit(ctx context.Context, kind models.ScanKind, targetURL, fileName string) (models.Verdict, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	verdict, err := f.verdict, f.err
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return verdict, err
}

func (f *fakeScans) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAuth struct{ authed bool }

func (f *fakeAuth) Authenticated(ctx context.Context) bool { return f.authed }

type fakePrompter struct {
	mu      sync.Mutex
	prompts []*models.PendingDownload
	err     error
}

func (f *fakePrompter) PromptDownload(ctx context.Context, pd *models.PendingDownload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.prompts = append(f.prompts, pd)
	return nil
}

func (f *fakePrompter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeReleaser struct {
	mu     sync.Mutex
	allows []*models.PendingDownload
	err    error
}

func (f *fakeReleaser) Allow(ctx context.Context, pd *models.PendingDownload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	// Mirror the real release path: consume the token when it is live.
	if fire, ok := pd.Token.Consume(); ok {
		fire(urlhandler.SanitizeFileName(pd.FileName))
	}
	f.allows = append(f.allows, pd)
	return nil
}

func (f *fakeReleaser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.allows)
}

type fakeFailureAlerts struct {
	mu       sync.Mutex
	failures []string
}

func (f *fakeFailureAlerts) ReinitiationFailure(ctx context.Context, downloadID, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, downloadID)
}

func (f *fakeFailureAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

// decisionRecorder captures what the pre-start decide callback received.
type decisionRecorder struct {
	mu        sync.Mutex
	decisions []host.PreStartDecision
}

func (r *decisionRecorder) decide(d host.PreStartDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *decisionRecorder) all() []host.PreStartDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]host.PreStartDecision{}, r.decisions...)
}

type fixture struct {
	interceptor *Interceptor
	mem         *host.MemHost
	scans       *fakeScans
	auth        *fakeAuth
	prompter    *fakePrompter
	releaser    *fakeReleaser
	alerts      *fakeFailureAlerts
	permits     *cache.ExpiringCache[string, models.ReinitiationPermit]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := host.NewMemHost()
	scans := &fakeScans{verdict: models.Verdict{Status: models.VerdictClean}}
	auth := &fakeAuth{authed: true}
	prompter := &fakePrompter{}
	releaser := &fakeReleaser{}
	alerts := &fakeFailureAlerts{}
	permits := cache.New[string, models.ReinitiationPermit]("reinit-permits", 5*time.Second)

	itc := NewInterceptor(
		config.NewDefaultInterceptorConfig(),
		mem.Downloads,
		mem.Notifications,
		scans,
		auth,
		nil,
		permits,
		func() bool { return true },
		zerolog.Nop(),
	)
	itc.SetPrompter(prompter)
	itc.SetReleaser(releaser)
	itc.SetFailureAlerter(alerts)
	itc.Attach()

	return &fixture{
		interceptor: itc,
		mem:         mem,
		scans:       scans,
		auth:        auth,
		prompter:    prompter,
		releaser:    releaser,
		alerts:      alerts,
		permits:     permits,
	}
}

func emit(f *fixture, id, url, fileName string) *decisionRecorder {
	rec := &decisionRecorder{}
	f.mem.Downloads.EmitPreStart(host.DownloadEvent{
		ID:       id,
		URL:      url,
		FinalURL: url,
		FileName: fileName,
	}, rec.decide)
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPreStartNonHTTPPromptsWithoutScan(t *testing.T) {
	f := newFixture(t)

	rec := emit(f, "dl-1", "blob:deadbeef-cafe", "payload.bin")

	waitFor(t, func() bool { return f.prompter.count() == 1 })
	assert.Zero(t, f.scans.callCount())
	require.Len(t, f.interceptor.Pending(), 1)
	assert.Equal(t, models.StateAwaitingApproval, f.interceptor.Pending()[0].State)

	f.interceptor.ResolveDecision(context.Background(), "dl-1", true)
	decisions := rec.all()
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Cancel)
	assert.Equal(t, "payload.bin", decisions[0].FileName)
	assert.Empty(t, f.interceptor.Pending())
}

func TestPreStartMalformedURLPromptBlocks(t *testing.T) {
	f := newFixture(t)

	rec := emit(f, "dl-1", "file:///tmp/x.bin", "x.bin")

	waitFor(t, func() bool { return f.prompter.count() == 1 })
	assert.Zero(t, f.scans.callCount())

	f.interceptor.ResolveDecision(context.Background(), "dl-1", false)
	decisions := rec.all()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Cancel)
	assert.Zero(t, f.releaser.count())
}

func TestPreStartIntermediateArtifactReleased(t *testing.T) {
	f := newFixture(t)

	rec := emit(f, "dl-1", "https://example.com/landing", "redirect.htm")

	require.Len(t, rec.all(), 1)
	assert.Zero(t, f.scans.callCount())
}

func TestPreStartUnauthenticatedReleasesWithSingleNotice(t *testing.T) {
	f := newFixture(t)
	f.auth.authed = false

	rec1 := emit(f, "dl-1", "https://example.com/a.exe", "a.exe")
	rec2 := emit(f, "dl-2", "https://example.com/b.exe", "b.exe")

	require.Len(t, rec1.all(), 1)
	require.Len(t, rec2.all(), 1)
	assert.Zero(t, f.scans.callCount())
	assert.Len(t, f.mem.Notifications.Created, 1, "login notice fires once")
}

func TestPreStartPermitConsumedOnce(t *testing.T) {
	f := newFixture(t)
	normalized, err := urlhandler.NormalizeURL("https://example.com/f.exe")
	require.NoError(t, err)
	f.permits.Set(normalized, models.ReinitiationPermit{
		DownloadID: "dl-original",
		URL:        normalized,
		FileName:   "f.exe",
	})

	rec := emit(f, "dl-2", "https://example.com/f.exe", "")
	decisions := rec.all()
	require.Len(t, decisions, 1)
	assert.Equal(t, "f.exe", decisions[0].FileName)
	assert.Zero(t, f.scans.callCount(), "permitted download skips the scan")

	// The permit is single-use; the same URL is intercepted next time.
	emit(f, "dl-3", "https://example.com/f.exe", "f.exe")
	waitFor(t, func() bool { return f.scans.callCount() == 1 })
}

func TestCleanVerdictWithLiveTokenAutoAllows(t *testing.T) {
	f := newFixture(t)

	rec := emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

	waitFor(t, func() bool { return f.releaser.count() == 1 })
	decisions := rec.all()
	require.Len(t, decisions, 1)
	assert.Equal(t, "f.exe", decisions[0].FileName)
	assert.False(t, decisions[0].Cancel)
	assert.Zero(t, f.prompter.count())
	assert.Empty(t, f.interceptor.Pending())
}

func TestInfectedVerdictPromptsAndDecisionAllows(t *testing.T) {
	f := newFixture(t)
	f.scans.verdict = models.Verdict{Status: models.VerdictInfected, Threats: []string{"Trojan.X"}}

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

	waitFor(t, func() bool { return f.prompter.count() == 1 })
	require.Len(t, f.interceptor.Pending(), 1)
	assert.Equal(t, models.StateAwaitingApproval, f.interceptor.Pending()[0].State)

	f.interceptor.ResolveDecision(context.Background(), "dl-1", true)
	assert.Equal(t, 1, f.releaser.count())
	assert.Empty(t, f.interceptor.Pending())

	// A duplicate decision is ignored.
	f.interceptor.ResolveDecision(context.Background(), "dl-1", false)
	assert.Equal(t, 1, f.releaser.count())
}

func TestInfectedVerdictBlockCancelsHostCallback(t *testing.T) {
	f := newFixture(t)
	f.scans.verdict = models.Verdict{Status: models.VerdictInfected}

	rec := emit(f, "dl-1", "https://example.com/f.exe", "f.exe")
	waitFor(t, func() bool { return f.prompter.count() == 1 })

	f.interceptor.ResolveDecision(context.Background(), "dl-1", false)

	decisions := rec.all()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Cancel)
	assert.Zero(t, f.releaser.count())
	assert.Empty(t, f.interceptor.Pending())
}

func TestRaceCancelHappensExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.scans.release = make(chan struct{})

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")
	waitFor(t, func() bool { return f.scans.callCount() == 1 })

	ev := host.DownloadEvent{ID: "dl-1", URL: "https://example.com/f.exe"}
	f.mem.Downloads.EmitPostCreate(ev)
	f.mem.Downloads.EmitPostCreate(ev)

	assert.Equal(t, []string{"dl-1"}, f.mem.Downloads.CancelledIDs)

	// The safety net itself moves the record to awaiting approval.
	require.Len(t, f.interceptor.Pending(), 1)
	assert.Equal(t, models.StateAwaitingApproval, f.interceptor.Pending()[0].State)

	// A clean verdict after the race must prompt, never auto-allow.
	close(f.scans.release)
	waitFor(t, func() bool { return f.prompter.count() == 1 })
	assert.Zero(t, f.releaser.count())
}

func TestRaceCancelFallsBackToPause(t *testing.T) {
	f := newFixture(t)
	f.scans.release = make(chan struct{})
	defer close(f.scans.release)
	f.mem.Downloads.FailCancel = true

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")
	waitFor(t, func() bool { return f.scans.callCount() == 1 })

	f.mem.Downloads.EmitPostCreate(host.DownloadEvent{ID: "dl-1"})
	assert.Equal(t, []string{"dl-1"}, f.mem.Downloads.PausedIDs)
}

func TestPostCreateIgnoresUnregisteredDownloads(t *testing.T) {
	f := newFixture(t)

	f.mem.Downloads.EmitPostCreate(host.DownloadEvent{ID: "dl-unknown"})
	assert.Empty(t, f.mem.Downloads.CancelledIDs)
}

func TestScanUnavailableFailsOpenSilently(t *testing.T) {
	f := newFixture(t)
	f.scans.err = errorwrapper.ErrScanUnavailable

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

	waitFor(t, func() bool { return f.releaser.count() == 1 })
	assert.Zero(t, f.prompter.count())
}

func TestAuthRejectionFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.scans.err = errorwrapper.ErrAuthRequired

	rec := emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

	waitFor(t, func() bool {
		decisions := rec.all()
		return len(decisions) == 1 && decisions[0].Cancel
	})
	assert.Zero(t, f.releaser.count())
	assert.Zero(t, f.prompter.count())
	assert.Empty(t, f.interceptor.Pending())

	// The fail-closed block surfaces the one-shot sign-in notice.
	waitFor(t, func() bool {
		_, ok := f.mem.Notifications.Last()
		return ok
	})

	// A second rejected download does not repeat the notice.
	rec2 := emit(f, "dl-2", "https://example.com/g.exe", "g.exe")
	waitFor(t, func() bool { return len(rec2.all()) == 1 })
	notice, _ := f.mem.Notifications.Last()
	assert.Equal(t, "notif-1", notice.ID)
}

func TestReleaseFailureSurfacesSingleNotice(t *testing.T) {
	f := newFixture(t)
	f.releaser.err = errorwrapper.ErrReinitiationFailed

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

	waitFor(t, func() bool { return f.alerts.count() == 1 })
	waitFor(t, func() bool {
		notice, ok := f.mem.Notifications.Last()
		return ok && notice.Severity == "error"
	})
	assert.Empty(t, f.interceptor.Pending())
	assert.Len(t, f.mem.Notifications.Created, 1)
}

func TestPromptFailureDefaultsByVerdict(t *testing.T) {
	t.Run("infected blocks", func(t *testing.T) {
		f := newFixture(t)
		f.scans.verdict = models.Verdict{Status: models.VerdictInfected}
		f.prompter.err = errorwrapper.ErrPromptFailed

		rec := emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

		waitFor(t, func() bool {
			decisions := rec.all()
			return len(decisions) == 1 && decisions[0].Cancel
		})
		assert.Zero(t, f.releaser.count())
	})

	t.Run("timeout allows", func(t *testing.T) {
		f := newFixture(t)
		f.scans.verdict = models.Verdict{Status: models.VerdictTimeout}
		f.prompter.err = errorwrapper.ErrPromptFailed

		emit(f, "dl-1", "https://example.com/f.exe", "f.exe")

		waitFor(t, func() bool { return f.releaser.count() == 1 })
	})
}

func TestInterruptedWhilePendingGoesCancelled(t *testing.T) {
	f := newFixture(t)
	f.scans.release = make(chan struct{})
	defer close(f.scans.release)

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")
	waitFor(t, func() bool { return f.scans.callCount() == 1 })

	f.mem.Downloads.EmitChanged(host.DownloadDelta{ID: "dl-1", State: "interrupted"})
	assert.Empty(t, f.interceptor.Pending())
}

func TestRemovedDropsPendingRecord(t *testing.T) {
	f := newFixture(t)
	f.scans.release = make(chan struct{})
	defer close(f.scans.release)

	emit(f, "dl-1", "https://example.com/f.exe", "f.exe")
	waitFor(t, func() bool { return f.scans.callCount() == 1 })

	f.mem.Downloads.EmitRemoved("dl-1")
	assert.Empty(t, f.interceptor.Pending())
}

func TestTokenConsumedAtMostOnce(t *testing.T) {
	rec := &decisionRecorder{}
	token := models.NewApprovalToken(func(name string) {
		rec.decide(host.PreStartDecision{FileName: name})
	})

	fire, ok := token.Consume()
	require.True(t, ok)
	fire("a.exe")

	_, ok = token.Consume()
	assert.False(t, ok)
	assert.Len(t, rec.all(), 1)
}
