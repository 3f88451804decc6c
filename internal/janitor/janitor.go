// Package janitor runs the periodic sweep: expired cache entries, stale
// journal rows and navigation blocks whose tabs are gone.
package janitor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"websentry/internal/cache"
	"websentry/internal/config"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Reconciler is a component with live state to check against the host on
// every sweep, beyond plain TTL expiry.
type Reconciler interface {
	Reconcile(ctx context.Context) int
}

// JournalPruner removes aged transition rows.
type JournalPruner interface {
	Prune(olderThan time.Duration) (int64, error)
}

// Janitor owns the sweep loop. All registered stores are swept on one
// schedule so expiry skew stays bounded by the interval.
type Janitor struct {
	interval    time.Duration
	retention   time.Duration
	sweepers    []cache.Sweeper
	reconcilers []Reconciler
	journal     JournalPruner
	logger      zerolog.Logger

	proc *process.Process

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewJanitor creates the janitor. journal may be nil.
func NewJanitor(cfg config.JanitorConfig, journal JournalPruner, logger zerolog.Logger) *Janitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &Janitor{
		interval:  time.Duration(cfg.SweepIntervalSecs) * time.Second,
		retention: time.Duration(cfg.JournalRetentionHours) * time.Hour,
		journal:   journal,
		logger:    logger.With().Str("component", "Janitor").Logger(),
		proc:      proc,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Register adds expiring stores to the sweep. Not safe after Start.
func (j *Janitor) Register(sweepers ...cache.Sweeper) {
	j.sweepers = append(j.sweepers, sweepers...)
}

// RegisterReconciler adds a reconciler to the sweep. Not safe after Start.
func (j *Janitor) RegisterReconciler(reconcilers ...Reconciler) {
	j.reconcilers = append(j.reconcilers, reconcilers...)
}

// Start launches the sweep loop.
func (j *Janitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs one full pass. Failures are logged and never abort the
// remaining steps.
func (j *Janitor) sweepOnce(ctx context.Context) {
	start := time.Now()
	expired := 0
	for _, sweeper := range j.sweepers {
		if removed := sweeper.Sweep(); removed > 0 {
			expired += removed
			j.logger.Debug().Str("store", sweeper.Name()).Int("removed", removed).Msg("Swept expired entries")
		}
	}

	reconciled := 0
	for _, reconciler := range j.reconcilers {
		reconciled += reconciler.Reconcile(ctx)
	}

	var pruned int64
	if j.journal != nil {
		var err error
		pruned, err = j.journal.Prune(j.retention)
		if err != nil {
			j.logger.Warn().Err(err).Msg("Journal prune failed")
		}
	}

	event := j.logger.Debug().
		Int("expired", expired).
		Int("reconciled", reconciled).
		Int64("pruned", pruned).
		Dur("elapsed", time.Since(start)).
		Int("goroutines", runtime.NumGoroutine())
	if j.proc != nil {
		if memInfo, err := j.proc.MemoryInfo(); err == nil {
			event = event.Uint64("rss_bytes", memInfo.RSS)
		}
	}
	event.Msg("Sweep complete")
}
