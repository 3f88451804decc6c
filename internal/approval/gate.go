// Package approval renders user prompts for pending decisions and routes the
// user's response exactly once.
package approval

import (
	"context"
	"fmt"
	"sync"

	"websentry/internal/errorwrapper"
	"websentry/internal/host"
	"websentry/internal/models"

	"github.com/rs/zerolog"
)

// PromptKind distinguishes what a prompt correlates to.
type PromptKind string

const (
	KindDownload   PromptKind = "download"
	KindNavigation PromptKind = "navigation"
)

// Decision is the user's response to a prompt.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionBlock
)

// String returns string representation of Decision
func (d Decision) String() string {
	if d == DecisionAllow {
		return "allow"
	}
	return "block"
}

// Correlation ties a prompt handle back to the pending decision it belongs
// to. Routing a response is a single lookup, never a scan.
type Correlation struct {
	Kind       PromptKind
	DownloadID string
	TabID      string
	URL        string
	Verdict    models.Verdict
	// Severity carries a navigation block's derived threat level; download
	// prompts derive severity from the verdict instead.
	Severity string
}

func (c Correlation) targetKey() string {
	if c.Kind == KindNavigation {
		return fmt.Sprintf("%s:%s", c.Kind, c.TabID)
	}
	return fmt.Sprintf("%s:%s", c.Kind, c.DownloadID)
}

// DecisionHandler receives each consumed prompt response exactly once.
type DecisionHandler func(ctx context.Context, corr Correlation, decision Decision)

// Gate guarantees at most one live prompt per download or tab and processes
// each user response at most once.
type Gate struct {
	notifications host.NotificationService
	logger        zerolog.Logger

	mu       sync.Mutex
	prompts  map[string]Correlation // prompt id -> correlation
	byTarget map[string]string      // target key -> prompt id
	handler  DecisionHandler
}

// NewGate creates the gate and subscribes to notification responses.
func NewGate(notifications host.NotificationService, logger zerolog.Logger) *Gate {
	g := &Gate{
		notifications: notifications,
		logger:        logger.With().Str("component", "ApprovalGate").Logger(),
		prompts:       make(map[string]Correlation),
		byTarget:      make(map[string]string),
	}

	notifications.OnAction(func(notificationID string, buttonIndex int) {
		decision := DecisionBlock
		if buttonIndex == 0 {
			decision = DecisionAllow
		}
		g.resolve(notificationID, decision)
	})
	notifications.OnClick(func(notificationID string) {
		// A body click is not a decision; the prompt stays live.
		g.logger.Debug().Str("prompt_id", notificationID).Msg("Prompt clicked without decision")
	})

	return g
}

// OnDecision registers the handler receiving consumed responses.
func (g *Gate) OnDecision(handler DecisionHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

// Present shows a prompt for the given correlation. A second present for a
// target that already has a live prompt is dropped, not re-prompted.
func (g *Gate) Present(ctx context.Context, corr Correlation, title, message string) error {
	target := corr.targetKey()

	g.mu.Lock()
	if _, exists := g.byTarget[target]; exists {
		g.mu.Unlock()
		g.logger.Debug().Str("target", target).Msg("Prompt already live for target, dropping")
		return nil
	}
	g.mu.Unlock()

	promptID, err := g.notifications.Create(ctx, host.Notification{
		Title:    title,
		Message:  message,
		Buttons:  []string{"Allow", "Block"},
		Severity: severityFor(corr),
	})
	if err != nil {
		return errorwrapper.WrapError(errorwrapper.ErrPromptFailed, err.Error())
	}

	g.mu.Lock()
	g.prompts[promptID] = corr
	g.byTarget[target] = promptID
	g.mu.Unlock()

	g.logger.Info().
		Str("prompt_id", promptID).
		Str("target", target).
		Str("status", string(corr.Verdict.Status)).
		Msg("Prompt presented")
	return nil
}

// Cancel clears the live prompt for a target, if any. Used when the pending
// decision disappears underneath the prompt (tab closed, download removed).
func (g *Gate) Cancel(ctx context.Context, corr Correlation) {
	target := corr.targetKey()

	g.mu.Lock()
	promptID, exists := g.byTarget[target]
	if exists {
		delete(g.byTarget, target)
		delete(g.prompts, promptID)
	}
	g.mu.Unlock()

	if exists {
		if err := g.notifications.Clear(ctx, promptID); err != nil {
			g.logger.Warn().Err(err).Str("prompt_id", promptID).Msg("Failed to clear prompt")
		}
	}
}

// LiveFor reports whether a prompt is currently live for the correlation's
// target.
func (g *Gate) LiveFor(corr Correlation) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, exists := g.byTarget[corr.targetKey()]
	return exists
}

// resolve consumes the prompt before any action runs, making duplicate
// delivery of the same host UI event harmless.
func (g *Gate) resolve(promptID string, decision Decision) {
	g.mu.Lock()
	corr, exists := g.prompts[promptID]
	if exists {
		delete(g.prompts, promptID)
		delete(g.byTarget, corr.targetKey())
	}
	handler := g.handler
	g.mu.Unlock()

	if !exists {
		g.logger.Debug().Str("prompt_id", promptID).Msg("Response for unknown or consumed prompt, ignoring")
		return
	}

	g.logger.Info().
		Str("prompt_id", promptID).
		Str("decision", decision.String()).
		Str("target", corr.targetKey()).
		Msg("Prompt response consumed")

	if handler != nil {
		handler(context.Background(), corr, decision)
	}
}

func severityFor(corr Correlation) string {
	if corr.Kind == KindNavigation {
		if corr.Severity != "" {
			return corr.Severity
		}
		return string(models.ThreatLevelCritical)
	}
	switch corr.Verdict.Status {
	case models.VerdictInfected:
		return "critical"
	case models.VerdictTimeout, models.VerdictError:
		return "warning"
	default:
		return "info"
	}
}
