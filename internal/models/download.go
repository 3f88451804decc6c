package models

import (
	"sync"
	"time"
)

// DownloadState tracks a pending download through its lifecycle. Transitions
// are monotonic: a record never re-enters an earlier state.
type DownloadState int

const (
	StateDetected DownloadState = iota
	StateScanning
	StateAwaitingApproval
	StateReinitiating
	StateTerminal
)

// String returns string representation of DownloadState
func (s DownloadState) String() string {
	switch s {
	case StateDetected:
		return "detected"
	case StateScanning:
		return "scanning"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateReinitiating:
		return "reinitiating"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// TerminalReason qualifies a terminal record.
type TerminalReason string

const (
	TerminalApproved  TerminalReason = "approved"
	TerminalBlocked   TerminalReason = "blocked"
	TerminalCancelled TerminalReason = "cancelled"
)

// PendingDownload is the single source of truth for one intercepted download,
// created when the pre-start hook fires and destroyed on reaching a terminal
// state or on a host removal event.
type PendingDownload struct {
	ID            string
	SourceURL     string
	ResolvedURL   string
	FileName      string
	State         DownloadState
	Terminal      TerminalReason
	Verdict       *Verdict
	ScanStartedAt time.Time
	CreatedAt     time.Time
	Token         *ApprovalToken

	// RaceCancelled is set once the post-creation safety net cancelled a
	// download the host auto-started past its decision deadline.
	RaceCancelled bool
}

// Decided reports whether the record already reached a decided state: either
// terminal, or reinitiating (an allow is in flight).
func (pd *PendingDownload) Decided() bool {
	return pd.State == StateReinitiating || pd.State == StateTerminal
}

// AllowFunc completes the host's pre-start hook, supplying the destination
// file name and letting the download proceed.
type AllowFunc func(fileName string)

// ApprovalToken wraps the host's allow callback as a consume-on-use handle.
// Consume hands out the callback at most once across the token's lifetime;
// Invalidate drops the callback when the host deadline made it worthless.
type ApprovalToken struct {
	mu   sync.Mutex
	fire AllowFunc
}

// NewApprovalToken wraps an allow callback. A nil callback yields a token
// that is never live, which models a download whose callback was lost.
func NewApprovalToken(fire AllowFunc) *ApprovalToken {
	return &ApprovalToken{fire: fire}
}

// Consume returns the wrapped callback and empties the token. The second
// call, and every call after Invalidate, returns false.
func (t *ApprovalToken) Consume() (AllowFunc, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fire == nil {
		return nil, false
	}
	fire := t.fire
	t.fire = nil
	return fire, true
}

// Invalidate discards the wrapped callback without invoking it.
func (t *ApprovalToken) Invalidate() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fire = nil
}

// Live reports whether the token still holds an unconsumed callback.
func (t *ApprovalToken) Live() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fire != nil
}
