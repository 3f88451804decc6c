// Package host abstracts the capability surface the agent consumes from its
// embedding host: download hooks, notifications, navigation events, key/value
// storage and tab control. The agent never talks to a concrete browser API
// directly; it is wired against these interfaces.
package host

import (
	"context"
	"time"
)

// DownloadEvent describes a download the host is about to start (pre-start
// hook) or has just materialized (post-creation hook).
type DownloadEvent struct {
	ID        string
	URL       string // original source URL
	FinalURL  string // post-redirect URL, may equal URL
	FileName  string // host-proposed destination name, may be empty pre-start
	MIMEType  string
	Referrer  string
	StartedAt time.Time
}

// PreStartDecision completes the pre-start hook: supply the destination file
// name and let the download proceed, or cancel it outright.
type PreStartDecision struct {
	FileName string
	Cancel   bool
}

// DecideFunc is the host-provided callback that finalizes a pre-start hook.
// The host enforces its own deadline; if the agent never calls it, the host
// proceeds unilaterally and the callback becomes a no-op.
type DecideFunc func(PreStartDecision)

// DownloadDelta reports a state change on an existing download.
type DownloadDelta struct {
	ID    string
	State string
	Error string
}

// DownloadRequest asks the host to start a brand-new download.
type DownloadRequest struct {
	URL      string
	FileName string
}

// DownloadHooks registers handlers for the host's download lifecycle.
type DownloadHooks interface {
	OnPreStart(handler func(ev DownloadEvent, decide DecideFunc))
	OnPostCreate(handler func(ev DownloadEvent))
	OnRemoved(handler func(id string))
	OnChanged(handler func(delta DownloadDelta))
}

// DownloadControl drives downloads the host owns.
type DownloadControl interface {
	Start(ctx context.Context, req DownloadRequest) (string, error)
	Cancel(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Erase(ctx context.Context, id string) error
}

// Downloads combines hook registration and control for the download surface.
type Downloads interface {
	DownloadHooks
	DownloadControl
}

// Notification is a user-facing prompt or notice.
type Notification struct {
	ID       string
	Title    string
	Message  string
	Buttons  []string
	Severity string
}

// NotificationService renders notifications and reports user responses.
// Action and click handlers may be invoked more than once for the same UI
// event; consumers must be idempotent.
type NotificationService interface {
	Create(ctx context.Context, n Notification) (string, error)
	OnAction(handler func(notificationID string, buttonIndex int))
	OnClick(handler func(notificationID string))
	Clear(ctx context.Context, notificationID string) error
}

// NavigationEvent reports a committed top-level navigation.
type NavigationEvent struct {
	TabID string
	URL   string
}

// NavigationObserver registers a handler for committed navigations.
type NavigationObserver interface {
	OnCommitted(handler func(ev NavigationEvent))
}

// KeyValueStore is the host's persistent key/value storage.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	OnChanged(handler func(key, oldValue, newValue string))
}

// Tab is a minimal view of a host tab.
type Tab struct {
	ID  string
	URL string
}

// TabControl queries and drives host tabs.
type TabControl interface {
	Query(ctx context.Context) ([]Tab, error)
	Update(ctx context.Context, tabID, url string) error
	Remove(ctx context.Context, tabID string) error
}

// Capabilities bundles the full host surface handed to the agent.
type Capabilities struct {
	Downloads     Downloads
	Notifications NotificationService
	Navigation    NavigationObserver
	Storage       KeyValueStore
	Tabs          TabControl
}
