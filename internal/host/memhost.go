package host

import (
	"context"
	"fmt"
	"sync"
)

// MemHost is an in-memory implementation of the full capability surface. It
// backs package tests and the standalone loopback mode of the daemon, and
// records every control call so callers can inspect what the agent did.
type MemHost struct {
	Downloads     *MemDownloads
	Notifications *MemNotifications
	Navigation    *MemNavigation
	Storage       *MemKV
	Tabs          *MemTabs
}

// NewMemHost creates an empty in-memory host.
func NewMemHost() *MemHost {
	tabs := &MemTabs{tabs: make(map[string]string)}
	return &MemHost{
		Downloads:     &MemDownloads{},
		Notifications: &MemNotifications{},
		Navigation:    &MemNavigation{tabs: tabs},
		Storage:       &MemKV{kv: make(map[string]string)},
		Tabs:          tabs,
	}
}

// Capabilities exposes the host as the bundle the agent consumes.
func (h *MemHost) Capabilities() Capabilities {
	return Capabilities{
		Downloads:     h.Downloads,
		Notifications: h.Notifications,
		Navigation:    h.Navigation,
		Storage:       h.Storage,
		Tabs:          h.Tabs,
	}
}

// MemDownloads implements Downloads.
type MemDownloads struct {
	mu sync.Mutex

	preStartHandlers   []func(ev DownloadEvent, decide DecideFunc)
	postCreateHandlers []func(ev DownloadEvent)
	removedHandlers    []func(id string)
	changedHandlers    []func(delta DownloadDelta)

	nextID int

	StartedRequests []DownloadRequest
	CancelledIDs    []string
	PausedIDs       []string
	ErasedIDs       []string

	// Failure switches for exercising degraded paths.
	FailStart  bool
	FailCancel bool
	FailPause  bool
}

func (d *MemDownloads) OnPreStart(handler func(ev DownloadEvent, decide DecideFunc)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preStartHandlers = append(d.preStartHandlers, handler)
}

func (d *MemDownloads) OnPostCreate(handler func(ev DownloadEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.postCreateHandlers = append(d.postCreateHandlers, handler)
}

func (d *MemDownloads) OnRemoved(handler func(id string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removedHandlers = append(d.removedHandlers, handler)
}

func (d *MemDownloads) OnChanged(handler func(delta DownloadDelta)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changedHandlers = append(d.changedHandlers, handler)
}

func (d *MemDownloads) Start(ctx context.Context, req DownloadRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailStart {
		return "", fmt.Errorf("host rejected download request for %s", req.URL)
	}
	d.nextID++
	d.StartedRequests = append(d.StartedRequests, req)
	return fmt.Sprintf("dl-%d", d.nextID), nil
}

func (d *MemDownloads) Cancel(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCancel {
		return fmt.Errorf("cancel failed for %s", id)
	}
	d.CancelledIDs = append(d.CancelledIDs, id)
	return nil
}

func (d *MemDownloads) Pause(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailPause {
		return fmt.Errorf("pause failed for %s", id)
	}
	d.PausedIDs = append(d.PausedIDs, id)
	return nil
}

func (d *MemDownloads) Erase(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ErasedIDs = append(d.ErasedIDs, id)
	return nil
}

// EmitPreStart fires the pre-start hook for ev on all registered handlers.
func (d *MemDownloads) EmitPreStart(ev DownloadEvent, decide DecideFunc) {
	d.mu.Lock()
	handlers := append([]func(DownloadEvent, DecideFunc){}, d.preStartHandlers...)
	d.mu.Unlock()
	for _, handler := range handlers {
		handler(ev, decide)
	}
}

// EmitPostCreate fires the post-creation hook for ev.
func (d *MemDownloads) EmitPostCreate(ev DownloadEvent) {
	d.mu.Lock()
	handlers := append([]func(DownloadEvent){}, d.postCreateHandlers...)
	d.mu.Unlock()
	for _, handler := range handlers {
		handler(ev)
	}
}

// EmitRemoved fires the removed hook for a download id.
func (d *MemDownloads) EmitRemoved(id string) {
	d.mu.Lock()
	handlers := append([]func(string){}, d.removedHandlers...)
	d.mu.Unlock()
	for _, handler := range handlers {
		handler(id)
	}
}

// EmitChanged fires the changed hook.
func (d *MemDownloads) EmitChanged(delta DownloadDelta) {
	d.mu.Lock()
	handlers := append([]func(DownloadDelta){}, d.changedHandlers...)
	d.mu.Unlock()
	for _, handler := range handlers {
		handler(delta)
	}
}

// MemNotifications implements NotificationService.
type MemNotifications struct {
	mu sync.Mutex

	actionHandlers []func(notificationID string, buttonIndex int)
	clickHandlers  []func(notificationID string)
	nextID         int

	Created    []Notification
	ClearedIDs []string

	FailCreate bool
}

func (n *MemNotifications) Create(ctx context.Context, notif Notification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailCreate {
		return "", fmt.Errorf("notification service unavailable")
	}
	if notif.ID == "" {
		n.nextID++
		notif.ID = fmt.Sprintf("notif-%d", n.nextID)
	}
	n.Created = append(n.Created, notif)
	return notif.ID, nil
}

func (n *MemNotifications) OnAction(handler func(notificationID string, buttonIndex int)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actionHandlers = append(n.actionHandlers, handler)
}

func (n *MemNotifications) OnClick(handler func(notificationID string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clickHandlers = append(n.clickHandlers, handler)
}

func (n *MemNotifications) Clear(ctx context.Context, notificationID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ClearedIDs = append(n.ClearedIDs, notificationID)
	return nil
}

// EmitAction simulates the user pressing a notification button.
func (n *MemNotifications) EmitAction(notificationID string, buttonIndex int) {
	n.mu.Lock()
	handlers := append([]func(string, int){}, n.actionHandlers...)
	n.mu.Unlock()
	for _, handler := range handlers {
		handler(notificationID, buttonIndex)
	}
}

// EmitClick simulates the user clicking a notification body.
func (n *MemNotifications) EmitClick(notificationID string) {
	n.mu.Lock()
	handlers := append([]func(string){}, n.clickHandlers...)
	n.mu.Unlock()
	for _, handler := range handlers {
		handler(notificationID)
	}
}

// Last returns the most recently created notification, if any.
func (n *MemNotifications) Last() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Created) == 0 {
		return Notification{}, false
	}
	return n.Created[len(n.Created)-1], true
}

// MemNavigation implements NavigationObserver.
type MemNavigation struct {
	mu                sync.Mutex
	committedHandlers []func(ev NavigationEvent)
	tabs              *MemTabs
}

func (nav *MemNavigation) OnCommitted(handler func(ev NavigationEvent)) {
	nav.mu.Lock()
	defer nav.mu.Unlock()
	nav.committedHandlers = append(nav.committedHandlers, handler)
}

// EmitCommitted simulates a committed top-level navigation. The tab's URL is
// updated first, matching host ordering.
func (nav *MemNavigation) EmitCommitted(ev NavigationEvent) {
	nav.tabs.set(ev.TabID, ev.URL)
	nav.mu.Lock()
	handlers := append([]func(NavigationEvent){}, nav.committedHandlers...)
	nav.mu.Unlock()
	for _, handler := range handlers {
		handler(ev)
	}
}

// MemKV implements KeyValueStore.
type MemKV struct {
	mu              sync.Mutex
	kv              map[string]string
	changedHandlers []func(key, oldValue, newValue string)
}

func (s *MemKV) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *MemKV) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	old := s.kv[key]
	s.kv[key] = value
	handlers := append([]func(string, string, string){}, s.changedHandlers...)
	s.mu.Unlock()
	for _, handler := range handlers {
		handler(key, old, value)
	}
	return nil
}

func (s *MemKV) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	old, existed := s.kv[key]
	delete(s.kv, key)
	handlers := append([]func(string, string, string){}, s.changedHandlers...)
	s.mu.Unlock()
	if existed {
		for _, handler := range handlers {
			handler(key, old, "")
		}
	}
	return nil
}

func (s *MemKV) OnChanged(handler func(key, oldValue, newValue string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changedHandlers = append(s.changedHandlers, handler)
}

// MemTabs implements TabControl.
type MemTabs struct {
	mu   sync.Mutex
	tabs map[string]string // tab id -> current URL
}

func (t *MemTabs) Query(ctx context.Context) ([]Tab, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tabs := make([]Tab, 0, len(t.tabs))
	for id, url := range t.tabs {
		tabs = append(tabs, Tab{ID: id, URL: url})
	}
	return tabs, nil
}

func (t *MemTabs) Update(ctx context.Context, tabID, url string) error {
	t.set(tabID, url)
	return nil
}

func (t *MemTabs) Remove(ctx context.Context, tabID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tabs, tabID)
	return nil
}

func (t *MemTabs) set(tabID, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tabs[tabID] = url
}

// SetTab seeds a tab without firing navigation handlers.
func (t *MemTabs) SetTab(tabID, url string) {
	t.set(tabID, url)
}

// TabURL returns the current URL of a tab.
func (t *MemTabs) TabURL(tabID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	url, ok := t.tabs[tabID]
	return url, ok
}

// RemoveTab deletes a tab, simulating the user closing it.
func (t *MemTabs) RemoveTab(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tabs, tabID)
}
