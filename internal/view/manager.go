package view

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/forest-sync/internal/metrics"
	"github.com/joeblew999/forest-sync/internal/service"
)

// Tab is one browser tab. It shows one page at a time; its id is also the id
// its map surfaces publish under.
type Tab struct {
	id   string
	deps Deps

	mu       sync.Mutex
	current  View
	lastSeen time.Time
	closed   bool
}

// ID returns the tab id.
func (t *Tab) ID() string { return t.id }

// Current returns the mounted page.
func (t *Tab) Current() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Touch records activity, keeping the tab from being swept.
func (t *Tab) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen = now
}

// Navigate mounts the page for path. The current page is unmounted, and its
// surface removed, before the new one is created. A detail path for an
// unknown id fails with ErrNotFound and leaves the current page in place.
func (t *Tab) Navigate(path string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("tab %s: %w", t.id, ErrNotFound)
	}

	route := ParseRoute(path)
	var mount func() View
	switch route.Kind {
	case KindSink:
		sink, ok := t.deps.Registry.Get(route.ID)
		if !ok {
			return nil, fmt.Errorf("carbon sink %q: %w", route.ID, ErrNotFound)
		}
		mount = func() View { return NewSinkDetailView(t.id, route, sink, t.deps) }
	case KindOwner:
		owner, ok := t.deps.Registry.Owner(route.ID)
		if !ok {
			return nil, fmt.Errorf("owner %q: %w", route.ID, ErrNotFound)
		}
		mount = func() View { return NewOwnerView(route, owner, t.deps) }
	default:
		mount = func() View { return NewMapView(t.id, route, t.deps) }
	}

	t.unmountLocked()
	t.current = mount()
	if t.current.Surface() != nil {
		metrics.ActiveViews.Inc()
	}
	t.deps.Log.Debug("navigated", "view", t.id, "page", route.Kind, "id", route.ID)
	t.publishPage(route)
	return t.current, nil
}

// publishPage tells the tab's browser to render its page again.
func (t *Tab) publishPage(route Route) {
	if t.deps.Bus != nil {
		t.deps.Bus.Publish(service.Op{View: t.id, Kind: OpPage, Payload: route})
	}
}

func (t *Tab) unmountLocked() {
	if t.current == nil {
		return
	}
	if t.current.Surface() != nil {
		metrics.ActiveViews.Dec()
	}
	t.current.Unmount()
	t.current = nil
}

func (t *Tab) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unmountLocked()
	t.closed = true
}

// Manager tracks the open tabs.
type Manager struct {
	deps Deps
	now  func() time.Time

	mu   sync.Mutex
	tabs map[string]*Tab
}

// NewManager creates an empty manager.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, now: time.Now, tabs: make(map[string]*Tab)}
}

// Open creates a tab and navigates it to path.
func (m *Manager) Open(path string) (*Tab, error) {
	t := &Tab{id: uuid.NewString(), deps: m.deps, lastSeen: m.now()}
	if _, err := t.Navigate(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.tabs[t.id] = t
	m.mu.Unlock()
	return t, nil
}

// Get returns an open tab.
func (m *Manager) Get(id string) (*Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if ok {
		t.Touch(m.now())
	}
	return t, ok
}

// Close unmounts a tab's page and forgets the tab.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if ok {
		t.close()
	}
	return ok
}

// CloseAll closes every tab, on shutdown.
func (m *Manager) CloseAll() {
	for _, t := range m.snapshot() {
		m.Close(t.id)
	}
}

// Len returns the number of open tabs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

// Refresh redraws every open page, after the registry changed.
func (m *Manager) Refresh(ctx context.Context) {
	for _, t := range m.snapshot() {
		if v := t.Current(); v != nil {
			v.Refresh(ctx)
			t.publishPage(v.Route())
		}
	}
}

// Sweep closes tabs not seen for longer than idle and returns how many.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	var stale []string
	for _, t := range m.snapshot() {
		t.mu.Lock()
		if t.lastSeen.Before(cutoff) {
			stale = append(stale, t.id)
		}
		t.mu.Unlock()
	}
	for _, id := range stale {
		m.Close(id)
	}
	return len(stale)
}

func (m *Manager) snapshot() []*Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Sorted(maps.Keys(m.tabs))
	out := make([]*Tab, len(ids))
	for i, id := range ids {
		out[i] = m.tabs[id]
	}
	return out
}
