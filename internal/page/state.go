package page

import (
	"sync"

	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/observability/metrics"
)

// StateSnapshot is a point-in-time view of the notification state
type StateSnapshot struct {
	UnreadCount        int    `json:"unread_count"`
	HasNewNotification bool   `json:"has_new_notification"`
	RefreshTrigger     uint64 `json:"refresh_trigger"`
}

// StateStore holds the per-tab notification state consumed by UI components:
// unread count, new-notification flag, and the refresh-trigger counter whose
// change (not value) tells consumers to re-fetch the authoritative list.
//
// It is an explicitly constructed object with its lifecycle bound to the tab,
// not a module-level singleton. The unread count is derived: it is only ever
// recomputed from the most recently fetched record list, never incremented
// by delivery events.
type StateStore struct {
	mu             sync.Mutex
	unreadCount    int
	hasNew         bool
	refreshTrigger uint64
	closed         bool
	watchers       []chan struct{}

	metrics *metrics.PushMetrics
}

// NewStateStore creates a state store; metrics may be nil
func NewStateStore(m *metrics.PushMetrics) *StateStore {
	return &StateStore{metrics: m}
}

// SignalNew records a delivery event: sets the new-notification flag and
// bumps the refresh trigger. Returns the new trigger value. Called by the
// bus, never by UI code.
func (s *StateStore) SignalNew() uint64 {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.hasNew = true
	s.refreshTrigger++
	seq := s.refreshTrigger
	s.mu.Unlock()

	s.notify()
	return seq
}

// RefreshList is called by a UI consumer that is about to re-fetch the list:
// it bumps the trigger for sibling consumers and clears the new flag.
func (s *StateStore) RefreshList() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.refreshTrigger++
	s.hasNew = false
	s.mu.Unlock()

	s.notify()
}

// RecomputeUnread derives the unread count from a freshly fetched record
// list. This is the only way the count changes.
func (s *StateStore) RecomputeUnread(records []backend.NotificationRecord) {
	count := 0
	for i := range records {
		if !records[i].IsRead {
			count++
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.unreadCount != count
	s.unreadCount = count
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UnreadCount.Set(float64(count))
	}
	if changed {
		s.notify()
	}
}

// Snapshot returns the current state
func (s *StateStore) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		UnreadCount:        s.unreadCount,
		HasNewNotification: s.hasNew,
		RefreshTrigger:     s.refreshTrigger,
	}
}

// Watch returns a channel that receives a coalesced tick whenever the state
// changes. The channel is closed when the store is closed.
func (s *StateStore) Watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	if s.closed {
		close(ch)
		return ch
	}
	s.watchers = append(s.watchers, ch)
	return ch
}

// Close tears the store down; watchers are closed and further updates are
// ignored. Bound to the tab unmount.
func (s *StateStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
}

// notify ticks every watcher without blocking; a pending tick coalesces
func (s *StateStore) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
