// Package notification maintains the client-side mirror of server-owned
// notification records. The backend is authoritative for content and read
// state; the mirror exists so UI consumers can render without a round trip
// and is replaced wholesale on every refresh signal.
package notification

import (
	"sort"
	"sync"

	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/errors"
)

// Sentinel errors for mirror operations
var (
	ErrRecordNotFound = errors.Newf("notification record not found").Component("notification").Category(errors.CategoryNotFound).Build()
)

// Mirror is a thread-safe, bounded, in-memory copy of the most recently
// fetched notification records.
type Mirror struct {
	mu      sync.RWMutex
	records map[int64]backend.NotificationRecord
	maxSize int
}

// NewMirror creates a mirror bounded to maxSize records
func NewMirror(maxSize int) *Mirror {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Mirror{
		records: make(map[int64]backend.NotificationRecord),
		maxSize: maxSize,
	}
}

// Replace swaps the mirror contents for a freshly fetched list, dropping the
// oldest records beyond the size bound.
func (m *Mirror) Replace(records []backend.NotificationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[int64]backend.NotificationRecord, len(records))
	for _, rec := range records {
		m.records[rec.ID] = rec
	}

	for len(m.records) > m.maxSize {
		m.removeOldestLocked()
	}
}

// Get returns one record by id
func (m *Mirror) Get(id int64) (backend.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return backend.NotificationRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

// List returns all records sorted newest first
func (m *Mirror) List() []backend.NotificationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]backend.NotificationRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MarkRead flags a record as read in the mirror
func (m *Mirror) MarkRead(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.IsRead = true
	m.records[id] = rec
	return nil
}

// MarkAllRead flags every record as read
func (m *Mirror) MarkAllRead() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.records {
		rec.IsRead = true
		m.records[id] = rec
	}
}

// Delete removes a record from the mirror
func (m *Mirror) Delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// Clear removes every record
func (m *Mirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[int64]backend.NotificationRecord)
}

// UnreadCount returns the number of unread records in the mirror
func (m *Mirror) UnreadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.records {
		if !rec.IsRead {
			count++
		}
	}
	return count
}

// Len returns the number of mirrored records
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// removeOldestLocked drops the oldest record. Caller holds mu.
func (m *Mirror) removeOldestLocked() {
	var oldestID int64
	first := true
	for id, rec := range m.records {
		if first || rec.CreatedAt.Before(m.records[oldestID].CreatedAt) {
			oldestID = id
			first = false
		}
	}
	if !first {
		delete(m.records, oldestID)
	}
}
