package page

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/expensems/emspush/internal/backend"
)

func TestStateStoreSignalNew(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	defer s.Close()

	seq1 := s.SignalNew()
	seq2 := s.SignalNew()

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)

	snap := s.Snapshot()
	assert.True(t, snap.HasNewNotification)
	assert.Equal(t, uint64(2), snap.RefreshTrigger)
	assert.Zero(t, snap.UnreadCount, "delivery events never change the count")
}

func TestStateStoreRefreshListClearsFlag(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	defer s.Close()

	s.SignalNew()
	s.RefreshList()

	snap := s.Snapshot()
	assert.False(t, snap.HasNewNotification)
	assert.Equal(t, uint64(2), snap.RefreshTrigger, "refresh bumps the trigger for sibling consumers")
}

func TestStateStoreRecomputeUnread(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	defer s.Close()

	s.RecomputeUnread([]backend.NotificationRecord{
		{ID: 1, IsRead: false},
		{ID: 2, IsRead: true},
		{ID: 3, IsRead: false},
	})
	assert.Equal(t, 2, s.Snapshot().UnreadCount)

	s.RecomputeUnread(nil)
	assert.Zero(t, s.Snapshot().UnreadCount)
}

func TestStateStoreWatchCoalesces(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	defer s.Close()

	ch := s.Watch()

	// Burst of changes with nobody reading: at most one tick is pending
	s.SignalNew()
	s.SignalNew()
	s.RefreshList()

	<-ch
	select {
	case <-ch:
		t.Fatal("expected a single coalesced tick")
	default:
	}
}

func TestStateStoreCloseIgnoresUpdates(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	ch := s.Watch()
	s.Close()

	_, open := <-ch
	assert.False(t, open, "watcher channel closes with the store")

	assert.Zero(t, s.SignalNew())
	s.RefreshList()
	s.RecomputeUnread([]backend.NotificationRecord{{ID: 1}})
	assert.Zero(t, s.Snapshot().RefreshTrigger)
}
