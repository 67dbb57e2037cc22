package notification

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/errors"
)

func record(id int64, createdAt time.Time, read bool) backend.NotificationRecord {
	return backend.NotificationRecord{
		ID:        id,
		Title:     fmt.Sprintf("notification %d", id),
		IsRead:    read,
		CreatedAt: createdAt,
	}
}

func TestMirrorReplaceAndList(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewMirror(10)
	m.Replace([]backend.NotificationRecord{
		record(1, now.Add(-2*time.Hour), true),
		record(2, now, false),
		record(3, now.Add(-time.Hour), false),
	})

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, int64(2), list[0].ID, "newest first")
	assert.Equal(t, int64(3), list[1].ID)
	assert.Equal(t, int64(1), list[2].ID)
	assert.Equal(t, 2, m.UnreadCount())
}

func TestMirrorReplaceIsWholesale(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewMirror(10)
	m.Replace([]backend.NotificationRecord{record(1, now, false)})
	m.Replace([]backend.NotificationRecord{record(2, now, false)})

	_, err := m.Get(1)
	assert.True(t, errors.Is(err, ErrRecordNotFound), "old records do not survive a refresh")
	assert.Equal(t, 1, m.Len())
}

func TestMirrorBoundEvictsOldest(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewMirror(2)
	m.Replace([]backend.NotificationRecord{
		record(1, now.Add(-3*time.Hour), false),
		record(2, now.Add(-2*time.Hour), false),
		record(3, now, false),
	})

	assert.Equal(t, 2, m.Len())
	_, err := m.Get(1)
	assert.True(t, errors.Is(err, ErrRecordNotFound), "the oldest record is evicted")

	_, err = m.Get(3)
	assert.NoError(t, err)
}

func TestMirrorMarkRead(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewMirror(10)
	m.Replace([]backend.NotificationRecord{record(1, now, false)})

	require.NoError(t, m.MarkRead(1))
	rec, err := m.Get(1)
	require.NoError(t, err)
	assert.True(t, rec.IsRead)
	assert.Zero(t, m.UnreadCount())

	err = m.MarkRead(99)
	assert.True(t, errors.IsNotFound(err))
}

func TestMirrorMarkAllRead(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewMirror(10)
	m.Replace([]backend.NotificationRecord{
		record(1, now, false),
		record(2, now, false),
	})

	m.MarkAllRead()
	assert.Zero(t, m.UnreadCount())
}

func TestMirrorDeleteAndClear(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewMirror(10)
	m.Replace([]backend.NotificationRecord{
		record(1, now, false),
		record(2, now, false),
	})

	m.Delete(1)
	assert.Equal(t, 1, m.Len())

	// Deleting a missing record is a no-op
	m.Delete(99)

	m.Clear()
	assert.Zero(t, m.Len())
}
