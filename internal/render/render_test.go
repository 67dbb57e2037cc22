package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	mu    sync.Mutex
	shown []string
}

func (c *countingNotifier) Show(_ context.Context, _, _, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shown = append(c.shown, tag)
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shown)
}

func TestTagCollapserSuppressesRepeats(t *testing.T) {
	t.Parallel()

	inner := &countingNotifier{}
	collapser := NewTagCollapser(inner, time.Minute)
	ctx := context.Background()

	require.NoError(t, collapser.Show(ctx, "t", "b", "tag-1"))
	require.NoError(t, collapser.Show(ctx, "t", "b", "tag-1"))
	require.NoError(t, collapser.Show(ctx, "t", "b", "tag-2"))

	assert.Equal(t, 2, inner.count(), "same tag collapses to one render")
}

func TestTagCollapserWindowExpiry(t *testing.T) {
	t.Parallel()

	inner := &countingNotifier{}
	collapser := NewTagCollapser(inner, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, collapser.Show(ctx, "t", "b", "tag-1"))

	assert.Eventually(t, func() bool {
		_ = collapser.Show(ctx, "t", "b", "tag-1")
		return inner.count() == 2
	}, time.Second, 10*time.Millisecond, "the tag renders again after the window expires")
}

func TestTagCollapserEmptyTagNeverCollapses(t *testing.T) {
	t.Parallel()

	inner := &countingNotifier{}
	collapser := NewTagCollapser(inner, time.Minute)
	ctx := context.Background()

	require.NoError(t, collapser.Show(ctx, "t", "b", ""))
	require.NoError(t, collapser.Show(ctx, "t", "b", ""))

	assert.Equal(t, 2, inner.count())
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewLogNotifier().Show(context.Background(), "t", "b", "tag"))
}

func TestShoutrrrNotifierRequiresURLs(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrNotifier(nil, time.Second)
	assert.Error(t, err)
}
