package page

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensems/emspush/internal/agent"
	"github.com/expensems/emspush/internal/push"
)

type noopNotifier struct {
	mu    sync.Mutex
	shows int
}

func (n *noopNotifier) Show(_ context.Context, _, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shows++
	return nil
}

func (n *noopNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shows
}

func startedAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a := agent.New(agent.DefaultConfig(), &noopNotifier{}, nil)
	a.Start(context.Background())
	t.Cleanup(a.Stop)
	return a
}

func openTab(t *testing.T, ag *agent.Agent) *Tab {
	t.Helper()
	tab := Open(context.Background(), ag, testBusConfig(), &noopNotifier{}, nil)
	t.Cleanup(tab.Close)
	return tab
}

func TestTwoTabsEachSignalOnce(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	first := openTab(t, ag)
	second := openTab(t, ag)

	ag.Deliver(&push.Payload{
		Notification: &push.PayloadNotification{Title: "New expense"},
		Data:         map[string]string{push.DataKeyExpenseID: "42"},
	})

	for _, tab := range []*Tab{first, second} {
		assert.Eventually(t, func() bool {
			return tab.State().Snapshot().HasNewNotification
		}, time.Second, 5*time.Millisecond, "every open tab observes the delivery")
	}

	assert.Equal(t, uint64(1), first.State().Snapshot().RefreshTrigger,
		"one delivery produces exactly one signal per tab")
	assert.Equal(t, uint64(1), second.State().Snapshot().RefreshTrigger)
}

func TestForegroundAndBroadcastCollapse(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	tab := openTab(t, ag)
	tab.Focus()

	payload := &push.Payload{
		Notification: &push.PayloadNotification{Title: "New expense"},
		Data:         map[string]string{push.DataKeyExpenseID: "42"},
	}

	// The same logical event arrives on both paths: foreground directly and
	// the agent broadcast shortly after.
	tab.Foreground(context.Background(), payload)
	ag.Deliver(payload)

	assert.Eventually(t, func() bool {
		return tab.Bus().Suppressed() == 1
	}, time.Second, 5*time.Millisecond, "the second path is collapsed by the bus")

	assert.Equal(t, uint64(1), tab.State().Snapshot().RefreshTrigger)
}

func TestClickNavigatesTab(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	tab := openTab(t, ag)
	tab.Focus()

	require.Equal(t, push.DestinationDashboard, tab.Location())

	ag.Click("42", map[string]string{push.DataKeyType: "new_expense"})

	assert.Eventually(t, func() bool {
		return tab.Location() == push.DestinationExpenses
	}, time.Second, 5*time.Millisecond, "a click routes the tab to the kind's destination")
}

func TestTabCloseLeavesAgentRunning(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	first := Open(context.Background(), ag, testBusConfig(), &noopNotifier{}, nil)
	second := openTab(t, ag)

	first.Close()

	ag.Deliver(&push.Payload{Data: map[string]string{push.DataKeyExpenseID: "7"}})

	assert.Eventually(t, func() bool {
		return second.State().Snapshot().HasNewNotification
	}, time.Second, 5*time.Millisecond, "surviving tabs keep receiving after one closes")
}

func TestRouterPrefersFocusedTab(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	notifier := &noopNotifier{}
	tab := Open(context.Background(), ag, testBusConfig(), notifier, nil)
	t.Cleanup(tab.Close)
	tab.Focus()

	router := NewRouter(ag)
	router.Register(tab)

	router.Deliver(&push.Payload{Data: map[string]string{push.DataKeyExpenseID: "42"}})

	assert.Eventually(t, func() bool {
		return tab.State().Snapshot().HasNewNotification
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, notifier.count(), "the focused tab renders via its foreground listener")
}

func TestRouterFallsBackToAgent(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	tab := openTab(t, ag)
	tab.Focus()
	tab.Blur()

	router := NewRouter(ag)
	router.Register(tab)

	router.Deliver(&push.Payload{Data: map[string]string{push.DataKeyExpenseID: "42"}})

	// With no focused tab the payload takes the background path: the agent
	// broadcast still reaches the tab.
	assert.Eventually(t, func() bool {
		return tab.State().Snapshot().HasNewNotification
	}, time.Second, 5*time.Millisecond)
}

func TestRouterUnregister(t *testing.T) {
	t.Parallel()

	ag := startedAgent(t)
	tab := openTab(t, ag)
	tab.Focus()

	router := NewRouter(ag)
	router.Register(tab)
	router.Unregister(tab.ID())

	// Unknown focused tab falls back to the background path
	router.Deliver(&push.Payload{Data: map[string]string{push.DataKeyExpenseID: "42"}})

	assert.Eventually(t, func() bool {
		return tab.State().Snapshot().HasNewNotification
	}, time.Second, 5*time.Millisecond)
}
