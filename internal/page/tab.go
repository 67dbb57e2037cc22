package page

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/expensems/emspush/internal/agent"
	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/push"
	"github.com/expensems/emspush/internal/render"
)

// Tab is one open page context: it owns a bus, a state store and a
// foreground listener, consumes the agent's broadcast channel, and tracks
// the current in-app location for click navigation.
type Tab struct {
	id       string
	agent    *agent.Agent
	handle   *agent.TabHandle
	bus      *Bus
	state    *StateStore
	listener *Listener

	mu       sync.RWMutex
	location push.Destination

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Open attaches a new tab to the agent and starts its message loop. The
// notifier should be shared with the agent for cross-path tag collapsing.
func Open(ctx context.Context, ag *agent.Agent, busConfig BusConfig, notifier render.Notifier, m *metrics.PushMetrics) *Tab {
	id := uuid.New().String()

	state := NewStateStore(m)
	bus := NewBus(busConfig, state, m)

	logger := logging.ForService("page")
	if logger == nil {
		logger = slog.Default().With("service", "page")
	}

	t := &Tab{
		id:       id,
		agent:    ag,
		handle:   ag.Attach(id),
		bus:      bus,
		state:    state,
		listener: NewListener(bus, notifier, busConfig.DedupBucket, m),
		location: push.DestinationDashboard,
		logger:   logger.With("tab", id),
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(loopCtx)

	t.logger.Info("tab opened")
	return t
}

// ID returns the tab identifier
func (t *Tab) ID() string { return t.id }

// Bus returns the tab's notification bus
func (t *Tab) Bus() *Bus { return t.bus }

// State returns the tab's notification state store
func (t *Tab) State() *StateStore { return t.state }

// Focus marks this tab as the focused page context
func (t *Tab) Focus() {
	t.agent.SetFocused(t.id, true)
}

// Blur clears this tab's focus
func (t *Tab) Blur() {
	t.agent.SetFocused(t.id, false)
}

// Foreground delivers a payload on the foreground path. The platform only
// does this for the focused tab.
func (t *Tab) Foreground(ctx context.Context, payload *push.Payload) {
	t.listener.Receive(ctx, payload)
}

// Navigate changes the tab's in-app location
func (t *Tab) Navigate(destination push.Destination) {
	t.mu.Lock()
	t.location = destination
	t.mu.Unlock()
	t.logger.Debug("navigated", "destination", destination)
}

// Location returns the tab's current in-app location
func (t *Tab) Location() push.Destination {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.location
}

// Close detaches the tab from the agent and tears down its bus and state
// store. The agent and other tabs are unaffected.
func (t *Tab) Close() {
	t.cancel()
	t.agent.Detach(t.id)
	t.wg.Wait()
	t.bus.Close()
	t.state.Close()
	t.logger.Info("tab closed")
}

// run consumes agent messages until the tab closes
func (t *Tab) run(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case msg, ok := <-t.handle.Messages():
			if !ok {
				return
			}
			t.handleMessage(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tab) handleMessage(msg push.Message) {
	switch msg.Type {
	case push.MessageNewNotification:
		if msg.Envelope != nil {
			t.bus.HandleAgentBroadcast(msg.Envelope)
		}
	case push.MessageNotificationClicked:
		t.Navigate(msg.Destination)
	default:
		t.logger.Debug("ignoring agent message", "type", msg.Type)
	}
}
