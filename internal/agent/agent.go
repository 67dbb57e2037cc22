// Package agent implements the background delivery agent: an independently
// lifecycled execution context that receives push payloads while no page is
// focused, renders system notifications, and relays delivery events to every
// attached page context. It mirrors the platform's installable worker model:
// it runs without any page open and communicates only via explicit messages.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/push"
	"github.com/expensems/emspush/internal/render"
)

// State tracks the agent lifecycle
type State int32

const (
	// StateInstalled means the agent version is registered but not yet in
	// control of page contexts
	StateInstalled State = iota
	// StateWaiting means the agent is installed and waiting for a skip-waiting
	// signal before activating
	StateWaiting
	// StateActivated means the agent controls all attached contexts and is
	// receiving payloads
	StateActivated
	// StateStopped means the agent has shut down
	StateStopped
)

// OpenerFunc opens a new page context at the given destination when a
// notification is clicked with no page open. It is supplied by the runtime
// that owns page construction.
type OpenerFunc func(destination push.Destination, data map[string]string)

// Config holds agent tuning parameters
type Config struct {
	// ChannelBuffer is the per-tab message channel capacity
	ChannelBuffer int
	// DedupBucket is the timestamp bucket for generated dedup tags
	DedupBucket time.Duration
	// SkipWaitingOnInstall activates the agent immediately on install, the
	// default deployment behavior. When false the agent waits for an explicit
	// SKIP_WAITING message, as a freshly deployed version would.
	SkipWaitingOnInstall bool
}

// DefaultConfig returns the default agent configuration
func DefaultConfig() Config {
	return Config{
		ChannelBuffer:        16,
		DedupBucket:          time.Minute,
		SkipWaitingOnInstall: true,
	}
}

// TabHandle is the agent's view of an attached page context
type TabHandle struct {
	id         string
	ch         chan push.Message
	controlled atomic.Bool
	focused    atomic.Bool
}

// ID returns the tab identifier
func (t *TabHandle) ID() string { return t.id }

// Messages returns the channel on which the tab receives agent messages
func (t *TabHandle) Messages() <-chan push.Message { return t.ch }

// Controlled reports whether the active agent has claimed this tab
func (t *TabHandle) Controlled() bool { return t.controlled.Load() }

// Agent is the background delivery agent
type Agent struct {
	config   Config
	notifier render.Notifier
	metrics  *metrics.PushMetrics

	openerMu sync.RWMutex
	opener   OpenerFunc

	state atomic.Int32

	mailbox    chan push.Message
	deliveries chan *push.Payload
	clicks     chan clickEvent

	tabsMu     sync.RWMutex
	tabs       map[string]*TabHandle
	focusOrder []string // most recently focused last

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

type clickEvent struct {
	tag  string
	data map[string]string
}

// New creates a background delivery agent. The notifier renders system
// notifications; metrics may be nil.
func New(config Config, notifier render.Notifier, m *metrics.PushMetrics) *Agent {
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = DefaultConfig().ChannelBuffer
	}
	logger := logging.ForService("agent")
	if logger == nil {
		logger = slog.Default().With("service", "agent")
	}

	a := &Agent{
		config:     config,
		notifier:   notifier,
		metrics:    m,
		mailbox:    make(chan push.Message, 64),
		deliveries: make(chan *push.Payload, 64),
		clicks:     make(chan clickEvent, 16),
		tabs:       make(map[string]*TabHandle),
		logger:     logger,
	}
	a.state.Store(int32(StateInstalled))
	return a
}

// SetOpener installs the callback used to open a new page context on click
func (a *Agent) SetOpener(opener OpenerFunc) {
	a.openerMu.Lock()
	a.opener = opener
	a.openerMu.Unlock()
}

// Start installs and runs the agent. Installation activates immediately
// unless SkipWaitingOnInstall is disabled, in which case the agent waits for
// a SKIP_WAITING message before taking control.
func (a *Agent) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("agent installing")
	if a.config.SkipWaitingOnInstall {
		a.activate()
	} else {
		a.state.Store(int32(StateWaiting))
		a.logger.Info("agent installed, waiting for skip-waiting signal")
	}

	a.wg.Add(1)
	go a.run()
}

// Stop shuts the agent down and detaches all tabs
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.state.Store(int32(StateStopped))

	a.tabsMu.Lock()
	for id, tab := range a.tabs {
		close(tab.ch)
		delete(a.tabs, id)
	}
	a.focusOrder = nil
	a.tabsMu.Unlock()

	a.logger.Info("agent stopped")
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Active reports whether the agent is activated and processing
func (a *Agent) Active() bool {
	return a.State() == StateActivated
}

// activate takes control of all attached page contexts immediately, so a
// freshly deployed agent version starts receiving without a manual reload.
func (a *Agent) activate() {
	a.state.Store(int32(StateActivated))

	a.tabsMu.RLock()
	claimed := 0
	for _, tab := range a.tabs {
		tab.controlled.Store(true)
		claimed++
	}
	a.tabsMu.RUnlock()

	a.logger.Info("agent activated", "claimed_tabs", claimed)
}

// Attach registers a page context with the agent and returns its handle.
// An activated agent claims the tab immediately.
func (a *Agent) Attach(tabID string) *TabHandle {
	tab := &TabHandle{
		id: tabID,
		ch: make(chan push.Message, a.config.ChannelBuffer),
	}
	if a.Active() {
		tab.controlled.Store(true)
	}

	a.tabsMu.Lock()
	a.tabs[tabID] = tab
	a.tabsMu.Unlock()

	a.logger.Debug("tab attached", "tab", tabID)
	return tab
}

// Detach unregisters a page context. Its message channel is closed; other
// tabs are unaffected.
func (a *Agent) Detach(tabID string) {
	a.tabsMu.Lock()
	defer a.tabsMu.Unlock()

	tab, ok := a.tabs[tabID]
	if !ok {
		return
	}
	delete(a.tabs, tabID)
	a.removeFocusLocked(tabID)
	close(tab.ch)
	a.logger.Debug("tab detached", "tab", tabID)
}

// SetFocused records a tab's focus state. At most one tab is treated as
// focused; focusing one tab unfocuses the rest.
func (a *Agent) SetFocused(tabID string, focused bool) {
	a.tabsMu.Lock()
	defer a.tabsMu.Unlock()

	tab, ok := a.tabs[tabID]
	if !ok {
		return
	}

	if focused {
		for _, other := range a.tabs {
			other.focused.Store(other.id == tabID)
		}
		a.removeFocusLocked(tabID)
		a.focusOrder = append(a.focusOrder, tabID)
	} else {
		tab.focused.Store(false)
	}
}

// FocusedTab returns the id of the currently focused tab, or "" if none
func (a *Agent) FocusedTab() string {
	a.tabsMu.RLock()
	defer a.tabsMu.RUnlock()

	for id, tab := range a.tabs {
		if tab.focused.Load() {
			return id
		}
	}
	return ""
}

// Deliver hands a payload received on the background path to the agent
func (a *Agent) Deliver(payload *push.Payload) {
	select {
	case a.deliveries <- payload:
	case <-a.ctx.Done():
	}
}

// Click reports a user interaction with a rendered notification
func (a *Agent) Click(tag string, data map[string]string) {
	select {
	case a.clicks <- clickEvent{tag: tag, data: data}:
	case <-a.ctx.Done():
	}
}

// Send delivers a page-to-agent message (SKIP_WAITING, CHECK_SERVICE_WORKER)
func (a *Agent) Send(msg push.Message) {
	select {
	case a.mailbox <- msg:
	case <-a.ctx.Done():
	}
}

// run is the agent's single-threaded event loop
func (a *Agent) run() {
	defer a.wg.Done()

	for {
		select {
		case payload := <-a.deliveries:
			a.handleDelivery(payload)
		case click := <-a.clicks:
			a.handleClick(click)
		case msg := <-a.mailbox:
			a.handleMessage(msg)
		case <-a.ctx.Done():
			return
		}
	}
}

// handleDelivery renders a system notification and broadcasts the payload to
// every attached page context. Rendering failure never prevents the
// broadcast or further message processing.
func (a *Agent) handleDelivery(payload *push.Payload) {
	if !a.Active() {
		// Readiness gate: payloads delivered before activation are held back
		// by re-queueing behind the activation message.
		a.logger.Debug("payload received before activation, deferring")
		go func() {
			select {
			case <-time.After(50 * time.Millisecond):
				a.Deliver(payload)
			case <-a.ctx.Done():
			}
		}()
		return
	}

	env := payload.ToEnvelope(push.PathBackground)
	tag := env.DedupTag(a.config.DedupBucket)

	if a.metrics != nil {
		a.metrics.DeliveriesTotal.WithLabelValues(string(push.PathBackground)).Inc()
	}

	if a.notifier != nil {
		if err := a.notifier.Show(a.ctx, env.Title, env.Body, tag); err != nil {
			a.logger.Error("failed to render background notification", "tag", tag, "error", err)
			if a.metrics != nil {
				a.metrics.RenderFailures.Inc()
			}
		}
	}

	a.broadcast(push.Message{Type: push.MessageNewNotification, Envelope: env})
}

// broadcast sends a message to every attached tab without blocking. A full
// tab channel drops the message; the tab recovers on its next refresh signal
// since signals carry no content.
func (a *Agent) broadcast(msg push.Message) {
	a.tabsMu.RLock()
	defer a.tabsMu.RUnlock()

	for _, tab := range a.tabs {
		out := msg
		if msg.Envelope != nil {
			out.Envelope = msg.Envelope.Clone()
		}
		select {
		case tab.ch <- out:
		default:
			a.logger.Warn("tab channel full, dropping broadcast", "tab", tab.id)
			if a.metrics != nil {
				a.metrics.BroadcastDropped.Inc()
			}
		}
	}
}

// handleClick resolves the in-app destination for a clicked notification and
// focuses or opens exactly one page context.
func (a *Agent) handleClick(click clickEvent) {
	destination := push.DestinationFor(push.KindOf(click.data))

	if a.metrics != nil {
		a.metrics.ClickRoutedTotal.WithLabelValues(string(destination)).Inc()
	}

	target := a.pickClickTarget()
	if target != nil {
		a.SetFocused(target.id, true)
		msg := push.Message{
			Type:        push.MessageNotificationClicked,
			Data:        click.data,
			Destination: destination,
		}
		select {
		case target.ch <- msg:
		default:
			a.logger.Warn("tab channel full, dropping click", "tab", target.id)
		}
		a.logger.Info("notification click focused tab",
			"tab", target.id, "destination", destination, "tag", click.tag)
		return
	}

	a.openerMu.RLock()
	opener := a.opener
	a.openerMu.RUnlock()

	if opener != nil {
		a.logger.Info("notification click opening new context",
			"destination", destination, "tag", click.tag)
		opener(destination, click.data)
	} else {
		a.logger.Warn("notification click with no open context and no opener",
			"destination", destination)
	}
}

// pickClickTarget chooses the page context to receive a click: the most
// recently focused tab, falling back to any attached tab.
func (a *Agent) pickClickTarget() *TabHandle {
	a.tabsMu.RLock()
	defer a.tabsMu.RUnlock()

	for i := len(a.focusOrder) - 1; i >= 0; i-- {
		if tab, ok := a.tabs[a.focusOrder[i]]; ok {
			return tab
		}
	}
	for _, tab := range a.tabs {
		return tab
	}
	return nil
}

// handleMessage processes page-to-agent control messages
func (a *Agent) handleMessage(msg push.Message) {
	switch msg.Type {
	case push.MessageSkipWaiting:
		if a.State() == StateWaiting {
			a.logger.Info("skip-waiting received, activating")
			a.activate()
		}
	case push.MessageCheckAgent:
		if msg.Reply != nil && a.Active() {
			select {
			case msg.Reply <- push.Message{Type: push.MessageAgentActive}:
			default:
			}
		}
	default:
		a.logger.Debug("ignoring message", "type", msg.Type)
	}
}

// removeFocusLocked drops a tab from the focus order. Caller holds tabsMu.
func (a *Agent) removeFocusLocked(tabID string) {
	for i, id := range a.focusOrder {
		if id == tabID {
			a.focusOrder = append(a.focusOrder[:i], a.focusOrder[i+1:]...)
			break
		}
	}
}
