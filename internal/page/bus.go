// Package page implements everything that lives inside one open page
// context (tab): the foreground delivery listener, the cross-context
// notification bus that reconciles the two delivery paths, and the
// notification state store consumed by UI components.
package page

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/push"
)

// Signal tells a UI consumer that the authoritative notification list may
// have changed. It carries no content: consumers re-fetch from the backend.
type Signal struct {
	// Seq is the refresh counter value at emission; monotonically increasing
	// per tab
	Seq uint64
	// Tag is the dedup tag of the envelope that triggered the signal
	Tag string
	// Path is the delivery path that won the dedup race
	Path push.DeliveryPath
}

// BusConfig tunes the per-tab bus
type BusConfig struct {
	// DedupWindow is the grace window for collapsing the same logical event
	// arriving on both delivery paths
	DedupWindow time.Duration
	// DedupBucket is the timestamp bucket for generated fallback tags
	DedupBucket time.Duration
	// GraceDelay is how long the transient envelope is retained after
	// signaling before being cleared
	GraceDelay time.Duration
	// ChannelBuffer is the subscriber channel capacity
	ChannelBuffer int
}

// DefaultBusConfig returns the default bus configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		DedupWindow:   30 * time.Second,
		DedupBucket:   time.Minute,
		GraceDelay:    time.Second,
		ChannelBuffer: 8,
	}
}

// busSubscriber is one registration of interest in the reconciled stream
type busSubscriber struct {
	ch     chan Signal
	ctx    context.Context
	cancel context.CancelFunc
}

// Bus reconciles events from the background delivery agent and the
// foreground listener into one logical stream per tab, deduplicating across
// the two paths, and drives the tab's state store.
type Bus struct {
	config BusConfig
	state  *StateStore

	seen  *gocache.Cache
	clear *time.Timer

	mu          sync.Mutex
	current     *push.Envelope
	subscribers []*busSubscriber

	ctx     context.Context
	cancel  context.CancelFunc
	metrics *metrics.PushMetrics
	logger  *slog.Logger

	signalsEmitted atomic.Uint64
	suppressed     atomic.Uint64
}

// NewBus creates a bus bound to a state store; metrics may be nil
func NewBus(config BusConfig, state *StateStore, m *metrics.PushMetrics) *Bus {
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = DefaultBusConfig().ChannelBuffer
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = DefaultBusConfig().DedupWindow
	}
	logger := logging.ForService("bus")
	if logger == nil {
		logger = slog.Default().With("service", "bus")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		config:  config,
		state:   state,
		seen:    gocache.New(config.DedupWindow, config.DedupWindow),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		logger:  logger,
	}
}

// HandleAgentBroadcast processes a NEW_NOTIFICATION broadcast from the
// background delivery agent
func (b *Bus) HandleAgentBroadcast(env *push.Envelope) {
	b.reconcile(env)
}

// HandleForegroundEvent processes a payload republished by the foreground
// listener
func (b *Bus) HandleForegroundEvent(env *push.Envelope) {
	b.reconcile(env)
}

// reconcile attributes the envelope to one logical event and emits at most
// one signal per dedup tag within the grace window.
func (b *Bus) reconcile(env *push.Envelope) {
	tag := env.DedupTag(b.config.DedupBucket)

	if _, dup := b.seen.Get(tag); dup {
		b.suppressed.Add(1)
		if b.metrics != nil {
			b.metrics.DedupSuppressed.Inc()
		}
		b.logger.Debug("duplicate delivery suppressed", "tag", tag, "path", env.Path)
		return
	}
	b.seen.SetDefault(tag, struct{}{})

	b.mu.Lock()
	b.current = env
	// Restart the grace timer: the transient envelope is cleared shortly
	// after signaling to avoid stale re-processing.
	if b.clear != nil {
		b.clear.Stop()
	}
	if b.config.GraceDelay > 0 {
		b.clear = time.AfterFunc(b.config.GraceDelay, b.clearCurrent)
	}
	b.mu.Unlock()

	seq := b.state.SignalNew()
	b.signalsEmitted.Add(1)
	if b.metrics != nil {
		b.metrics.BusSignalsTotal.Inc()
	}

	b.publish(Signal{Seq: seq, Tag: tag, Path: env.Path})
}

// publish fans a signal out to all live subscribers without blocking
func (b *Bus) publish(signal Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	active := b.subscribers[:0]
	for _, sub := range b.subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}
		active = append(active, sub)

		select {
		case sub.ch <- signal:
		default:
			b.logger.Debug("subscriber channel full, skipping signal")
		}
	}
	b.subscribers = active
}

// Subscribe registers interest in the reconciled signal stream. The returned
// context is cancelled when the subscription or the bus terminates; callers
// must stop reading then and must not close the channel.
func (b *Bus) Subscribe() (<-chan Signal, context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithCancel(b.ctx)
	sub := &busSubscriber{
		ch:     make(chan Signal, b.config.ChannelBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes a subscription. Other subscribers are unaffected.
func (b *Bus) Unsubscribe(ch <-chan Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			sub.cancel()
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
}

// Current returns the transient envelope of the most recent signal, or nil
// once the grace delay has cleared it
func (b *Bus) Current() *push.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Suppressed returns the number of deliveries collapsed by dedup
func (b *Bus) Suppressed() uint64 {
	return b.suppressed.Load()
}

// Close terminates the bus and cancels every subscription
func (b *Bus) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clear != nil {
		b.clear.Stop()
	}
	for _, sub := range b.subscribers {
		sub.cancel()
	}
	b.subscribers = nil
	b.current = nil
}

func (b *Bus) clearCurrent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = nil
}
