package page

import (
	"context"
	"log/slog"
	"time"

	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/push"
	"github.com/expensems/emspush/internal/render"
)

// Listener is the foreground delivery path: it receives payloads delivered
// while this page has focus, renders an in-page system notification with the
// same dedup-tag policy as the background agent, and republishes the payload
// onto the bus. Double-delivery against the agent's broadcast is resolved at
// the bus layer, not here.
type Listener struct {
	bus      *Bus
	notifier render.Notifier
	bucket   time.Duration
	metrics  *metrics.PushMetrics
	logger   *slog.Logger
}

// NewListener creates a foreground listener for a tab. The notifier should
// be the same tag-collapsing instance the agent renders through, so the
// platform-level collapse applies across both paths.
func NewListener(bus *Bus, notifier render.Notifier, bucket time.Duration, m *metrics.PushMetrics) *Listener {
	logger := logging.ForService("listener")
	if logger == nil {
		logger = slog.Default().With("service", "listener")
	}
	return &Listener{
		bus:      bus,
		notifier: notifier,
		bucket:   bucket,
		metrics:  m,
		logger:   logger,
	}
}

// Receive processes a payload delivered on the foreground path
func (l *Listener) Receive(ctx context.Context, payload *push.Payload) {
	env := payload.ToEnvelope(push.PathForeground)
	tag := env.DedupTag(l.bucket)

	if l.metrics != nil {
		l.metrics.DeliveriesTotal.WithLabelValues(string(push.PathForeground)).Inc()
	}

	// Rendering proceeds immediately and independently of any token sync;
	// failure degrades to a missing alert, never an error to the caller.
	if l.notifier != nil {
		if err := l.notifier.Show(ctx, env.Title, env.Body, tag); err != nil {
			l.logger.Error("failed to render foreground notification", "tag", tag, "error", err)
			if l.metrics != nil {
				l.metrics.RenderFailures.Inc()
			}
		}
	}

	l.bus.HandleForegroundEvent(env)
}
