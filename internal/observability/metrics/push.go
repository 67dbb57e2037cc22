// Package metrics provides custom Prometheus metrics for the push delivery
// pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PushMetrics contains all Prometheus metrics related to push delivery and
// token lifecycle operations.
type PushMetrics struct {
	// Delivery metrics
	DeliveriesTotal   *prometheus.CounterVec // Total deliveries by path (background/foreground)
	DedupSuppressed   prometheus.Counter     // Deliveries collapsed by the bus dedup window
	BusSignalsTotal   prometheus.Counter     // Refresh signals emitted to UI consumers
	BroadcastDropped  prometheus.Counter     // Agent broadcasts dropped on full tab channels
	RenderFailures    prometheus.Counter     // System notification render failures
	ClickRoutedTotal  *prometheus.CounterVec // Notification clicks by destination

	// Token lifecycle metrics
	TokenSyncsTotal   *prometheus.CounterVec // Backend token syncs by status (success/error)
	TokenRevokesTotal prometheus.Counter     // Token revocations (logout)

	// State metrics
	UnreadCount prometheus.Gauge // Last recomputed unread count

	registry *prometheus.Registry
}

// NewPushMetrics creates a new instance of PushMetrics.
// It requires a Prometheus registry to register the metrics.
func NewPushMetrics(registry *prometheus.Registry) (*PushMetrics, error) {
	m := &PushMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register push metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for PushMetrics.
func (m *PushMetrics) initMetrics() {
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Total number of payload deliveries by delivery path",
		},
		[]string{"path"},
	)

	m.DedupSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_dedup_suppressed_total",
			Help: "Deliveries suppressed by the cross-context dedup window",
		},
	)

	m.BusSignalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_bus_signals_total",
			Help: "Refresh signals emitted by the notification bus",
		},
	)

	m.BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_broadcast_dropped_total",
			Help: "Agent broadcasts dropped because a tab channel was full",
		},
	)

	m.RenderFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_render_failures_total",
			Help: "System notification render failures",
		},
	)

	m.ClickRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_click_routed_total",
			Help: "Notification clicks routed to an in-app destination",
		},
		[]string{"destination"},
	)

	m.TokenSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_token_syncs_total",
			Help: "Backend token sync attempts by status",
		},
		[]string{"status"}, // status: success, error
	)

	m.TokenRevokesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_token_revokes_total",
			Help: "Device token revocations",
		},
	)

	m.UnreadCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_unread_count",
			Help: "Unread notification count from the last recomputation",
		},
	)
}

// Collect implements the prometheus.Collector interface.
func (m *PushMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DeliveriesTotal.Collect(ch)
	m.DedupSuppressed.Collect(ch)
	m.BusSignalsTotal.Collect(ch)
	m.BroadcastDropped.Collect(ch)
	m.RenderFailures.Collect(ch)
	m.ClickRoutedTotal.Collect(ch)
	m.TokenSyncsTotal.Collect(ch)
	m.TokenRevokesTotal.Collect(ch)
	m.UnreadCount.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PushMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DeliveriesTotal.Describe(ch)
	m.DedupSuppressed.Describe(ch)
	m.BusSignalsTotal.Describe(ch)
	m.BroadcastDropped.Describe(ch)
	m.RenderFailures.Describe(ch)
	m.ClickRoutedTotal.Describe(ch)
	m.TokenSyncsTotal.Describe(ch)
	m.TokenRevokesTotal.Describe(ch)
	m.UnreadCount.Describe(ch)
}

// Registry returns the underlying registry for HTTP exposure
func (m *PushMetrics) Registry() *prometheus.Registry {
	return m.registry
}
