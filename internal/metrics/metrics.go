// Package metrics exposes Prometheus collectors for conversation turns,
// runs and reminder notifications.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/types"
)

const namespace = "taxprep"

// Metrics implements conversation.Observer and runtime.RunObserver.
type Metrics struct {
	turns         *prometheus.CounterVec
	detections    *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// MustNewMetrics constructs the collectors and registers them with reg.
// Registration errors panic; tests pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conversation",
				Name:      "turns_total",
				Help:      "Chat turns processed, by outcome.",
			},
			[]string{"outcome"},
		),
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conversation",
				Name:      "event_detections_total",
				Help:      "Life events detected in chat messages.",
			},
			[]string{"event"},
		),
		reminders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "conversation",
				Name:      "reminders_created_total",
				Help:      "Reminders committed from chat, by how they were created.",
			},
			[]string{"via"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "run_duration_seconds",
				Help:      "Time spent processing a run.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "status"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reminders",
				Name:      "notifications_total",
				Help:      "Due-reminder notifications attempted.",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.turns, m.detections, m.reminders, m.runDuration, m.notifications)
	return m
}

// ObserveTurn records the outcome of a chat turn.
func (m *Metrics) ObserveTurn(t conversation.Turn) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(string(t.Outcome)).Inc()
	for _, h := range t.Hits {
		m.detections.WithLabelValues(h.EventKey).Inc()
	}
	if t.Created != nil {
		m.reminders.WithLabelValues(string(t.Outcome)).Inc()
	}
}

// ObserveRun records how long a run took and whether it failed.
func (m *Metrics) ObserveRun(kind types.EventKind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runDuration.WithLabelValues(string(kind), status).Observe(elapsed.Seconds())
}

// ObserveNotification counts a notification delivery attempt.
func (m *Metrics) ObserveNotification(delivered bool) {
	if m == nil {
		return
	}
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.notifications.WithLabelValues(status).Inc()
}

// WatchQueue exports the gateway queue's lane count and in-flight runs as
// gauges sampled at scrape time.
func WatchQueue(reg prometheus.Registerer, stats func() gateway.QueueStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "session_lanes",
			Help:      "Session lanes currently alive.",
		}, func() float64 { return float64(stats().Lanes) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "active_runs",
			Help:      "Runs executing right now.",
		}, func() float64 { return float64(stats().Active) }),
	)
}
