// Package metrics holds the Prometheus collectors of the runtime.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/autoclient/internal/automation"
)

type Metrics struct {
	registry *prometheus.Registry

	Backoff            prometheus.Gauge
	QueueLength        prometheus.Gauge
	InFlight           *prometheus.GaugeVec
	Workers            prometheus.Gauge
	WorkerRestarts     prometheus.Counter
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	WSConnected        prometheus.Gauge
	WSReconnects       prometheus.Counter
	WSQueued           prometheus.Gauge
}

// New registers every collector on a private registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Backoff: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclient_cluster_backoff",
			Help: "1 while the backend has been asked to back off, else 0",
		}),
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclient_cluster_queue_length",
			Help: "Entries waiting for a worker",
		}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoclient_cluster_in_flight",
			Help: "Invocations assigned to a worker and not yet finished",
		}, []string{"kind"}),
		Workers: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclient_cluster_workers",
			Help: "Worker processes that are online",
		}),
		WorkerRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "autoclient_cluster_worker_restarts_total",
			Help: "Worker processes replaced after an unexpected exit",
		}),
		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoclient_invocations_total",
			Help: "Finished invocations by kind and outcome",
		}, []string{"kind", "outcome"}),
		InvocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoclient_invocation_duration_seconds",
			Help:    "Invocation wall time from receipt to result",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		WSConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclient_websocket_connected",
			Help: "1 while the WebSocket is connected",
		}),
		WSReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "autoclient_websocket_reconnects_total",
			Help: "WebSocket reconnect attempts",
		}),
		WSQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoclient_websocket_queued_messages",
			Help: "Outgoing messages waiting for a connection",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackDroppedEvents exposes fn as the count of live events lost to slow
// stream subscribers.
func (m *Metrics) TrackDroppedEvents(fn func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "autoclient_events_dropped_total",
		Help: "Live events not delivered to a stream subscriber that fell behind",
	}, func() float64 { return float64(fn()) }))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Listener counts finished invocations.
type Listener struct {
	automation.NopListener
	m   *Metrics
	now func() time.Time
}

func NewListener(m *Metrics) *Listener {
	return &Listener{m: m, now: time.Now}
}

func (l *Listener) CommandSuccessful(_ context.Context, _ *automation.Command, hc *automation.HandlerContext, _ *automation.HandlerResult) error {
	l.observe("command", "success", hc)
	return nil
}

func (l *Listener) CommandFailed(_ context.Context, _ *automation.Command, hc *automation.HandlerContext, _ *automation.HandlerResult) error {
	l.observe("command", "failure", hc)
	return nil
}

func (l *Listener) EventSuccessful(_ context.Context, _ *automation.Event, hc *automation.HandlerContext, _ []automation.HandlerResult) error {
	l.observe("event", "success", hc)
	return nil
}

func (l *Listener) EventFailed(_ context.Context, _ *automation.Event, hc *automation.HandlerContext, _ []automation.HandlerResult) error {
	l.observe("event", "failure", hc)
	return nil
}

func (l *Listener) observe(kind, outcome string, hc *automation.HandlerContext) {
	l.m.Invocations.WithLabelValues(kind, outcome).Inc()
	if hc != nil && hc.Ts > 0 {
		l.m.InvocationDuration.WithLabelValues(kind).Observe(l.now().Sub(time.UnixMilli(hc.Ts)).Seconds())
	}
}
