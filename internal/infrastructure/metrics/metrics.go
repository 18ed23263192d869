// Package metrics provides Prometheus metrics for the Guestlink service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/guestlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/guestlink-core/internal/link"
)

const namespace = "guestlink"

// Metrics contains the event-driven Prometheus metrics.
//
// Values owned by other components (link counters, registry size, active
// subscribers) are exported through Register* functions that read them at
// scrape time instead of being duplicated here.
type Metrics struct {
	// Dispatch metrics
	DispatchTotal *prometheus.CounterVec

	// Fan-out metrics
	PushesTotal    *prometheus.CounterVec
	EvictionsTotal prometheus.Counter

	// History metrics
	HistoryDroppedTotal prometheus.Counter

	factory promauto.Factory
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "total",
				Help:      "Received packages by command and dispatch result",
			},
			[]string{"command", "result"},
		),

		PushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "pushes_total",
				Help:      "Writes to subscribers by kind (snapshot, keepalive)",
			},
			[]string{"kind"},
		),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "evictions_total",
			Help:      "Subscribers evicted after a failed write",
		}),

		HistoryDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "dropped_total",
			Help:      "Guest reports dropped because the history queue was full",
		}),
	}
}

// ObserveDispatch counts one dispatched package.
func (m *Metrics) ObserveDispatch(command, result string) {
	m.DispatchTotal.WithLabelValues(command, result).Inc()
}

// ObservePush counts one subscriber write.
func (m *Metrics) ObservePush(kind string) {
	m.PushesTotal.WithLabelValues(kind).Inc()
}

// ObserveEviction counts one evicted subscriber.
func (m *Metrics) ObserveEviction() {
	m.EvictionsTotal.Inc()
}

// HistoryDropped counts one report lost to a full history queue.
func (m *Metrics) HistoryDropped() {
	m.HistoryDroppedTotal.Inc()
}

// RegisterTransport exports the link transport counters. stats is called on
// every scrape.
func (m *Metrics) RegisterTransport(stats func() link.Stats) {
	counters := []struct {
		name string
		help string
		get  func(link.Stats) uint64
	}{
		{"frames_rx_total", "Frames accepted from the radio", func(s link.Stats) uint64 { return s.FramesRx }},
		{"frames_tx_total", "Frames handed to the radio", func(s link.Stats) uint64 { return s.FramesTx }},
		{"frames_dropped_total", "Frames dropped because the receive queue was full", func(s link.Stats) uint64 { return s.FramesDropped }},
		{"frames_malformed_total", "Frames shorter than the frame header", func(s link.Stats) uint64 { return s.FramesMalformed }},
		{"send_timeouts_total", "Sends with no completion before the deadline", func(s link.Stats) uint64 { return s.SendTimeouts }},
		{"send_failures_total", "Sends the radio reported as failed", func(s link.Stats) uint64 { return s.SendFailures }},
	}

	for _, c := range counters {
		get := c.get
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(get(stats())) })
	}
}

// RegisterRegistry exports the guest registry size and capacity drops.
func (m *Metrics) RegisterRegistry(size func() int, dropped func() uint64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "guests",
		Help:      "Guests currently in the registry",
	}, func() float64 { return float64(size()) })

	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guests_dropped_total",
		Help:      "Reports from new guests refused because the registry was full",
	}, func() float64 { return float64(dropped()) })
}

// RegisterTelemetry exports the InfluxDB point counters.
func (m *Metrics) RegisterTelemetry(stats func() influxdb.Stats) {
	counters := []struct {
		name string
		help string
		get  func(influxdb.Stats) uint64
	}{
		{"points_total", "Guest points handed to the InfluxDB batch writer", func(s influxdb.Stats) uint64 { return s.Points }},
		{"points_rejected_total", "Guest points refused before batching", func(s influxdb.Stats) uint64 { return s.Rejected }},
		{"write_failures_total", "Batch writes the InfluxDB server rejected", func(s influxdb.Stats) uint64 { return s.Failed }},
	}

	for _, c := range counters {
		get := c.get
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "influxdb",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(get(stats())) })
	}
}

// RegisterSubscribers exports the number of active event stream subscribers.
func (m *Metrics) RegisterSubscribers(active func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "fanout",
		Name:      "subscribers",
		Help:      "Active event stream subscribers",
	}, func() float64 { return float64(active()) })
}

// Handler returns the exposition handler for the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
