// Package metric exposes keymesh observability as Prometheus metrics.
// A Metrics value owns a private registry and implements the engine's and
// link's metric sinks, so one instance wired at session open covers the
// whole bridge.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all keymesh metrics backed by a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HandlesOpen  *prometheus.GaugeVec
	HandlesTotal *prometheus.CounterVec

	SamplesRouted    *prometheus.CounterVec
	SamplesDelivered prometheus.Counter
	SamplesDropped   *prometheus.CounterVec

	QueriesStarted   prometheus.Counter
	QueriesFinished  *prometheus.CounterVec
	RepliesDelivered prometheus.Counter

	LinkConnected     prometheus.Gauge
	LinkSamplesOut    prometheus.Counter
	LinkSamplesIn     prometheus.Counter
	LinkQueriesOut    prometheus.Counter
	LinkQueriesServed prometheus.Counter
}

// New creates a Metrics instance with its own Prometheus registry,
// including the standard Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HandlesOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "keymesh",
				Subsystem: "handles",
				Name:      "open",
				Help:      "Currently open engine handles by kind",
			},
			[]string{"kind"},
		),
		HandlesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "handles",
				Name:      "opened_total",
				Help:      "Total engine handles opened by kind",
			},
			[]string{"kind"},
		),

		SamplesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "samples",
				Name:      "routed_total",
				Help:      "Total samples routed by kind",
			},
			[]string{"kind"},
		),
		SamplesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "samples",
				Name:      "delivered_total",
				Help:      "Total samples delivered to receivers",
			},
		),
		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "samples",
				Name:      "dropped_total",
				Help:      "Total samples dropped by reason",
			},
			[]string{"reason"},
		),

		QueriesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "queries",
				Name:      "started_total",
				Help:      "Total queries started",
			},
		),
		QueriesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "queries",
				Name:      "finished_total",
				Help:      "Total queries finished by reason",
			},
			[]string{"reason"},
		),
		RepliesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "queries",
				Name:      "replies_delivered_total",
				Help:      "Total replies delivered to queriers",
			},
		),

		LinkConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keymesh",
				Subsystem: "link",
				Name:      "connected",
				Help:      "Whether the mesh link is connected (0/1)",
			},
		),
		LinkSamplesOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "link",
				Name:      "samples_out_total",
				Help:      "Total samples mirrored to the mesh",
			},
		),
		LinkSamplesIn: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "link",
				Name:      "samples_in_total",
				Help:      "Total samples received from the mesh",
			},
		),
		LinkQueriesOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "link",
				Name:      "queries_out_total",
				Help:      "Total queries forwarded to the mesh",
			},
		),
		LinkQueriesServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keymesh",
				Subsystem: "link",
				Name:      "queries_served_total",
				Help:      "Total remote queries served locally",
			},
		),
	}

	registry.MustRegister(
		m.HandlesOpen,
		m.HandlesTotal,
		m.SamplesRouted,
		m.SamplesDelivered,
		m.SamplesDropped,
		m.QueriesStarted,
		m.QueriesFinished,
		m.RepliesDelivered,
		m.LinkConnected,
		m.LinkSamplesOut,
		m.LinkSamplesIn,
		m.LinkQueriesOut,
		m.LinkQueriesServed,
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Engine sink.

// HandleOpened records an engine handle allocation.
func (m *Metrics) HandleOpened(kind string) {
	m.HandlesOpen.WithLabelValues(kind).Inc()
	m.HandlesTotal.WithLabelValues(kind).Inc()
}

// HandleClosed records an engine handle release.
func (m *Metrics) HandleClosed(kind string) {
	m.HandlesOpen.WithLabelValues(kind).Dec()
}

// SampleRouted records one routed publication.
func (m *Metrics) SampleRouted(kind string) {
	m.SamplesRouted.WithLabelValues(kind).Inc()
}

// SampleDelivered records one delivered sample.
func (m *Metrics) SampleDelivered() {
	m.SamplesDelivered.Inc()
}

// SampleDropped records one dropped sample.
func (m *Metrics) SampleDropped(reason string) {
	m.SamplesDropped.WithLabelValues(reason).Inc()
}

// QueryStarted records one started query.
func (m *Metrics) QueryStarted() {
	m.QueriesStarted.Inc()
}

// QueryFinished records one finished query.
func (m *Metrics) QueryFinished(reason string) {
	m.QueriesFinished.WithLabelValues(reason).Inc()
}

// ReplyDelivered records one delivered reply.
func (m *Metrics) ReplyDelivered() {
	m.RepliesDelivered.Inc()
}

// Link sink.

// LinkUp records link connectivity transitions.
func (m *Metrics) LinkUp(up bool) {
	if up {
		m.LinkConnected.Set(1)
	} else {
		m.LinkConnected.Set(0)
	}
}

// SampleOut records one sample mirrored to the mesh.
func (m *Metrics) SampleOut() {
	m.LinkSamplesOut.Inc()
}

// SampleIn records one sample received from the mesh.
func (m *Metrics) SampleIn() {
	m.LinkSamplesIn.Inc()
}

// QueryOut records one query forwarded to the mesh.
func (m *Metrics) QueryOut() {
	m.LinkQueriesOut.Inc()
}

// QueryServed records one remote query served locally.
func (m *Metrics) QueryServed() {
	m.LinkQueriesServed.Inc()
}
