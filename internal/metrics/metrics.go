// Package metrics exposes Prometheus counters for the send and ingest paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one server instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	relayDispatch     *prometheus.CounterVec
	persistFailures   *prometheus.CounterVec
	validationRejects *prometheus.CounterVec
	ingested          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassmail_relay_dispatch_total",
			Help: "Outbound relay calls by outcome.",
		}, []string{"outcome"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassmail_persist_failures_total",
			Help: "Mailbox writes that failed, by path.",
		}, []string{"path"}),
		validationRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassmail_send_rejected_total",
			Help: "Sends refused before dispatch, by missing field.",
		}, []string{"field"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glassmail_inbound_total",
			Help: "Inbound webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.relayDispatch,
		m.persistFailures,
		m.validationRejects,
		m.ingested,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Register adds extra collectors, such as gauges owned by other packages.
func (m *Metrics) Register(collectors ...prometheus.Collector) {
	if m == nil {
		return
	}
	m.registry.MustRegister(collectors...)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RelayDispatched(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.relayDispatch.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PersistFailed(path string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(path).Inc()
}

func (m *Metrics) SendRejected(field string) {
	if m == nil {
		return
	}
	m.validationRejects.WithLabelValues(field).Inc()
}

func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}
