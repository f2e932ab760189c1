package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported by the checkout service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	Settlements   *prometheus.CounterVec
	Checkouts     *prometheus.CounterVec
	Webhooks      *prometheus.CounterVec
	OutboxPublish *prometheus.CounterVec
}

// New registers all collectors on a fresh registry so tests can build as
// many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coursecart",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "settlements_total",
			Help:      "Settlement attempts by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "checkouts_total",
			Help:      "Checkout session initiations by result.",
		}, []string{"result"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "payment_webhooks_total",
			Help:      "Payment webhook deliveries by HTTP status returned.",
		}, []string{"status"}),
		OutboxPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursecart",
			Name:      "outbox_publish_total",
			Help:      "Outbox messages handed to the broker by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.HTTPRequests, m.HTTPLatency, m.Settlements, m.Checkouts, m.Webhooks, m.OutboxPublish,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The Observe helpers are no-ops on a nil receiver so services can run
// without metrics in tests and tools.

func (m *Metrics) ObserveCheckout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSettlement(kind, outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveWebhook(status int) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveOutbox(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxPublish.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route, method).Observe(d.Seconds())
}
