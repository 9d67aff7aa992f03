package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes recorded by EventHandled.
const (
	OutcomeDelivered   = "delivered"
	OutcomeDropped     = "dropped"
	OutcomeRateLimited = "rate_limited"
	OutcomeStoreError  = "store_error"
)

// Metrics owns a private Prometheus registry and the chat collectors.
type Metrics struct {
	registry   *prometheus.Registry
	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec
	sessions   prometheus.Gauge
	sessionCnt *prometheus.CounterVec
	eventCnt   *prometheus.CounterVec
	deliverErr prometheus.Counter
	fanout     prometheus.Histogram
}

// New registers every collector under cfg.Namespace.
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_active"})
	sessionCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sessions_total"}, []string{"result"})
	eventCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "events_total"}, []string{"type", "outcome"})
	deliverErr := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "delivery_failures_total"})
	fanout := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Name: "fanout_recipients", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
	r.MustRegister(sessions, sessionCnt, eventCnt, deliverErr, fanout)

	return &Metrics{
		registry:   r,
		httpReqCnt: httpReqCnt,
		httpDur:    httpDur,
		httpInfl:   httpInfl,
		sessions:   sessions,
		sessionCnt: sessionCnt,
		eventCnt:   eventCnt,
		deliverErr: deliverErr,
		fanout:     fanout,
	}
}

// SessionOpened records a session that reached the active state.
func (m *Metrics) SessionOpened() {
	m.sessions.Inc()
	m.sessionCnt.WithLabelValues("accepted").Inc()
}

// SessionRejected records a connection refused before activation.
func (m *Metrics) SessionRejected() {
	m.sessionCnt.WithLabelValues("rejected").Inc()
}

// SessionClosed records the end of an active session.
func (m *Metrics) SessionClosed() {
	m.sessions.Dec()
}

// EventHandled counts one inbound event by type and outcome.
func (m *Metrics) EventHandled(eventType, outcome string) {
	m.eventCnt.WithLabelValues(eventType, outcome).Inc()
}

// DeliveryFailed counts a recipient dropped during fan-out.
func (m *Metrics) DeliveryFailed() {
	m.deliverErr.Inc()
}

// Fanout observes how many clients received one event.
func (m *Metrics) Fanout(recipients int) {
	m.fanout.Observe(float64(recipients))
}

// Middleware records request count, latency and in-flight requests per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
