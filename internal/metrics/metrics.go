package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records service level counters on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	rateLimited      prometheus.Counter
	persistFailures  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_upstream_requests_total",
			Help: "Total number of completion API requests",
		}, []string{"outcome"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbot_upstream_request_duration_seconds",
			Help:    "Duration of completion API requests",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_rate_limited_total",
			Help: "Total number of chat requests rejected by the rate limiter",
		}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_persistence_failures_total",
			Help: "Total number of chat exchanges that could not be stored",
		}),
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream implements upstream.Observer.
func (m *Metrics) ObserveUpstream(outcome string, duration time.Duration) {
	m.upstreamRequests.WithLabelValues(outcome).Inc()
	m.upstreamDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) CacheHit()          { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()         { m.cacheMisses.Inc() }
func (m *Metrics) RateLimited()       { m.rateLimited.Inc() }
func (m *Metrics) PersistenceFailed() { m.persistFailures.Inc() }

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
