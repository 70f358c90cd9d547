// v0
// internal/metrics/metrics.go
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink publish results.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is a
// valid no-op so components can be built without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	readingsTotal     prometheus.Counter
	anomaliesTotal    *prometheus.CounterVec
	purgedTotal       prometheus.Counter
	liveReadings      prometheus.Gauge
	cycleDuration     prometheus.Histogram
	cycleOverruns     prometheus.Counter
	subscribers       prometheus.Gauge
	subscriberDrops   prometheus.Counter
	sinkPublish       *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	cbState           *prometheus.GaugeVec
}

// New registers every series on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_readings_generated_total",
			Help: "Total readings produced by the generator.",
		}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_anomalies_total",
			Help: "Anomaly alerts raised by severity.",
		}, []string{"severity"}),
		purgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_readings_purged_total",
			Help: "Readings removed by the retention sweeper.",
		}),
		liveReadings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_store_live_readings",
			Help: "Readings currently held in the ring buffer.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_generator_cycle_duration_seconds",
			Help:    "Time spent producing one batch, excluding the pacing sleep.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		cycleOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_generator_cycle_overruns_total",
			Help: "Cycles that took longer than the configured period.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_hub_subscribers",
			Help: "Connected push subscribers.",
		}),
		subscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_hub_slow_subscribers_dropped_total",
			Help: "Subscribers disconnected because their send queue was full.",
		}),
		sinkPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_sink_publish_total",
			Help: "Broadcast attempts by sink and result.",
		}, []string{"sink", "result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsTotal,
		m.anomaliesTotal,
		m.purgedTotal,
		m.liveReadings,
		m.cycleDuration,
		m.cycleOverruns,
		m.subscribers,
		m.subscriberDrops,
		m.sinkPublish,
		m.httpRequestsTotal,
		m.httpDuration,
		m.cbState,
	)

	return m
}

// Registry exposes the underlying registry for tests and custom gatherers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

// WrapHandler counts requests and observes latency for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ReadingsGenerated adds n stored readings.
func (m *Metrics) ReadingsGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readingsTotal.Add(float64(n))
}

// Anomaly counts one alert of the given severity.
func (m *Metrics) Anomaly(severity string) {
	if m == nil {
		return
	}
	m.anomaliesTotal.WithLabelValues(severity).Inc()
}

// Purged adds n readings removed by retention.
func (m *Metrics) Purged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purgedTotal.Add(float64(n))
}

// SetLiveReadings records the store size.
func (m *Metrics) SetLiveReadings(n int) {
	if m == nil {
		return
	}
	m.liveReadings.Set(float64(n))
}

// ObserveCycle records how long a generator batch took and whether it overran its period.
func (m *Metrics) ObserveCycle(elapsed, period time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(elapsed.Seconds())
	if elapsed > period {
		m.cycleOverruns.Inc()
	}
}

// SetSubscribers records the number of hub subscribers.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// SubscriberDropped counts a subscriber disconnected for falling behind.
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.subscriberDrops.Inc()
}

// SinkPublish counts one publish outcome for sink.
func (m *Metrics) SinkPublish(sink, result string) {
	if m == nil {
		return
	}
	m.sinkPublish.WithLabelValues(sink, result).Inc()
}

// SetCircuitBreakerState records a breaker position: 0 closed, 1 half-open, 2 open.
func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}
