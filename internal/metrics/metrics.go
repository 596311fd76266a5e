package metrics

import (
    "bufio"
    "errors"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, route pattern, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // TimelineComputations counts engine runs by mode (preview, commit, read) and outcome
    TimelineComputations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "timeline_computations_total", Help: "Timeline computations by mode and outcome."},
        []string{"mode", "outcome"},
    )
    // TimelineDuration records engine latency in seconds
    TimelineDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "timeline_computation_duration_seconds", Help: "Timeline computation latency in seconds.", Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}},
        []string{"mode"},
    )
    // TimelineSegments observes segment counts per computed timeline
    TimelineSegments = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "timeline_segments", Help: "Segments per computed timeline.", Buckets: prometheus.ExponentialBuckets(1, 2, 10)},
    )
    // TimelineWarnings counts normalization warnings
    TimelineWarnings = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "timeline_warnings_total", Help: "Normalization warnings emitted."},
    )
    // RouteModelCache counts route model cache lookups by result (hit, miss)
    RouteModelCache = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_model_cache_total", Help: "Route timing model cache lookups."},
        []string{"result"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to Registry once.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests, HTTPDuration)
        Registry.MustRegister(TimelineComputations, TimelineDuration, TimelineSegments, TimelineWarnings, RouteModelCache)
        Registry.MustRegister(WebhookDeliveries, WebhookLatency)
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
    RegisterDefault()
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveTimeline records one engine run.
func ObserveTimeline(mode string, err error, elapsed time.Duration, segments, warnings int) {
    outcome := "ok"
    if err != nil {
        outcome = "error"
    }
    TimelineComputations.WithLabelValues(mode, outcome).Inc()
    TimelineDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
    if err == nil {
        TimelineSegments.Observe(float64(segments))
        TimelineWarnings.Add(float64(warnings))
    }
}

// Instrument wraps next with request counters. The path label is the matched
// ServeMux pattern so ids do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(sw, r)
        path := r.Pattern
        if path == "" {
            path = "unmatched"
        }
        status := strconv.Itoa(sw.status)
        HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
    })
}

type statusWriter struct {
    http.ResponseWriter
    status int
}

func (w *statusWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (w *statusWriter) Flush() {
    if f, ok := w.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := w.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("metrics: response writer does not support hijacking")
    }
    return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
