package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offboard_actions_total",
			Help: "Deprovisioning results recorded, by action and status.",
		},
		[]string{"action", "status"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offboard_runs_total",
			Help: "Deprovisioning runs by outcome.",
		},
		[]string{"outcome"},
	)

	// offboard_build_info{version,commit,go_version} 1
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offboard_build_info",
			Help: "Running offboard binary.",
		},
		[]string{"version", "commit", "go_version"},
	)

	initOnce sync.Once
)

// Регистрация метрик в default-регистре. version и commit попадают в
// offboard_build_info; пустой commit пишется как "unknown".
func Init(version, commit string) {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, actionsTotal, runsTotal, buildInfo)
	})
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAction counts one result entry.
func RecordAction(action, status string) {
	actionsTotal.WithLabelValues(action, status).Inc()
}

// RecordRun counts one finished run.
func RecordRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

var knownPaths = map[string]struct{}{
	"/":                 {},
	"/login":            {},
	"/auth-response":    {},
	"/logout":           {},
	"/test-connections": {},
	"/deprovision":      {},
	"/health":           {},
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
	"/v1/info":          {},
}

// CanonicalPath maps a request path onto a bounded label set.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
