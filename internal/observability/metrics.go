package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	postings        *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	violations      prometheus.Counter
	transitions     *prometheus.CounterVec
	closeDuration   *prometheus.HistogramVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_postings_total",
		Help: "Jumlah posting jurnal yang diterima per modul.",
	}, []string{"module", "duplicate"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_posting_rejections_total",
		Help: "Jumlah posting jurnal yang ditolak per modul dan alasan.",
	}, []string{"module", "reason"})
	violations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_gl_consistency_violations_total",
		Help: "Jumlah pelanggaran konsistensi saldo periode.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_period_transitions_total",
		Help: "Jumlah tutup/buka periode per modul dan hasil.",
	}, []string{"module", "action", "outcome"})
	closeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_gl_period_transition_duration_seconds",
		Help:    "Durasi tutup/buka periode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
	registry.MustRegister(requests, duration, postings, rejections, violations, transitions, closeDuration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postings:        postings,
		rejections:      rejections,
		violations:      violations,
		transitions:     transitions,
		closeDuration:   closeDuration,
	}
}

// PostingAccepted mencatat posting yang diterima, termasuk pengiriman ulang.
func (m *Metrics) PostingAccepted(module string, duplicate bool) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(module, strconv.FormatBool(duplicate)).Inc()
}

// PostingRejected mencatat posting yang ditolak.
func (m *Metrics) PostingRejected(module, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(module, reason).Inc()
}

// ConsistencyViolation mencatat seri saldo yang dihentikan.
func (m *Metrics) ConsistencyViolation(string) {
	if m == nil {
		return
	}
	m.violations.Inc()
}

// PeriodTransition mencatat hasil dan durasi tutup/buka periode.
func (m *Metrics) PeriodTransition(module, action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(module, action, outcome).Inc()
	m.closeDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
