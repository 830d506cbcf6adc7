package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: cache lookups by tier (exact, semantic, redis) and result
	// (hit, miss, error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of LLM cache lookups.",
		},
		[]string{"tier", "result"},
	)

	// Counter: miss reasons, so a miss can be diagnosed without changing
	// what the caller sees.
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of LLM cache misses by reason.",
		},
		[]string{"tier", "reason"},
	)

	CacheStoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_stores_total",
			Help: "Total number of LLM cache writes.",
		},
		[]string{"tier", "result"},
	)

	// Histogram: latency of document store calls.
	StoreOperationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_seconds",
			Help:    "Latency of document store operations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "op"},
	)

	UpsertDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upsert_documents_total",
			Help: "Documents written by batched upserts.",
		},
		[]string{"backend", "result"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			CacheMissesTotal,
			CacheStoresTotal,
			StoreOperationSeconds,
			UpsertDocumentsTotal,
			HTTPRequestSeconds,
		)
	})
}

// ObserveStore records the latency of one store call.
func ObserveStore(backend, op string, start time.Time) {
	StoreOperationSeconds.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request, labelled by route pattern.
func Middleware(routePattern func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if routePattern != nil {
				if p := routePattern(r); p != "" {
					path = p
				}
			}

			HTTPRequestSeconds.
				WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
				Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
