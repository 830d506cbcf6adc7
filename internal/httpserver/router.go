package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/handlers"
	"simmgate-vectorcache/internal/metrics"
	"simmgate-vectorcache/internal/middleware"
)

type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 4 << 20
	}
	return o
}

// Handlers groups the route handlers. A nil handler leaves its routes
// unmounted.
type Handlers struct {
	Cache   *handlers.CacheHandler
	Vectors *handlers.VectorHandler
	History *handlers.HistoryHandler
}

// SetupRouter mounts the cache, vector and history routes.
func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, opts Options, h Handlers) {
	opts = opts.withDefaults()

	r.Use(metrics.Middleware(routePattern))

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		if h.Cache != nil {
			r.Route("/cache/{tier}", func(r chi.Router) {
				r.Post("/lookup", h.Cache.Lookup)
				r.Post("/store", h.Cache.Store)
				r.Delete("/", h.Cache.Clear)
			})
		}
		if h.Vectors != nil {
			r.Route("/vectors", func(r chi.Router) {
				r.Post("/", h.Vectors.Add)
				r.Post("/search", h.Vectors.Search)
				r.Post("/delete", h.Vectors.Delete)
				r.Post("/get", h.Vectors.Get)
			})
		}
		if h.History != nil {
			r.Route("/history/{session}", func(r chi.Router) {
				r.Get("/", h.History.Messages)
				r.Post("/", h.History.Add)
				r.Delete("/", h.History.Clear)
			})
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}

// routePattern labels metrics by route template rather than raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
