package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// RouterConfig carries the handlers and middleware the router composes.
type RouterConfig struct {
	License *LicenseHandler
	Health  *HealthHandler
	// Metrics is the Prometheus scrape handler.
	Metrics http.Handler
	// Gate guards non-license routes behind a valid license. Optional.
	Gate   func(http.Handler) http.Handler
	Logger *slog.Logger
}

// NewRouter assembles the service's HTTP surface.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	if cfg.Gate != nil {
		r.Use(cfg.Gate)
	}

	r.Route("/api", func(api chi.Router) {
		api.Mount("/license", cfg.License.Routes())
		if cfg.Health != nil {
			api.Get("/health", cfg.Health.Health)
		}
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return r
}

// requestLogger logs each request with its chi request id so HTTP access
// lines correlate with service and manager log lines.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
