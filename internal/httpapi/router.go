package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/lexiqai/caption-gateway/internal/jobs"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/relay"
	"github.com/lexiqai/caption-gateway/internal/web"
)

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	// Relay serves /ingest; nil leaves the route unregistered
	Relay *relay.Relay

	// Jobs runs uploads; nil makes the upload API answer 503
	Jobs *jobs.Orchestrator

	TranscriptPath string
	UploadsDir     string
	MaxUploadBytes int64

	ReadinessChecks map[string]observability.HealthCheckFunc
	MetricsEnabled  bool
}

type server struct {
	deps   Deps
	logger zerolog.Logger
}

// NewRouter builds the service router
func NewRouter(deps Deps) http.Handler {
	s := &server{
		deps:   deps,
		logger: observability.WithComponent("http"),
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_addr"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		// The capture page may run from a separate dev server
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/", web.IndexHandler())
	if deps.Relay != nil {
		r.Get("/ingest", deps.Relay.HandleWS())
	}

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(deps.ReadinessChecks))
	if deps.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/export/srt", s.handleExportSRT)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/status/{jobID}", s.handleStatus)
		r.Get("/result/{jobID}", s.handleResult)
	})

	return r
}
