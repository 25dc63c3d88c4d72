/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Strip:      /collections/editable/ routes like /collections/editable
  4. Logger:     Structured request logging (slog)
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. Timeout:    Per-request deadline, when configured
  7. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /, /health, /metrics     Service endpoints
  /collections/*           Records, history, import

AUTHENTICATION:
  Reads are public. Every mutation (create, update, delete, import)
  passes through RequireActor, which answers 401 before any handler runs
  when the identity is missing.

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: IdentityVerifier implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds router-level settings.
type RouterConfig struct {
	// AllowedOrigins for CORS; empty means any origin.
	AllowedOrigins []string

	// RequestTimeout is applied by middleware.Timeout when positive.
	RequestTimeout time.Duration

	// Identity resolves the actor of mutations. Defaults to HeaderIdentity.
	Identity IdentityVerifier

	// IdentityHeader is allowed through CORS preflight. Defaults to X-User.
	IdentityHeader string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	identity := cfg.Identity
	if identity == nil {
		identity = HeaderIdentity{}
	}
	identityHeader := cfg.IdentityHeader
	if identityHeader == "" {
		identityHeader = DefaultIdentityHeader
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", identityHeader, APIKeyHeader},
		ExposedHeaders: []string{"X-Import-ID", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", h.Info)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", h.ListRecords)
		r.Get("/editable", h.ListEditable)
		r.Get("/readonly", h.ListReadOnly)
		r.Get("/history/{logical_id}", h.GetHistory)
		r.Get("/import/template", h.DownloadTemplate)
		r.Get("/{record_id}", h.GetRecord)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor(identity))

			r.Post("/", h.CreateRecord)
			r.Post("/import", h.ImportUpload)
			r.Post("/import/sample", h.LoadSample)
			r.Put("/{record_id}", h.UpdateRecord)
			r.Delete("/{record_id}", h.DeleteRecord)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "NOT_FOUND"})
	})

	return r
}
