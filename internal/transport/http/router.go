package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"iwlicense/internal/backup"
	"iwlicense/internal/config"
	"iwlicense/internal/license"
	"iwlicense/internal/middleware"
	"iwlicense/internal/ratelimit"
	"iwlicense/internal/store"
)

// Version is reported by /api/status. Overridden at build time with
// -ldflags "-X iwlicense/internal/transport/http.Version=...".
var Version = "dev"

// RouterDeps holds everything the router needs. MetricsHandler and
// WebhookEvents may be nil; the corresponding endpoints degrade gracefully.
type RouterDeps struct {
	Manager        *license.Manager
	Backups        *backup.Manager
	Limiter        *ratelimit.Limiter
	WebhookEvents  *store.AuditLog[WebhookEvent]
	MetricsHandler http.Handler
	Config         *config.Config
	Logger         *slog.Logger
}

// NewRouter assembles the full HTTP surface: customer license and trial
// endpoints, platform webhooks, and the admin API behind key auth.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.Config.Security.AllowedOrigins,
	}))
	r.Use(middleware.Compress(5))

	global := middleware.NewRateLimiter(
		deps.Config.Security.GlobalRPS,
		deps.Config.Security.GlobalBurst,
		deps.Logger,
	)
	r.Use(global.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	licenseHandler := NewLicenseHandler(deps.Manager, deps.Limiter, deps.Logger)
	webhookHandler := NewWebhookHandler(deps.Manager, deps.WebhookEvents, deps.Logger)
	adminHandler := NewAdminHandler(deps.Manager, deps.Backups, deps.Limiter, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			render.JSON(w, req, StatusResponse{
				Status:  "operational",
				Version: Version,
				Time:    time.Now().UTC(),
			})
		})

		r.Mount("/license", licenseHandler.Routes())
		r.Mount("/trial", licenseHandler.TrialRoutes())
		r.Mount("/webhooks", webhookHandler.Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(deps.Config.Security.AdminKeyHash, deps.Logger))
			r.Mount("/", adminHandler.Routes())
		})
	})

	return r
}
