package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/palisade-io/palisade/internal/audit"
	"github.com/palisade-io/palisade/internal/authz"
	"github.com/palisade-io/palisade/internal/delegation"
	"github.com/palisade-io/palisade/internal/emergency"
	"github.com/palisade-io/palisade/internal/observability"
	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/resources"
	"github.com/palisade-io/palisade/internal/roles"
	"github.com/palisade-io/palisade/internal/users"
	"github.com/palisade-io/palisade/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	Engine *authz.Engine

	AuthzHandler       *authz.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *permissions.Handler
	ResourcesHandler   *resources.Handler
	DelegationHandler  *delegation.Handler
	EmergencyHandler   *emergency.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/authz", params.AuthzHandler.MountRoutes)
		api.Route("/delegations", params.DelegationHandler.MountRoutes)
		api.Route("/emergency", params.EmergencyHandler.MountRoutes)
		api.Route("/resources", params.ResourcesHandler.MountRoutes)

		// Administrative surfaces sit behind the gateway check the engine
		// itself provides.
		api.Route("/users", func(sub chi.Router) {
			sub.Use(params.Engine.Require("user", "manage"))
			params.UsersHandler.MountRoutes(sub)
		})
		api.Route("/roles", func(sub chi.Router) {
			sub.Use(params.Engine.Require("role", "manage"))
			params.RolesHandler.MountRoutes(sub)
		})
		api.Route("/permissions", func(sub chi.Router) {
			sub.Use(params.Engine.Require("permission", "manage"))
			params.PermissionsHandler.MountRoutes(sub)
		})
		api.Route("/audit", func(sub chi.Router) {
			sub.Use(params.Engine.Require("audit", "read"))
			params.AuditHandler.MountRoutes(sub)
		})

		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
