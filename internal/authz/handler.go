package authz

import (
	"log/slog"
	"net/http"

	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"

	"github.com/go-chi/chi/v5"
)

// Bulk checks are bounded to keep a single request from monopolizing the
// engine.
const maxBulkItems = 100

// Handler exposes the decision endpoints.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers decision routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/check/bulk", h.checkBulk)
	r.Get("/effective-permissions", h.effective)
	r.Get("/ui", h.ui)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	var req CheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := shared.Validator().Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Checks always answer for the caller; asking about someone else is a
	// management concern, not a gateway one.
	req.PrincipalID = principal.ID
	req.Country = principal.Country
	decision := h.engine.Authorize(r.Context(), req)
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) checkBulk(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	var req struct {
		Items []BulkItem `json:"items"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBulkItems {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	decisions := h.engine.AuthorizeMultiple(r.Context(), principal.ID, principal.Country, req.Items)
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	candidates, err := h.engine.EffectiveAccess(r.Context(), principal.ID, principal.Country)
	if err != nil {
		h.logger.Error("effective access", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": candidates})
}

func (h *Handler) ui(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	var manifest []Affordance
	if module := r.URL.Query().Get("module"); module != "" {
		var ok bool
		manifest, ok = ModuleManifests[module]
		if !ok {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
	}
	affordances, err := h.engine.Affordances(r.Context(), principal.ID, principal.Country, manifest)
	if err != nil {
		h.logger.Error("ui affordances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"affordances": affordances})
}
