package resources

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
)

// RowFilterSource renders the row-level predicate for the caller. It is the
// same decision pipeline the authorization engine runs for a direct check, so
// a row denied there never appears in a filtered listing.
type RowFilterSource interface {
	ResourceFilter(ctx context.Context, principalID, resourceType, action string) (clause string, args []any, err error)
}

// FilteredRepository lists rows under a rendered predicate.
type FilteredRepository interface {
	ListFiltered(ctx context.Context, resourceType string, clause string, args []any, page shared.Pagination) ([]Resource, error)
}

// Handler exposes resource management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	filter   RowFilterSource
	filtered FilteredRepository
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, filter RowFilterSource, filtered FilteredRepository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, filter: filter, filtered: filtered}
}

// MountRoutes registers resource routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
}

// list returns only the rows the caller's effective scope permits. The
// predicate is rendered before the query executes.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	resourceType := r.URL.Query().Get("type")
	if resourceType == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "type query parameter required")
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		action = "read"
	}
	clause, args, err := h.filter.ResourceFilter(r.Context(), principal.ID, resourceType, action)
	if err != nil {
		h.logger.Error("render row filter", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := shared.NewPagination(queryInt(r, "page"), queryInt(r, "per_page"), 0)
	rows, err := h.filtered.ListFiltered(r.Context(), resourceType, clause, args, page)
	if err != nil {
		h.logger.Error("filtered resource list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": rows, "paging": page})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	var req CreateResourceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	res, err := h.service.Create(r.Context(), principal.ID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	if err := h.service.Delete(r.Context(), principal.ID, chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
