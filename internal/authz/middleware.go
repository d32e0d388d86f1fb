package authz

import (
	"net/http"

	"github.com/palisade-io/palisade/internal/platform/httpx"
	"github.com/palisade-io/palisade/internal/shared"
)

// Require is the gateway enforcement point: it answers the coarse
// type-and-action question for the caller before the wrapped handler runs.
// Fine-grained checks against a concrete resource stay inside the handler.
func (e *Engine) Require(resourceType, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			decision := e.Authorize(r.Context(), CheckRequest{
				PrincipalID:  principal.ID,
				ResourceType: resourceType,
				Action:       action,
				Country:      principal.Country,
			})
			if !decision.Allowed {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
