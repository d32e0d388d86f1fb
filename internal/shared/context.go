package shared

import "context"

// Principal identifies the verified caller of a request. It is installed by
// the gateway middleware from upstream identity headers; no component reads
// an ambient global to discover who the caller is.
type Principal struct {
	ID       string
	TenantID string
	// Country is the request origin claim used by geography restrictions.
	Country string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context, nil when absent.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
