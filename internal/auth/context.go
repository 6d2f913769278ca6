package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal binds the principal to the context. A context that
// already carries a principal is returned unchanged: once bound, a request's
// identity cannot be replaced.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	if principal.IsZero() {
		return ctx
	}
	if _, ok := PrincipalFromContext(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || v.IsZero() {
		return Principal{}, false
	}
	return v, true
}

// RequirePrincipal returns the bound principal or ErrUnauthenticated.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

// RequireRole returns the bound principal when it has one of roles.
func RequireRole(ctx context.Context, roles ...Role) (Principal, error) {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return Principal{}, err
	}
	for _, r := range roles {
		if p.Role() == r {
			return p, nil
		}
	}
	return Principal{}, ErrForbidden
}
