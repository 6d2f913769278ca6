package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"medconsult.org/internal/auth"
	"medconsult.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoBearer = errors.New("missing bearer token")

// TokenParser verifies a raw bearer token.
type TokenParser interface {
	Parse(raw string) (auth.Claims, error)
}

// PrincipalResolver turns verified claims into a live identity.
type PrincipalResolver interface {
	Resolve(ctx context.Context, claims auth.Claims) (auth.Principal, error)
}

// PublicRoutes is the allow-list of paths that skip token work entirely.
// Matching looks at the path only; the method is ignored.
type PublicRoutes struct {
	Paths    []string
	Prefixes []string
}

// Match reports whether path is public.
func (p PublicRoutes) Match(path string) bool {
	for _, exact := range p.Paths {
		if path == exact {
			return true
		}
	}
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AuthGate binds a principal to protected requests that carry a valid
// token for an existing account. It never writes a response: requests it
// cannot authenticate continue without a principal and are refused, if at
// all, by RequireRole or the handler.
func AuthGate(public PublicRoutes, tokens TokenParser, resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.PrincipalFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			if public.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := authenticate(r, tokens, resolver)
			if err != nil {
				if !errors.Is(err, errNoBearer) {
					obs.Debug("auth gate: continuing unauthenticated", map[string]any{
						"request_id": RequestIDFromContext(r.Context()),
						"path":       r.URL.Path,
						"reason":     gateReason(err),
					})
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, tokens TokenParser, resolver PrincipalResolver) (auth.Principal, error) {
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.Principal{}, err
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		return auth.Principal{}, err
	}
	return resolver.Resolve(r.Context(), claims)
}

func gateReason(err error) string {
	if kind := auth.TokenErrorKindOf(err); kind != "" {
		return "token_" + string(kind)
	}
	if errors.Is(err, auth.ErrUnknownPrincipal) {
		return "unknown_principal"
	}
	if errors.Is(err, errNoBearer) {
		return "no_bearer"
	}
	return "resolver_error"
}

// RequireRole refuses requests without a principal (401) or with a principal
// of another role (403). With no roles any principal passes.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error
			if len(roles) == 0 {
				_, err = auth.RequirePrincipal(r.Context())
			} else {
				_, err = auth.RequireRole(r.Context(), roles...)
			}
			if err != nil {
				denyAuthz(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoBearer
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errNoBearer
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}
