// Package auth authenticates API requests with per-tenant bearer keys.
// A key maps to exactly one client; every authenticated request carries
// the resolved client ID in its context, and handlers scope every query
// by it. There is no cross-tenant read path.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/httputil"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// KeyResolver maps an API key to its tenant.
type KeyResolver interface {
	ClientIDForKey(ctx context.Context, key string) (string, error)
}

type contextKey struct{}

// ClientID returns the authenticated tenant from the request context,
// or "" outside an authenticated route.
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// WithClientID stamps a tenant onto a context. Exposed for tests.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, contextKey{}, clientID)
}

// Manager is the bearer-key authenticator.
type Manager struct {
	resolver KeyResolver
	log      *logger.Logger
}

func NewManager(resolver KeyResolver) *Manager {
	return &Manager{resolver: resolver, log: logger.For("auth")}
}

// Middleware rejects requests without a valid bearer key and stamps the
// tenant onto the context for the rest of the chain.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			httputil.Error(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		clientID, err := m.resolver.ClientIDForKey(r.Context(), key)
		if err != nil {
			if errs.IsKind(err, errs.NotFound) {
				httputil.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			httputil.InternalError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
