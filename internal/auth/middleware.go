package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"order-lifecycle/internal/models"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const actorKey contextKey = "actor"

// Middleware verifies the bearer token against the OIDC issuer and stores
// the resolved actor in the request context. An expired session is
// reported with a distinct error code so clients can defer to the
// redirect-to-login flow instead of raising their own error.
func Middleware(issuer string) func(http.Handler) http.Handler {
	if issuer == "" {
		panic("OIDC issuer not configured")
	}

	provider, err := oidc.NewProvider(context.Background(), issuer)
	if err != nil {
		panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
	}

	// Verifier (SkipClientIDCheck → no client ID required)
	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Expect "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}
			rawToken := parts[1]

			idToken, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				if IsExpiry(err) {
					w.Header().Set("X-Session-State", "expired")
					http.Error(w, "session expired", http.StatusUnauthorized)
					return
				}
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			var claims struct {
				Sub   string   `json:"sub"`
				Roles []string `json:"roles"`
			}
			if err := idToken.Claims(&claims); err != nil {
				http.Error(w, "failed to parse claims", http.StatusUnauthorized)
				return
			}

			actor := models.Actor{
				Type: actorTypeFromRoles(claims.Roles),
				ID:   claims.Sub,
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DevMiddleware resolves the actor from the token's claims without
// signature verification. It stands in for Middleware when no OIDC
// issuer is configured; local development only. Requests without
// credentials proceed with the zero Actor.
func DevMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			actor, err := ActorFromJWT(rawToken)
			if err != nil {
				if IsExpiry(err) {
					w.Header().Set("X-Session-State", "expired")
					http.Error(w, "session expired", http.StatusUnauthorized)
					return
				}
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ActorFromContext returns the authenticated actor stored by the
// middleware. The zero Actor means an unauthenticated request.
func ActorFromContext(ctx context.Context) models.Actor {
	if actor, ok := ctx.Value(actorKey).(models.Actor); ok {
		return actor
	}
	return models.Actor{}
}

// WithActor injects an actor into the context; used by main when auth is
// disabled and by tests.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func actorTypeFromRoles(roles []string) models.ActorType {
	for _, role := range roles {
		if role == "staff" || role == "manager" {
			return models.ActorStaff
		}
	}
	return models.ActorUser
}
