package middleware

import (
	"context"
	"net/http"

	"github.com/pkordes/fieldops/internal/auth"
	"github.com/pkordes/fieldops/internal/domain"
)

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(token string) (domain.Actor, error)
}

type actorKey struct{}

type holderKey struct{}

type actorHolder struct {
	actor domain.Actor
	set   bool
}

func withHolder(ctx context.Context, h *actorHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor stored by NewAuthenticator.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// NewAuthenticator rejects requests without a valid bearer token with 401 and
// stores the verified actor in the request context.
func NewAuthenticator(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			actor, err := v.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			if h, ok := r.Context().Value(holderKey{}).(*actorHolder); ok {
				h.actor, h.set = actor, true
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
