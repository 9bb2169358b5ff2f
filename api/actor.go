package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/warp/shift-engine/core"
)

// ActorResolver identifies the caller of a request. Authentication happens
// upstream; the engine only needs the user ID and role.
type ActorResolver interface {
	Resolve(r *http.Request) (core.Actor, error)
}

var errNoActor = errors.New("missing caller identity")

// HeaderActorResolver trusts X-User-ID and X-User-Role set by the gateway.
// A missing role defaults to processor.
type HeaderActorResolver struct{}

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

func (HeaderActorResolver) Resolve(r *http.Request) (core.Actor, error) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		return core.Actor{}, errNoActor
	}
	role := core.Role(r.Header.Get(HeaderUserRole))
	switch role {
	case "":
		role = core.RoleProcessor
	case core.RoleProcessor, core.RoleAdmin, core.RoleSystem:
	default:
		return core.Actor{}, errors.New("unknown role " + string(role))
	}
	return core.Actor{UserID: id, Role: role}, nil
}

type actorKey struct{}

func withActor(ctx context.Context, a core.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFrom(ctx context.Context) core.Actor {
	a, _ := ctx.Value(actorKey{}).(core.Actor)
	return a
}

// resolveActor rejects requests without a caller identity.
func resolveActor(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := resolver.Resolve(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

// requireRole lets through only the listed roles.
func requireRole(roles ...core.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFrom(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "insufficient role", Code: "forbidden"})
		})
	}
}
