package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// ACTOR IDENTITY
// =============================================================================
//
// Authentication is delegated. With a JWT secret configured every /api
// request must carry "Authorization: Bearer <token>" whose claims name the
// user (sub), role and optional department_id. Without a secret the actor
// is read from X-Actor-ID / X-Actor-Role / X-Actor-Department, which is
// only meant for local development and the demo UI.

const (
	headerActorID         = "X-Actor-ID"
	headerActorRole       = "X-Actor-Role"
	headerActorDepartment = "X-Actor-Department"
)

type actorKey struct{}

// ActorClaims are the bearer token claims.
type ActorClaims struct {
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

var errNoActor = errors.New("actor identity not provided")

// Authenticator resolves the acting user of a request.
type Authenticator struct {
	Secret []byte
}

// Middleware attaches the actor to the request context. Requests without a
// valid identity get 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actorFrom(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func (a *Authenticator) actorFrom(r *http.Request) (budget.Actor, error) {
	if len(a.Secret) == 0 {
		return actorFromHeaders(r)
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return budget.Actor{}, errors.New("invalid Authorization header format")
	}

	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return budget.Actor{}, fmt.Errorf("invalid or expired token: %w", err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return budget.Actor{}, errors.New("token must carry sub and role claims")
	}
	return budget.Actor{
		ID:           claims.Subject,
		Role:         budget.Role(claims.Role),
		DepartmentID: budget.DepartmentID(claims.DepartmentID),
	}, nil
}

func actorFromHeaders(r *http.Request) (budget.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	role := strings.TrimSpace(r.Header.Get(headerActorRole))
	if id == "" || role == "" {
		return budget.Actor{}, errNoActor
	}
	return budget.Actor{
		ID:           id,
		Role:         budget.Role(role),
		DepartmentID: budget.DepartmentID(strings.TrimSpace(r.Header.Get(headerActorDepartment))),
	}, nil
}

// RequireRole refuses requests whose actor, attached by Middleware, holds
// none of roles.
func RequireRole(roles ...budget.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized", errNoActor)
				return
			}
			if !slices.Contains(roles, actor.Role) {
				writeError(w, http.StatusForbidden, "Forbidden",
					fmt.Errorf("role %q may not use this endpoint", actor.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a bearer token for actor. Used by the scenario loader
// and tests; production tokens come from the identity provider.
func IssueToken(secret []byte, actor budget.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ActorClaims{
		Role:         string(actor.Role),
		DepartmentID: string(actor.DepartmentID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ActorFrom returns the actor attached by Middleware.
func ActorFrom(ctx context.Context) (budget.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(budget.Actor)
	return actor, ok
}
