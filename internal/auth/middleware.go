package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aiox-platform/genstudio/internal/api"
	"github.com/aiox-platform/genstudio/internal/quota"
)

type contextKey string

const UserClaimsKey contextKey = "user_claims"

// GuestHeader carries the client-generated guest id for anonymous use.
const GuestHeader = "X-Guest-ID"

var ErrNoIdentity = errors.New("no account token or guest id")

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// Middleware requires a valid access token.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := svc.jwt.ValidateAccessToken(token)
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware attaches claims when a token is present and lets
// anonymous requests through. A present but invalid token is rejected.
func OptionalMiddleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}
			claims, err := svc.jwt.ValidateAccessToken(token)
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserClaims(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(UserClaimsKey).(*AccessClaims)
	return claims
}

// IdentityFromRequest returns the account behind the access token, or the
// guest named by GuestHeader when the request is anonymous.
func IdentityFromRequest(r *http.Request) (quota.Identity, error) {
	if claims := GetUserClaims(r.Context()); claims != nil {
		id, err := uuid.Parse(claims.UserID)
		if err != nil {
			return quota.Identity{}, ErrNoIdentity
		}
		return quota.Account(id), nil
	}

	guest := quota.Guest(strings.TrimSpace(r.Header.Get(GuestHeader)))
	if !guest.Valid() {
		return quota.Identity{}, ErrNoIdentity
	}
	return guest, nil
}
