// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/sleuthsite/detectory/internal/auth"
)

// TokenValidator validates a bearer token and returns its claims.
// Implemented by auth.JWTService.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Authenticate is a middleware that resolves the request principal from the
// Authorization header. Requests without a bearer token pass through as
// anonymous. Requests that present a token must present a valid access token;
// invalid, expired, or refresh tokens are rejected with 401 so that a caller
// never silently degrades to the anonymous read path.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, r, "invalid_authorization_header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				unauthorized(w, r, "invalid_token")
				return
			}
			if claims.Type != auth.TokenTypeAccess {
				unauthorized(w, r, "invalid_token_type")
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			ctx = SetUserRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin is a middleware that rejects requests whose principal does not
// carry the admin role. It must run inside Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			unauthorized(w, r, "authentication_required")
			return
		}
		if GetUserRole(r.Context()) != auth.RoleAdmin {
			UpdateResponseContext(w, SetErrorCode(r.Context(), "admin_required"))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, code string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
