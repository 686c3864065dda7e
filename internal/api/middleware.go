package api

import (
	"context"
	"net/http"
	"strings"

	"seatswap-backend/internal/auth"
)

// contextKey is a private type to avoid context key collisions.
type contextKey string

const identityContextKey = contextKey("identity")

// identityFrom returns the authenticated identity stored by AuthMiddleware,
// or nil on an unauthenticated request.
func identityFrom(ctx context.Context) *auth.Identity {
	ident, _ := ctx.Value(identityContextKey).(*auth.Identity)
	return ident
}

// AuthMiddleware validates the bearer token and stores the caller's identity
// in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			h.respondWithError(w, http.StatusUnauthorized, "No token provided")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			h.respondWithError(w, http.StatusUnauthorized, "No token provided")
			return
		}

		ident, err := h.tokenService.ValidateToken(parts[1])
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, "Invalid Token")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware rejects callers whose session does not carry the admin
// flag. It must run after AuthMiddleware.
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r.Context())
		if ident == nil || !ident.IsAdmin {
			h.respondWithError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
