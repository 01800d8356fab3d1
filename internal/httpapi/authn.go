package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"windscope.org/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "windscope_session"
)

// Paths reachable without a session. The pre-auth halves of the
// registration, login and reset flows live here.
var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/verify-registration",
	"/v1/auth/resend-registration-otp",
	"/v1/auth/login",
	"/v1/auth/verify-otp",
	"/v1/auth/resend-login-otp",
	"/v1/auth/forgot-password",
	"/v1/auth/verify-reset-otp",
	"/v1/auth/resend-reset-otp",
	"/v1/auth/reset-password",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth resolves the caller's credential to a user and stores it in
// the request context. Session tokens arrive as a bearer header or
// cookie; signed API tokens are recognized by their JWT shape.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := credentialFrom(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		var (
			user *auth.User
			err  error
		)
		if strings.Contains(token, ".") {
			user, err = a.auth.AuthenticateAPIToken(r.Context(), token)
		} else {
			user, err = a.auth.ValidateSession(r.Context(), token)
		}
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrSessionExpired):
				writeError(w, r, http.StatusUnauthorized, "session expired")
			case errors.Is(err, auth.ErrSessionNotFound),
				errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrTokensDisabled),
				errors.Is(err, auth.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithSessionToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialFrom(r *http.Request) string {
	if h := r.Header.Get(authHeader); strings.HasPrefix(h, bearer) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearer))
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// currentUser returns the authenticated user or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return user, true
}
