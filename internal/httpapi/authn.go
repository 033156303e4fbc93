package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	tokenPath,
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.verifier == nil {
		return next
	}
	return Authenticate(a.verifier, isPublicPath)(next)
}

// Authenticate verifies the bearer token of every request whose path is not
// public and stores the claims in the request context.
func Authenticate(verifier *auth.Verifier, public func(path string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || (public != nil && public(r.URL.Path)) {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				obs.RecordVerifyFailure("missing")
				unauthorized(w, r, err.Error())
				return
			}

			claims, reason, err := verifier.VerifyWithReason(token)
			if err != nil {
				obs.RecordVerifyFailure(string(reason))
				obs.Logger().Info("bearer token rejected",
					"request_id", RequestIDFromContext(r.Context()),
					"reason", string(reason),
					"path", r.URL.Path,
				)
				unauthorized(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ensurePermissions writes 401 or 403 and returns false unless the caller's
// claims carry every permission in perms.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	return EnsurePermissions(w, r, perms...)
}

func EnsurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	for _, perm := range perms {
		err := auth.RequirePermission(r.Context(), perm)
		switch {
		case err == nil:
			continue
		case errors.Is(err, auth.ErrForbidden):
			subject, _ := auth.SubjectFromContext(r.Context())
			obs.Logger().Warn("permission denied",
				"request_id", RequestIDFromContext(r.Context()),
				"subject", subject,
				"permission", perm,
				"path", r.URL.Path,
			)
			writeError(w, r, http.StatusForbidden, "Missing required permission: "+perm)
			return false
		default:
			unauthorized(w, r, "authentication required")
			return false
		}
	}
	return true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="paservices"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
