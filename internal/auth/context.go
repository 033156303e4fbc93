package auth

import "context"

type claimsContextKey struct{}

// ContextWithClaims attaches verified token claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts verified claims from the context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SubjectFromContext returns the subject of the verified token, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// RequirePermission returns ErrUnauthorized when ctx carries no claims and
// ErrForbidden when the claims lack perm.
func RequirePermission(ctx context.Context, perm string) error {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ErrUnauthorized
	}
	if !claims.HasPermission(perm) {
		return ErrForbidden
	}
	return nil
}
