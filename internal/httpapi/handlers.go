package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/obs"
	"paservices.dev/internal/ratelimit"
)

const serviceName = "paservices-auth"

// ReadyCheck checks that the database answers.
type ReadyCheck struct {
	DB *sql.DB
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP surface of the auth service.
type API struct {
	mux        *http.ServeMux
	readyCheck ReadyCheck
	version    string

	issuer    *auth.TokenIssuer
	verifier  *auth.Verifier
	rbac      *auth.RBACService
	baseline  *auth.Baseline
	admission *ratelimit.FixedWindow
	general   ratelimit.Rate
	proxies   []netip.Prefix
}

// Option configures the API.
type Option func(*API)

func WithIssuer(issuer *auth.TokenIssuer) Option {
	return func(a *API) { a.issuer = issuer }
}

func WithVerifier(v *auth.Verifier) Option {
	return func(a *API) { a.verifier = v }
}

func WithRBAC(svc *auth.RBACService) Option {
	return func(a *API) { a.rbac = svc }
}

// WithBaseline sets the document applied by POST /api/v1/admin/bootstrap.
func WithBaseline(b auth.Baseline) Option {
	return func(a *API) { a.baseline = &b }
}

// WithAdmission guards the token endpoint with a fixed-window limiter.
func WithAdmission(limiter *ratelimit.FixedWindow) Option {
	return func(a *API) { a.admission = limiter }
}

// WithGeneralLimit applies a per-IP token bucket to every route.
func WithGeneralLimit(r ratelimit.Rate) Option {
	return func(a *API) { a.general = r }
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For header
// is believed. Without it every limiter keys on the socket peer.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = append(a.proxies, prefixes...) }
}

func New(rp ReadyCheck, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyCheck: rp,
		version:    version,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc(tokenPath, a.handleToken)
	a.mux.HandleFunc("/api/v1/auth/introspect", a.handleIntrospect)
	a.mux.HandleFunc(adminPrefix, a.handleAdmin)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if a.general.Count > 0 {
		h = RateLimit(h, a.general)
	}
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyCheck.Check(ctx); err != nil {
		obs.Logger().Warn("readiness check failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
