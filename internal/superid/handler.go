package superid

import (
	"errors"
	"net/http"

	"paservices.dev/internal/audit"
	"paservices.dev/internal/auth"
	"paservices.dev/internal/httpapi"
	"paservices.dev/internal/obs"
	"paservices.dev/internal/ratelimit"
)

const Path = "/api/v1/super_ids"

type generateRequest struct {
	Count    *int           `json:"count"`
	Metadata map[string]any `json:"metadata"`
}

type singleResponse struct {
	SuperID string `json:"super_id"`
}

type batchResponse struct {
	SuperIDs []string `json:"super_ids"`
}

// Handler serves the super id API behind token verification.
type Handler struct {
	svc      *Service
	verifier *auth.Verifier
	limit    ratelimit.Rate
	mux      *http.ServeMux
	handler  http.Handler
}

func NewHandler(svc *Service, verifier *auth.Verifier, limit ratelimit.Rate) *Handler {
	h := &Handler{svc: svc, verifier: verifier, limit: limit, mux: http.NewServeMux()}
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.Handle("/metrics", obs.Handler())
	h.mux.HandleFunc(Path, h.generate)
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteError(w, r, http.StatusNotFound, "resource not found")
	})
	h.handler = h.chain()
	return h
}

func isPublic(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// ServeHTTP runs the request through the shared middleware chain.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) chain() http.Handler {
	var next http.Handler = httpapi.Authenticate(h.verifier, isPublic)(h.mux)
	if h.limit.Count > 0 {
		next = httpapi.RateLimit(next, h.limit)
	}
	next = httpapi.SecurityHeaders(next)
	next = httpapi.LoggingJSON(next)
	next = httpapi.RequestID(next)
	return obs.Instrument(next)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpapi.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !httpapi.EnsurePermissions(w, r, auth.PermSuperIDGenerate) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())

	req := generateRequest{}
	if r.ContentLength != 0 {
		if err := httpapi.DecodeJSON(w, r, &req); err != nil {
			httpapi.RejectBody(w, r, err)
			return
		}
	}
	count := MinCount
	if req.Count != nil {
		count = *req.Count
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if claims.Issuer != "" {
		metadata["iss"] = claims.Issuer
	}

	ids, err := h.svc.Generate(r.Context(), claims.Subject, count, metadata)
	if err != nil {
		if errors.Is(err, ErrInvalidCount) {
			httpapi.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		obs.Logger().Error("super id generation failed",
			"request_id", httpapi.RequestIDFromContext(r.Context()),
			"client_id", claims.Subject,
			"error", err,
		)
		httpapi.WriteError(w, r, http.StatusInternalServerError, "failed to generate or record super_id")
		return
	}

	_ = audit.LogEvent(r.Context(), "superid.generated", map[string]any{
		"client_id": claims.Subject,
		"count":     len(ids),
	})
	if len(ids) == 1 {
		httpapi.WriteJSON(w, http.StatusCreated, singleResponse{SuperID: ids[0]})
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, batchResponse{SuperIDs: ids})
}
