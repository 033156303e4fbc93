package httpapi

import (
	"errors"
	"mime"
	"net/http"

	"paservices.dev/internal/audit"
	"paservices.dev/internal/auth"
	"paservices.dev/internal/obs"
)

const tokenPath = "/api/v1/auth/token"

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope,omitempty"`
}

// invalidClientBody is identical for every credential failure.
var invalidClientBody = map[string]string{"error": auth.ErrInvalidClient.Error()}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.issuer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance unavailable")
		return
	}
	if a.admission != nil {
		if ok, retry := a.admission.Allow(clientIP(r)); !ok {
			rejectRateLimited(w, r, "token", retry)
			return
		}
	}

	req, err := readTokenRequest(w, r)
	if err != nil {
		rejectBody(w, r, err)
		return
	}

	resp, err := a.issuer.Issue(r.Context(), auth.TokenRequest{
		GrantType:    req.GrantType,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	})
	if err != nil {
		a.tokenFailure(w, r, req, err)
		return
	}

	obs.RecordTokenIssued()
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"client_id":  req.ClientID,
		"expires_in": resp.ExpiresIn,
		"remote_ip":  clientIP(r),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) tokenFailure(w http.ResponseWriter, r *http.Request, req tokenRequest, err error) {
	switch {
	case errors.Is(err, auth.ErrUnsupportedGrant):
		obs.RecordIssueFailure("unsupported_grant")
		writeError(w, r, http.StatusBadRequest, "unsupported grant_type")
	case errors.Is(err, auth.ErrInvalidClient):
		reason := auth.FailureReason(err)
		obs.RecordIssueFailure(reason)
		_ = audit.LogEvent(r.Context(), "auth.token.rejected", map[string]any{
			"client_id": req.ClientID,
			"reason":    reason,
			"remote_ip": clientIP(r),
		})
		w.Header().Set("WWW-Authenticate", `Bearer realm="paservices"`)
		writeJSON(w, http.StatusUnauthorized, invalidClientBody)
	case errors.Is(err, auth.ErrUnavailable):
		obs.RecordIssueFailure("unavailable")
		obs.Logger().Error("token issuance failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		obs.RecordIssueFailure("internal")
		obs.Logger().Error("token issuance failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
	}
}

// readTokenRequest accepts a JSON body or an OAuth2 form body. Credentials in
// an HTTP Basic header are used when the body carries none.
func readTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return tokenRequest{}, errors.New("invalid form body")
		}
		req = tokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			Scope:        r.PostForm.Get("scope"),
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		return tokenRequest{}, err
	}
	if req.ClientID == "" && req.ClientSecret == "" {
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}
	}
	return req, nil
}

type introspectResponse struct {
	Active bool         `json:"active"`
	Claims *auth.Claims `json:"claims"`
}

// handleIntrospect echoes the verified claims of the presented token.
func (a *API) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, introspectResponse{Active: true, Claims: claims})
}
