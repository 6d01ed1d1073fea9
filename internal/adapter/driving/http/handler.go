package httphandler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/radcred/internal/application"
)

// maxBodyBytes bounds request bodies; every request body here is a small JSON object.
const maxBodyBytes = 64 << 10

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	creds    *application.CredentialService
	health   *application.HealthService
	apiToken string
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. A nil
// healthSvc reports healthy without running any checks.
func NewHandler(
	creds *application.CredentialService,
	healthSvc *application.HealthService,
	apiToken string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		creds:    creds,
		health:   healthSvc,
		apiToken: apiToken,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Every route except health requires
// the API bearer token.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.Handler {
		return bearerAuthMiddleware(h.apiToken, next)
	}

	mux.Handle("POST /api/v1/credentials", auth(h.CreateCredential))
	mux.Handle("GET /api/v1/credentials/{id}", auth(h.GetCredential))
	mux.Handle("POST /api/v1/credentials/{id}/reveal", auth(h.RevealCredential))
	mux.Handle("POST /api/v1/credentials/{id}/regenerate", auth(h.RegenerateCredential))
	mux.Handle("POST /api/v1/credentials/{id}/provision", auth(h.ProvisionCredential))
	mux.Handle("POST /api/v1/credentials/{id}/deprovision", auth(h.DeprovisionCredential))
	mux.Handle("GET /api/v1/credentials/{id}/audit", auth(h.ListAuditEntries))
	mux.Handle("GET /api/v1/services/{serviceID}/connection", auth(h.GetConnectionStatus))
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// CreateCredential creates a pending credential for a service.
func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ServiceID) == "" {
		writeError(w, http.StatusBadRequest, "service_id is required")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	created, err := h.creds.CreateCredential(r.Context(), req.ServiceID, actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, "create credential", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedResponse{ID: created.ID, Username: created.Username})
}

// GetCredential returns credential metadata. The secret is never included.
func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.creds.GetCredential(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "get credential", err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(cred))
}

// RevealCredential returns the plaintext access pair and audits the reveal.
func (h *Handler) RevealCredential(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	revealed, err := h.creds.RevealCredential(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, "reveal credential", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SecretResponse{Username: revealed.Username, Secret: revealed.Secret})
}

// RegenerateCredential replaces the secret and returns the new access pair.
func (h *Handler) RegenerateCredential(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	regenerated, err := h.creds.RegenerateCredential(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, "regenerate credential", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SecretResponse{Username: regenerated.Username, Secret: regenerated.Secret})
}

// ProvisionCredential creates or adopts the remote subscriber.
func (h *Handler) ProvisionCredential(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	res, err := h.creds.ProvisionCredential(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, "provision credential", err)
		return
	}

	writeJSON(w, http.StatusOK, ProvisionResponse{
		RemoteSubscriberID: res.RemoteSubscriberID,
		Status:             string(res.Status),
	})
}

// DeprovisionCredential removes the remote subscriber and retires the credential.
func (h *Handler) DeprovisionCredential(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	res, err := h.creds.DeprovisionCredential(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, "deprovision credential", err)
		return
	}

	writeJSON(w, http.StatusOK, DeprovisionResponse{Status: string(res.Status)})
}

// ListAuditEntries returns the audit trail of a credential, oldest first.
func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.creds.ListAuditEntries(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "list audit entries", err)
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toAuditEntryResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetConnectionStatus returns today's session summary for a service.
func (h *Handler) GetConnectionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.creds.GetConnectionStatus(r.Context(), r.PathValue("serviceID"))
	if err != nil {
		h.writeServiceError(w, "connection status", err)
		return
	}

	writeJSON(w, http.StatusOK, toConnectionResponse(snap))
}

// Health reports whether the process can serve credential operations.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	if h.health != nil {
		if err := h.health.Check(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Time: now})
			return
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: now})
}

// decodeBody decodes a required JSON body. On failure it writes a 400 and
// returns false.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for routes where the body may be empty.
func (h *Handler) decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
