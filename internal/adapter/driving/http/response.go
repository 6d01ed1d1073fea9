package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps an application error onto a status code. Internal
// details only go to the log.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "kind", errs.Kind(err), "error", err)
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: errs.Kind(err)})
}

func statusFor(err error) (int, string) {
	switch {
	case errs.IsLocalNotFound(err):
		return http.StatusNotFound, "credential not found"
	case errors.Is(err, errs.ErrActiveCredentialExists):
		return http.StatusConflict, "service already has an active credential"
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict, "operation not allowed in the credential's current status"
	case errors.Is(err, errs.ErrInvalidServiceID):
		return http.StatusBadRequest, "invalid service id"
	case errs.IsRejectedError(err):
		var rejected *errs.RejectedError
		errors.As(err, &rejected)
		return http.StatusUnprocessableEntity, "provider rejected the request: " + rejected.Reason
	case errs.IsTransientError(err):
		return http.StatusServiceUnavailable, "provider temporarily unavailable, retry later"
	case errs.IsUnauthorizedError(err):
		return http.StatusBadGateway, "provider refused this service's credentials"
	case errs.IsRemoteNotFound(err):
		return http.StatusBadGateway, "remote subscriber not found"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// CreateCredentialRequest is the JSON body for the create endpoint.
type CreateCredentialRequest struct {
	ServiceID string `json:"service_id"`
	Reason    string `json:"reason"`
}

// ReasonRequest is the optional JSON body of the lifecycle endpoints.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CreatedResponse is returned by the create endpoint.
type CreatedResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CredentialResponse is the JSON representation of credential metadata.
type CredentialResponse struct {
	ID                 string  `json:"id"`
	ServiceID          string  `json:"service_id"`
	Username           string  `json:"username"`
	Status             string  `json:"status"`
	RemoteSubscriberID string  `json:"remote_subscriber_id,omitempty"`
	ProvisionAttempts  int     `json:"provision_attempts"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
	LastRevealedAt     *string `json:"last_revealed_at"`
	RevealCount        int64   `json:"reveal_count"`
}

// SecretResponse carries a plaintext access pair.
type SecretResponse struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// ProvisionResponse is returned by the provision endpoint.
type ProvisionResponse struct {
	RemoteSubscriberID string `json:"remote_subscriber_id"`
	Status             string `json:"status"`
}

// DeprovisionResponse is returned by the deprovision endpoint.
type DeprovisionResponse struct {
	Status string `json:"status"`
}

// AuditEntryResponse is the JSON representation of one audit entry.
type AuditEntryResponse struct {
	ID             string `json:"id"`
	CredentialID   string `json:"credential_id"`
	ActorID        string `json:"actor_id"`
	Action         string `json:"action"`
	Timestamp      string `json:"timestamp"`
	ActorIPAddress string `json:"actor_ip_address,omitempty"`
	ReasonNote     string `json:"reason_note,omitempty"`
}

// ConnectionResponse is the JSON representation of a session snapshot.
type ConnectionResponse struct {
	IsActive              bool           `json:"is_active"`
	LastSessionStart      *string        `json:"last_session_start"`
	LastSessionEnd        *string        `json:"last_session_end"`
	LastKnownAddress      string         `json:"last_known_address,omitempty"`
	TotalSessionsInWindow int            `json:"total_sessions_in_window"`
	TotalActiveSeconds    int64          `json:"total_active_seconds"`
	TerminateCauseCounts  map[string]int `json:"terminate_cause_counts"`
	WindowFrom            string         `json:"window_from"`
	WindowTo              string         `json:"window_to"`
	Unavailable           bool           `json:"unavailable"`
	SubscriberEnabled     *bool          `json:"subscriber_enabled"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// toCredentialResponse converts a domain Credential to its JSON representation.
// The envelope is never exposed.
func toCredentialResponse(c model.Credential) CredentialResponse {
	return CredentialResponse{
		ID:                 c.ID,
		ServiceID:          c.ServiceID,
		Username:           c.Username,
		Status:             string(c.Status),
		RemoteSubscriberID: c.RemoteSubscriberID,
		ProvisionAttempts:  c.ProvisionAttempts,
		CreatedAt:          formatTime(c.CreatedAt),
		UpdatedAt:          formatTime(c.UpdatedAt),
		LastRevealedAt:     formatOptionalTime(c.LastRevealedAt),
		RevealCount:        c.RevealCount,
	}
}

func toAuditEntryResponse(e model.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:             e.ID,
		CredentialID:   e.CredentialID,
		ActorID:        e.ActorID,
		Action:         string(e.Action),
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorIPAddress: e.ActorIPAddress,
		ReasonNote:     e.ReasonNote,
	}
}

func toConnectionResponse(s model.SessionSnapshot) ConnectionResponse {
	causes := s.TerminateCauseCounts
	if causes == nil {
		causes = map[string]int{}
	}
	return ConnectionResponse{
		IsActive:              s.IsActive,
		LastSessionStart:      formatOptionalTime(s.LastSessionStart),
		LastSessionEnd:        formatOptionalTime(s.LastSessionEnd),
		LastKnownAddress:      s.LastKnownAddress,
		TotalSessionsInWindow: s.TotalSessionsInWindow,
		TotalActiveSeconds:    s.TotalActiveSeconds,
		TerminateCauseCounts:  causes,
		WindowFrom:            formatTime(s.Window.From),
		WindowTo:              formatTime(s.Window.To),
		Unavailable:           s.Unavailable,
		SubscriberEnabled:     s.SubscriberEnabled,
	}
}
