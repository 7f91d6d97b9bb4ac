package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/florianilch/tokenrelay/internal/credstore"
)

// SessionStatus describes the held credentials without revealing them.
type SessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	Refreshable   bool       `json:"refreshable"`
	SessionID     string     `json:"session_id,omitempty"`
	Subject       string     `json:"subject,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// NewSessionStatus summarizes state.
func NewSessionStatus(state credstore.TokenState) SessionStatus {
	status := SessionStatus{
		Authenticated: state.AccessToken != "",
		Refreshable:   state.Eligible(),
		SessionID:     state.SessionID,
	}
	if claims, ok := credstore.InspectAccessToken(state.AccessToken); ok {
		status.Subject = claims.Subject
		if !claims.ExpiresAt.IsZero() {
			expiresAt := claims.ExpiresAt.UTC()
			status.ExpiresAt = &expiresAt
		}
	}
	return status
}

type adminHandler struct {
	sessions Sessions
}

func (h *adminHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, NewSessionStatus(h.sessions.Current()), http.StatusOK)
}

func (h *adminHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Reset(ctx); err != nil {
		slog.ErrorContext(ctx, "logout failed", "error", err)
		// In-memory credentials are cleared even if persistence failed
		writeJSONError(ctx, w, "failed to clear stored credentials", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errorBody is the JSON body of relay-generated error responses.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON writes data as an uncacheable JSON response. Encoding failures
// are only logged since the status line is already sent.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, errorBody{Error: message}, status)
}
