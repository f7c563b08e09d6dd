package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panemux/panemux/internal/audit"
	"github.com/panemux/panemux/internal/session"
)

// connectResponse is the resolve shape of a connect attempt: exactly one of
// SessionID or Error is set.
type connectResponse struct {
	SessionID *string `json:"sessionId"`
	Error     *string `json:"error"`
}

// ConnectSession drives the full connect sequence. Connect failures resolve
// the call normally with a null session id rather than an error status;
// only an unknown session id is a request error.
func ConnectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	def, err := Registry.Definition(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	hostLabel := def.Alias
	if hostLabel == "" {
		hostLabel = def.HostAddress
	}

	err = Supervisor.Connect(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeFailure(w, err)
			return
		}
		// ConnectError and VerificationFailed both resolve the call.
		msg := err.Error()
		auditLog(audit.Record{
			SessionID: id,
			HostLabel: hostLabel,
			Username:  def.Username,
			EventType: audit.EventConnectFailed,
			Details:   msg,
		})
		writeJSON(w, http.StatusOK, connectResponse{Error: &msg})
		return
	}

	auditLog(audit.Record{
		SessionID: id,
		HostLabel: hostLabel,
		Username:  def.Username,
		EventType: audit.EventConnectEstablished,
	})
	writeJSON(w, http.StatusOK, connectResponse{SessionID: &id})
}

// DisconnectSession closes a session's transport deliberately.
func DisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := Supervisor.Disconnect(id); err != nil {
		writeFailure(w, err)
		return
	}
	auditLog(audit.Record{SessionID: id, EventType: audit.EventDisconnected, Details: "requested by caller"})
	w.WriteHeader(http.StatusNoContent)
}
