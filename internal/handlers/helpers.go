// Package handlers exposes the command surface consumed by the presentation
// layer: REST routes for sessions, channels, files and snippets plus the
// websocket event stream.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/panemux/panemux/internal/audit"
	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/mux"
	"github.com/panemux/panemux/internal/remotefs"
	"github.com/panemux/panemux/internal/session"
	"github.com/panemux/panemux/internal/snippets"
	"github.com/panemux/panemux/internal/transport"
)

// Injected by the composition root before the router starts serving.
var (
	Registry   *session.Registry
	Supervisor *transport.Supervisor
	Mux        *mux.Multiplexer
	Snips      *snippets.Service
	Bus        *events.Bus
	Auditor    *audit.Auditor // optional; nil disables audit writes

	LocalFS remotefs.Filesystem = remotefs.NewLocal()
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, description string) {
	writeJSON(w, status, map[string]string{
		"reason":      reason,
		"description": description,
	})
}

// writeFailure maps domain errors onto the wire taxonomy.
func writeFailure(w http.ResponseWriter, err error) {
	var te *remotefs.TransferError
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "unknown_session", err.Error())
	case errors.Is(err, mux.ErrUnknownChannel):
		writeError(w, http.StatusNotFound, "unknown_channel", err.Error())
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, remotefs.ErrNotConnected):
		writeError(w, http.StatusConflict, "not_connected", err.Error())
	case errors.Is(err, snippets.ErrUnknownSnippet):
		writeError(w, http.StatusNotFound, "unknown_snippet", err.Error())
	case errors.Is(err, snippets.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_snippet", err.Error())
	case errors.As(err, &te):
		writeError(w, http.StatusBadGateway, "transfer_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// auditLog writes an audit record when auditing is enabled.
func auditLog(rec audit.Record) {
	if Auditor != nil {
		Auditor.Log(rec)
	}
}
