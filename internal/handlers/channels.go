package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panemux/panemux/internal/audit"
)

// CreateChannel opens a new interactive channel on a connected session. The
// channel id is delivered through the channel.created event, not the
// response body, so viewers attached to the event stream see it first.
func CreateChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	channelID, err := Mux.CreateChannel(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	auditLog(audit.Record{SessionID: id, EventType: audit.EventChannelOpened, Details: channelID})
	w.WriteHeader(http.StatusAccepted)
}

// ListChannels returns the open channels of one session.
func ListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Mux.List(chi.URLParam(r, "id")))
}

type sendRequest struct {
	Text string `json:"text"`
}

// SendChannel writes command text into the channel's input stream.
func SendChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	channelID := chi.URLParam(r, "channelID")

	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := Mux.Send(id, channelID, req.Text); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DestroyChannel closes a channel; channel.destroyed fires exactly once.
func DestroyChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	channelID := chi.URLParam(r, "channelID")

	if err := Mux.Destroy(id, channelID); err != nil {
		writeFailure(w, err)
		return
	}
	auditLog(audit.Record{SessionID: id, EventType: audit.EventChannelClosed, Details: channelID})
	w.WriteHeader(http.StatusNoContent)
}

// ChannelTranscript returns the accumulated output with the sequence number
// of the last included chunk, for stitching to the live stream.
func ChannelTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	channelID := chi.URLParam(r, "channelID")

	text, seq, err := Mux.Transcript(id, channelID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": text,
		"seq":        seq,
	})
}
