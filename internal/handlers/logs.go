package handlers

import (
	"net/http"
	"strconv"

	"github.com/panemux/panemux/internal/logging"
)

// GetLogs returns the tail of the daemon's log file. The lines query
// parameter bounds how much history comes back; default 100.
func GetLogs(w http.ResponseWriter, r *http.Request) {
	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "lines must be a positive integer")
			return
		}
		lines = n
	}

	text, err := logging.ReadTail(lines)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": text})
}

// ClearLogs truncates the daemon's log file.
func ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
