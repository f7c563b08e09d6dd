package handlers

import (
	"net/http"

	"github.com/panemux/panemux/internal/session"
)

// HealthCheck reports liveness plus a coarse summary of what is running.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	views := Registry.List()
	connected := 0
	for _, v := range views {
		if v.Status == session.StatusConnected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"sessions":  len(views),
		"connected": connected,
	})
}
