package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/panemux/panemux/internal/audit"
)

// QueryAudit returns audit records filtered by the query string: sessionId,
// eventType, since, until (RFC 3339), limit, offset.
func QueryAudit(w http.ResponseWriter, r *http.Request) {
	if Auditor == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit trail is not enabled")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		SessionID: q.Get("sessionId"),
		EventType: q.Get("eventType"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be RFC 3339")
			return
		}
		opts.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "until must be RFC 3339")
			return
		}
		opts.Until = &ts
	}

	res, err := Auditor.Query(opts)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
