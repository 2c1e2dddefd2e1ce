package handlers

import (
	"net/http"
	"time"

	"github.com/gluk-w/hopshell/internal/audit"
)

// GetAuditLogs handles GET /api/audit.
// Query parameters:
//   - session_id (optional): filter by session
//   - kind (optional): filter by event kind
//   - failed (optional): "true" for failures only
//   - since (optional): RFC 3339 lower bound
//   - limit (optional): entries per page (default 50, max 1000)
//   - offset (optional): pagination offset
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if AuditLog == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		SessionID:  q.Get("session_id"),
		Kind:       q.Get("kind"),
		FailedOnly: q.Get("failed") == "true",
	}

	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since")
			return
		}
		opts.Since = &since
	}

	limit, ok := intParam(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	opts.Limit = limit

	offset, ok := intParam(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	opts.Offset = offset

	result, err := AuditLog.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
