package handlers

import (
	"net/http"

	"github.com/gluk-w/hopshell/internal/shell"
)

// GetEvents handles GET /api/events, the recent session events oldest
// first. limit keeps only the newest N.
func GetEvents(w http.ResponseWriter, r *http.Request) {
	if Events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event log not initialized")
		return
	}
	limit, ok := intParam(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	events := Events.Events()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []shell.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
