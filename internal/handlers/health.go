package handlers

import (
	"net/http"

	"github.com/gluk-w/hopshell/internal/database"
)

// HealthCheck handles GET /health. The server is healthy when its database
// answers; the session state is reported but does not affect the result.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	sessionState := "none"
	if Session != nil {
		sessionState = Session.State().String()
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"session":  sessionState,
	})
}
