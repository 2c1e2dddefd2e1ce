package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/gluk-w/hopshell/internal/kube"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/shell"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// errorStatus maps session and kubectl errors to an HTTP status.
func errorStatus(err error) int {
	var rl *shell.ErrRateLimited
	switch {
	case errors.Is(err, sanitize.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.Is(err, shell.ErrNotReady), errors.Is(err, shell.ErrBusy), errors.Is(err, shell.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, kube.ErrMetricsUnavailable), errors.Is(err, kube.ErrMetricsPending):
		return http.StatusServiceUnavailable
	case errors.Is(err, shell.ErrPromptTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, shell.ErrTransport), errors.Is(err, shell.ErrAuth):
		return http.StatusBadGateway
	}
	var cerr *kube.CommandError
	if errors.As(err, &cerr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeOpError writes err with the status errorStatus picks. Rate-limited
// and pending-metrics responses carry Retry-After.
func writeOpError(w http.ResponseWriter, err error) {
	var rl *shell.ErrRateLimited
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	if errors.Is(err, kube.ErrMetricsPending) {
		w.Header().Set("Retry-After", "10")
	}
	writeError(w, errorStatus(err), err.Error())
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
