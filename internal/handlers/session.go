package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gluk-w/hopshell/internal/kube"
	"github.com/gluk-w/hopshell/internal/shell"
)

type sessionStatus struct {
	ID            string                  `json:"id"`
	State         string                  `json:"state"`
	Phase         string                  `json:"phase"`
	Reason        shell.FailReason        `json:"reason,omitempty"`
	Busy          bool                    `json:"busy"`
	HopsCompleted []string                `json:"hops_completed"`
	ConnectedAt   *time.Time              `json:"connected_at,omitempty"`
	Transitions   []shell.StateTransition `json:"transitions,omitempty"`
}

func currentStatus(withHistory bool) sessionStatus {
	st := Session.State()
	status := sessionStatus{
		ID:            Session.ID(),
		State:         st.String(),
		Phase:         st.Phase.String(),
		Reason:        st.Reason,
		Busy:          Session.Busy(),
		HopsCompleted: Session.HopsCompleted(),
	}
	if status.HopsCompleted == nil {
		status.HopsCompleted = []string{}
	}
	if st.Phase == shell.PhaseReady {
		h := Session.Health()
		if !h.ConnectedAt.IsZero() {
			status.ConnectedAt = &h.ConnectedAt
		}
	}
	if withHistory {
		status.Transitions = Session.Transitions()
	}
	return status
}

// GetSessionState handles GET /api/state.
func GetSessionState(w http.ResponseWriter, r *http.Request) {
	if Session == nil {
		writeError(w, http.StatusServiceUnavailable, "Session not initialized")
		return
	}
	writeJSON(w, http.StatusOK, currentStatus(r.URL.Query().Get("history") == "true"))
}

// ConnectSession handles POST /api/connect. Once the session is Ready the
// running pods are listed so the caller can render them immediately; a
// listing failure is reported next to a successful connect.
func ConnectSession(w http.ResponseWriter, r *http.Request) {
	if Session == nil {
		writeError(w, http.StatusServiceUnavailable, "Session not initialized")
		return
	}
	if err := Session.Connect(r.Context()); err != nil {
		log.Printf("[http] connect failed: %v", err)
		writeOpError(w, err)
		return
	}

	resp := map[string]interface{}{"session": currentStatus(false)}
	if Pods != nil {
		pods, err := Pods.ListRunningPods(r.Context())
		if err != nil {
			resp["pods_error"] = err.Error()
		} else {
			if pods == nil {
				pods = []kube.PodSummary{}
			}
			resp["pods"] = pods
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DisconnectSession handles POST /api/disconnect.
func DisconnectSession(w http.ResponseWriter, r *http.Request) {
	if Session == nil {
		writeError(w, http.StatusServiceUnavailable, "Session not initialized")
		return
	}
	if err := Session.Disconnect(); err != nil {
		log.Printf("[http] disconnect: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": currentStatus(false)})
}
