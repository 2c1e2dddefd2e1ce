package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/hopshell/internal/kube"
	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/shell"
)

// Close codes sent when a log stream cannot start or fails.
const (
	closeInvalidInput websocket.StatusCode = 4400
	closeSessionBusy  websocket.StatusCode = 4409
	closeStreamFailed websocket.StatusCode = 4500
)

// OriginPatterns limits which pages may open the log WebSocket.
var OriginPatterns = []string{"localhost:*", "127.0.0.1:*"}

// StreamPodLogs handles GET /api/pods/{name}/logs as a WebSocket. Each text
// message is one chunk of log output. Closing the socket cancels the follow
// and returns the session to its prompt.
//
// Query parameters:
//   - follow (optional): "false" to print and exit instead of following
//   - tail (optional): only the last N lines
//   - container (optional): container name
//   - timestamps (optional): "true" to prefix lines with timestamps
func StreamPodLogs(w http.ResponseWriter, r *http.Request) {
	if !podsReady(w) {
		return
	}
	name := chi.URLParam(r, "name")
	tail, ok := intParam(r, "tail", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid tail")
		return
	}
	opts := kube.LogOptions{
		Follow:     r.URL.Query().Get("follow") != "false",
		Tail:       tail,
		Container:  r.URL.Query().Get("container"),
		Timestamps: r.URL.Query().Get("timestamps") == "true",
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: OriginPatterns,
	})
	if err != nil {
		log.Printf("[http] accept log websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	// The client only ever closes; CloseRead cancels ctx when it does.
	ctx := conn.CloseRead(r.Context())

	st, err := Pods.StreamPodLogs(ctx, name, opts)
	if err != nil {
		code := closeStreamFailed
		switch {
		case errors.Is(err, sanitize.ErrInvalidInput):
			code = closeInvalidInput
		case errors.Is(err, shell.ErrBusy), errors.Is(err, shell.ErrNotReady):
			code = closeSessionBusy
		}
		conn.Close(code, closeReason(err))
		return
	}
	log.Printf("[http] streaming logs for %s", logutil.SanitizeForLog(name))

	chunks := st.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if err := st.Err(); err != nil {
					conn.Close(closeStreamFailed, closeReason(err))
					return
				}
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(chunk)); err != nil {
				if err := st.Cancel(); err != nil {
					log.Printf("[http] cancel log stream: %v", err)
				}
				return
			}
		case <-ctx.Done():
			if err := st.Cancel(); err != nil {
				log.Printf("[http] cancel log stream: %v", err)
			}
			return
		}
	}
}

// closeReason fits err into a close frame, which allows 123 bytes.
func closeReason(err error) string {
	return logutil.Truncate(logutil.SanitizeForLog(err.Error()), 100)
}
