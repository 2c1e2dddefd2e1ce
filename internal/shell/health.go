// health.go implements end-to-end liveness checks for a Ready session.
//
// Ping runs a trivial command through the same prompt-detection cycle as any
// other command, which verifies every hop is still responsive. This
// complements the transport keepalive, which only proves the first hop's
// TCP connection is alive.

package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/hopshell/internal/sanitize"
)

const pingToken = "hopshell-ping"

var pingCommand = sanitize.MustCommand("echo", sanitize.Token("probe", pingToken))

// HealthMetrics tracks liveness of the current connection.
type HealthMetrics struct {
	mu               sync.Mutex
	ConnectedAt      time.Time `json:"connected_at"`
	LastHealthCheck  time.Time `json:"last_health_check"`
	SuccessfulChecks int64     `json:"successful_checks"`
	FailedChecks     int64     `json:"failed_checks"`
}

func (hm *HealthMetrics) connected() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.ConnectedAt = time.Now()
	hm.LastHealthCheck = time.Time{}
	hm.SuccessfulChecks = 0
	hm.FailedChecks = 0
}

func (hm *HealthMetrics) record(ok bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.LastHealthCheck = time.Now()
	if ok {
		hm.SuccessfulChecks++
	} else {
		hm.FailedChecks++
	}
}

// Snapshot returns a copy of the metrics safe for concurrent use.
func (hm *HealthMetrics) Snapshot() HealthMetrics {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return HealthMetrics{
		ConnectedAt:      hm.ConnectedAt,
		LastHealthCheck:  hm.LastHealthCheck,
		SuccessfulChecks: hm.SuccessfulChecks,
		FailedChecks:     hm.FailedChecks,
	}
}

// Health returns a snapshot of the session's liveness metrics.
func (s *Session) Health() HealthMetrics {
	return s.health.Snapshot()
}

// Ping verifies that the elevated shell still answers. Like any command it
// returns ErrBusy while a stream is active.
func (s *Session) Ping(ctx context.Context) error {
	out, err := s.Run(ctx, pingCommand)
	if err != nil {
		if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNotReady) {
			s.health.record(false)
		}
		return err
	}
	if !strings.Contains(out.Text, pingToken) {
		s.health.record(false)
		return fmt.Errorf("ping: unexpected reply %q", out.Text)
	}
	s.health.record(true)
	return nil
}
