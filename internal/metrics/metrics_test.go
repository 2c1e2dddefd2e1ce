package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/hopshell/internal/shell"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestEmitCountsEvents(t *testing.T) {
	m := NewMetrics()
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventConnectFailed})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventHopFailed, Hop: "internal"})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventConnected})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventCommandCompleted, Duration: 2 * time.Second})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventCommandFailed, Duration: time.Second})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventInterrupted})

	body := scrape(t, m)
	for _, want := range []string{
		`hopshell_connects_total{result="failed"} 1`,
		`hopshell_connects_total{result="ok"} 1`,
		`hopshell_hop_failures_total{hop="internal"} 1`,
		`hopshell_commands_total{result="ok"} 1`,
		`hopshell_commands_total{result="failed"} 1`,
		`hopshell_command_duration_seconds_count 2`,
		`hopshell_interrupts_total 1`,
		`hopshell_sessions_ready 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestSessionsReadyGauge(t *testing.T) {
	m := NewMetrics()
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventConnected})
	m.Emit(shell.Event{SessionID: "b", Kind: shell.EventConnected})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventDisconnected})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventDisconnected})
	m.Emit(shell.Event{SessionID: "b", Kind: shell.EventAborted})

	body := scrape(t, m)
	if !strings.Contains(body, "hopshell_sessions_ready 0") {
		t.Errorf("sessions_ready not back to 0:\n%s", body)
	}
	if !strings.Contains(body, "hopshell_aborts_total 1") {
		t.Error("abort not counted")
	}
}

func TestStreamsActiveGauge(t *testing.T) {
	m := NewMetrics()
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventStreamStarted})
	if body := scrape(t, m); !strings.Contains(body, "hopshell_streams_active 1") {
		t.Error("stream not counted")
	}
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventStreamStopped})
	m.Emit(shell.Event{SessionID: "a", Kind: shell.EventStreamStopped})
	if body := scrape(t, m); !strings.Contains(body, "hopshell_streams_active 0") {
		t.Error("gauge went below zero or did not drop")
	}
}
