package shell

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

func connect(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if st := s.State(); st.Phase != PhaseReady {
		t.Fatalf("state = %s, want ready", st)
	}
}

func TestConnectTwoHopsThenRun(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	connect(t, s)

	if got := s.HopsCompleted(); len(got) != 2 || got[0] != "jump" || got[1] != "internal" {
		t.Errorf("HopsCompleted = %v", got)
	}

	out, err := s.Run(context.Background(), sanitize.MustCommand("list-items"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Text != "alpha\nbeta\n" {
		t.Errorf("Text = %q, want %q", out.Text, "alpha\nbeta\n")
	}
	if out.ExitStatus != 0 {
		t.Errorf("ExitStatus = %d", out.ExitStatus)
	}
	if out.Prompt != "internal# " {
		t.Errorf("Prompt = %q", out.Prompt)
	}
	if strings.Contains(out.Text, "list-items") || strings.Contains(out.Text, "internal#") {
		t.Errorf("output contains echo or prompt: %q", out.Text)
	}
}

func TestRunPromptLineExcludedWithSuffixPattern(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), func(term *terminal) {
		term.logins["ssh internal"] = "svc@internal# "
	})
	connect(t, s)

	out, err := s.Run(context.Background(), sanitize.MustCommand("list-items"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Text != "alpha\nbeta\n" {
		t.Errorf("Text = %q, want %q", out.Text, "alpha\nbeta\n")
	}
	if out.ExitStatus != 0 {
		t.Errorf("ExitStatus = %d, want 0", out.ExitStatus)
	}
	if out.Prompt != "internal# " {
		t.Errorf("Prompt = %q", out.Prompt)
	}
}

func TestRunOutputCRLFNormalized(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), func(term *terminal) {
		term.outputs["get pods"] = "NAME   READY\r\nweb-1  1/1\r\n"
	})
	connect(t, s)

	out, err := s.RunCommand(context.Background(), "get pods")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if got := out.Lines(); len(got) != 2 || got[1] != "web-1  1/1" {
		t.Errorf("Lines = %q", got)
	}
}

func TestRunExitStatus(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	connect(t, s)

	out, err := s.RunCommand(context.Background(), "false")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if out.ExitStatus != 1 {
		t.Errorf("ExitStatus = %d, want 1", out.ExitStatus)
	}
}

func TestHopsStrictlyOrdered(t *testing.T) {
	calls := &callLog{}
	cfg := twoHopConfig()
	cfg.Hops[0].Prompts = []prompt.Pattern{recordingPattern{Pattern: prompt.Suffix("jump$ "), hop: 0, log: calls}}
	cfg.Hops[1].Prompts = []prompt.Pattern{recordingPattern{Pattern: prompt.Suffix("internal# "), hop: 1, log: calls}}

	dialer := &fakeDialer{}
	dialer.newTransport = func() (*fakeTransport, error) {
		term := newTerminal("jump$ ")
		term.logins["ssh internal"] = "internal# "
		fc := newFakeChannel(term.input)
		// Garbled, slow first prompt: a progress redraw, then the prompt in
		// two pieces.
		go func() {
			fc.emit("connecting 10%\rconnecting 90%")
			time.Sleep(30 * time.Millisecond)
			fc.emit("\r\x1b[Kju")
			time.Sleep(30 * time.Millisecond)
			fc.emit("mp$ ")
		}()
		return &fakeTransport{ch: fc}, nil
	}
	s, err := New(cfg, WithDialer(dialer))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, s)

	entries := calls.Entries()
	firstMatch0 := -1
	for i, e := range entries {
		if e == "match:0" && firstMatch0 < 0 {
			firstMatch0 = i
		}
		if strings.HasSuffix(e, ":1") && (firstMatch0 < 0 || i < firstMatch0) {
			t.Fatalf("hop 1 pattern consulted at %d before hop 0 matched (log %v)", i, entries)
		}
	}
	if firstMatch0 < 0 {
		t.Fatalf("hop 0 never matched (log %v)", entries)
	}
	if !containsLine(entries, "match:1") {
		t.Errorf("hop 1 never matched (log %v)", entries)
	}
}

func TestHopPromptTimeoutFails(t *testing.T) {
	cfg := twoHopConfig()
	cfg.Hops[1].Timeout = 80 * time.Millisecond
	s, dialer, _ := newTestSession(t, cfg, func(term *terminal) {
		term.logins["ssh internal"] = ""
	})

	err := s.Connect(context.Background())
	var pte *PromptTimeoutError
	if !errors.As(err, &pte) {
		t.Fatalf("expected *PromptTimeoutError, got %v", err)
	}
	if !errors.Is(err, ErrPromptTimeout) {
		t.Error("error does not match ErrPromptTimeout")
	}
	if pte.LastPrompt != "jump$ " {
		t.Errorf("LastPrompt = %q", pte.LastPrompt)
	}
	if st := s.State(); st.Phase != PhaseFailed || st.Reason != FailPromptTimeout {
		t.Fatalf("state = %s, want failed(prompt_timeout)", st)
	}
	for _, tr := range s.Transitions() {
		if tr.To.Phase == PhaseReady {
			t.Fatal("Ready was reached")
		}
	}
	if dialer.Last().Closes() == 0 {
		t.Error("transport not closed after failure")
	}

	if _, err := s.RunCommand(context.Background(), "list-items"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("RunCommand after failure = %v, want ErrNotReady", err)
	}
}

func TestHopRetryNudgesOnce(t *testing.T) {
	cfg := twoHopConfig()
	cfg.Hops[1].Timeout = 100 * time.Millisecond
	s, dialer, ring := newTestSession(t, cfg, func(term *terminal) {
		delete(term.logins, "ssh internal")
		term.delayedLogins["ssh internal"] = "internal# "
	})
	connect(t, s)

	sent := dialer.Last().ch.Sent()
	nudges := 0
	hopCommands := 0
	for _, p := range sent {
		switch p {
		case "\n":
			nudges++
		case "ssh internal\n":
			hopCommands++
		}
	}
	if nudges != 1 || hopCommands != 1 {
		t.Errorf("sent %q: want one hop command and one nudge", sent)
	}
	retried := false
	for _, e := range ring.Events() {
		if e.Kind == EventHopRetried {
			retried = true
		}
	}
	if !retried {
		t.Error("no hop_retried event")
	}
}

func TestHopRetryDisabled(t *testing.T) {
	cfg := twoHopConfig()
	cfg.Hops[1].Timeout = 60 * time.Millisecond
	cfg.DisableHopRetry = true
	s, dialer, _ := newTestSession(t, cfg, func(term *terminal) {
		delete(term.logins, "ssh internal")
		term.delayedLogins["ssh internal"] = "internal# "
	})

	if err := s.Connect(context.Background()); !errors.Is(err, ErrPromptTimeout) {
		t.Fatalf("Connect = %v, want prompt timeout", err)
	}
	for _, p := range dialer.Last().ch.Sent() {
		if p == "\n" {
			t.Fatal("nudge sent with retry disabled")
		}
	}
}

func elevateConfig(password []byte) Config {
	cfg := twoHopConfig()
	cfg.Hops = append(cfg.Hops, Hop{
		Kind:    HopElevate,
		Name:    "svc",
		Command: "sudo su - svc",
		Prompts: []prompt.Pattern{prompt.Suffix("svc$ ")},
		Timeout: 2 * time.Second,
		Auth: &AuthChallenge{
			Prompt: prompt.MustRegexp(`\[sudo\] password for \S+:\s*`),
			Reject: regexp.MustCompile(`Sorry, try again`),
		},
	})
	cfg.Credentials = func(ctx context.Context, hop Hop) ([]byte, error) {
		return password, nil
	}
	return cfg
}

func sudoSetup(term *terminal) {
	term.sudoCommand = "sudo su - svc"
	term.sudoPassword = "s3cret"
	term.sudoPrompt = "svc$ "
}

func TestElevateWithCredential(t *testing.T) {
	password := []byte("s3cret")
	var term *terminal
	s, _, ring := newTestSession(t, elevateConfig(password), func(tm *terminal) {
		sudoSetup(tm)
		term = tm
	})
	connect(t, s)

	sawAuth := false
	for _, tr := range s.Transitions() {
		if tr.To.Phase == PhaseHopAuthenticating && tr.To.Hop == 2 {
			sawAuth = true
		}
	}
	if !sawAuth {
		t.Error("never entered hop_authenticating(2)")
	}
	for _, b := range password {
		if b != 0 {
			t.Fatal("credential not zeroed after use")
		}
	}
	if got := term.Passwords(); len(got) != 1 {
		t.Errorf("passwords sent = %d, want 1", len(got))
	}
	for _, e := range ring.Events() {
		if strings.Contains(e.Summary, "s3cret") {
			t.Fatalf("credential leaked into event %+v", e)
		}
	}
}

func TestElevateWrongCredentialIsAuthError(t *testing.T) {
	var term *terminal
	s, _, _ := newTestSession(t, elevateConfig([]byte("wrong")), func(tm *terminal) {
		sudoSetup(tm)
		term = tm
	})

	err := s.Connect(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.Hop != "svc" {
		t.Errorf("Hop = %q", authErr.Hop)
	}
	if st := s.State(); st.Phase != PhaseFailed || st.Reason != FailAuth {
		t.Fatalf("state = %s, want failed(auth_error)", st)
	}
	if got := term.Passwords(); len(got) != 1 {
		t.Errorf("credential sent %d times, want exactly once", len(got))
	}
}

func TestElevateWithoutCredentialSource(t *testing.T) {
	cfg := elevateConfig(nil)
	cfg.Credentials = nil
	s, _, _ := newTestSession(t, cfg, sudoSetup)

	if err := s.Connect(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("Connect = %v, want ErrAuth", err)
	}
}

func TestLoginFailureClassified(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    error
		reason  FailReason
	}{
		{"refused", "ssh: connect to host internal port 22: Connection refused", ErrTransport, FailTransport},
		{"unresolved", "ssh: Could not resolve hostname internal: Name or service not known", ErrTransport, FailTransport},
		{"timed out", "ssh: connect to host internal port 22: Connection timed out", ErrTransport, FailTransport},
		{"denied", "ops@internal: Permission denied (publickey).", ErrAuth, FailAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := twoHopConfig()
			// The login falls back to the jump shell, so the generic prompt
			// matches and only the printed message tells what went wrong.
			cfg.Hops[1].Prompts = []prompt.Pattern{prompt.MustRegexp(`.*[$#] `)}
			cfg.Hops[1].Reject = regexp.MustCompile(`Permission denied`)
			cfg.Hops[1].Unreachable = regexp.MustCompile(`Connection refused|Could not resolve hostname|Connection timed out`)
			s, _, _ := newTestSession(t, cfg, func(term *terminal) {
				delete(term.logins, "ssh internal")
				term.outputs["ssh internal"] = tt.message + "\r\n"
			})

			err := s.Connect(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Connect = %v, want %v", err, tt.want)
			}
			if tt.want == ErrTransport && errors.Is(err, ErrAuth) {
				t.Fatalf("unreachable host reported as auth failure: %v", err)
			}
			if st := s.State(); st.Phase != PhaseFailed || st.Reason != tt.reason {
				t.Fatalf("state = %s, want failed(%s)", st, tt.reason)
			}
		})
	}
}

func TestDialAuthErrorNotRetried(t *testing.T) {
	dialer := &fakeDialer{newTransport: func() (*fakeTransport, error) {
		return nil, &sshtransport.AuthError{Endpoint: "ops@jump:22", Err: errors.New("unable to authenticate")}
	}}
	s, err := New(twoHopConfig(), WithDialer(dialer))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("Connect = %v, want ErrAuth", err)
	}
	if dialer.Dials() != 1 {
		t.Errorf("dials = %d, want 1", dialer.Dials())
	}
	if st := s.State(); st.Reason != FailAuth {
		t.Errorf("state = %s", st)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	s, dialer, _ := newTestSession(t, twoHopConfig(), nil)
	connect(t, s)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if st := s.State(); st.Phase != PhaseDisconnected {
		t.Fatalf("state = %s", st)
	}
	if n := dialer.Last().Closes(); n != 1 {
		t.Errorf("transport closed %d times, want 1", n)
	}
}

func TestDisconnectNeverConnected(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if st := s.State(); st.Phase != PhaseDisconnected {
		t.Fatalf("state = %s", st)
	}
}

func TestReconnectAfterFailure(t *testing.T) {
	attempt := 0
	cfg := twoHopConfig()
	cfg.Hops[1].Timeout = 50 * time.Millisecond
	cfg.DisableHopRetry = true
	s, dialer, _ := newTestSession(t, cfg, func(term *terminal) {
		attempt++
		if attempt == 1 {
			term.logins["ssh internal"] = ""
		}
	})

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("first Connect should fail")
	}
	connect(t, s)
	if dialer.Dials() != 2 {
		t.Errorf("dials = %d, want 2 (full reconnect)", dialer.Dials())
	}
}

func TestDisconnectAfterLastHopNotReady(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	s.AddSink(EventSinkFunc(func(e Event) {
		if e.Kind == EventHopCompleted && e.Hop == "internal" {
			s.Disconnect()
		}
	}))

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Connect = %v, want transport error", err)
	}
	if st := s.State(); st.Phase != PhaseDisconnected {
		t.Fatalf("state = %s, want disconnected", st)
	}
	if _, err := s.RunCommand(context.Background(), "list-items"); !errors.Is(err, ErrNotReady) {
		t.Errorf("RunCommand = %v, want ErrNotReady", err)
	}
}

func TestConnectWhileReady(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	connect(t, s)
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	cfg := twoHopConfig()
	s, _, _ := newTestSession(t, cfg, func(term *terminal) {
		term.logins["ssh internal"] = ""
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect = %v, want deadline exceeded", err)
	}
	if st := s.State(); st.Phase != PhaseDisconnected {
		t.Errorf("state = %s, want disconnected", st)
	}
}

func TestRunNotReady(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	if _, err := s.Run(context.Background(), sanitize.MustCommand("list-items")); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Run = %v, want ErrNotReady", err)
	}
}

func TestRunInvalidInputNeverSent(t *testing.T) {
	s, dialer, _ := newTestSession(t, twoHopConfig(), nil)
	connect(t, s)
	before := len(dialer.Last().ch.Sent())

	_, err := s.RunCommand(context.Background(), "kubectl describe pod", sanitize.Identifier("pod name", "web; rm -rf /"))
	if !errors.Is(err, sanitize.ErrInvalidInput) {
		t.Fatalf("RunCommand = %v, want ErrInvalidInput", err)
	}
	if _, err := s.Run(context.Background(), sanitize.CommandLine{}); !errors.Is(err, sanitize.ErrInvalidInput) {
		t.Fatalf("Run(zero) = %v, want ErrInvalidInput", err)
	}
	if after := len(dialer.Last().ch.Sent()); after != before {
		t.Errorf("%d writes reached the channel", after-before)
	}
}

func TestRunTimeoutInterrupts(t *testing.T) {
	cfg := twoHopConfig()
	cfg.CommandTimeout = 80 * time.Millisecond
	s, dialer, _ := newTestSession(t, cfg, func(term *terminal) {
		term.hang["sleep"] = true
	})
	connect(t, s)

	_, err := s.RunCommand(context.Background(), "sleep")
	if !errors.Is(err, ErrPromptTimeout) {
		t.Fatalf("RunCommand = %v, want ErrPromptTimeout", err)
	}
	if st := s.State(); st.Phase != PhaseReady {
		t.Fatalf("state = %s, want ready after confirmed interrupt", st)
	}
	sawInterrupt := false
	for _, p := range dialer.Last().ch.Sent() {
		if p == "\x03" {
			sawInterrupt = true
		}
	}
	if !sawInterrupt {
		t.Error("no interrupt sent")
	}

	out, err := s.RunCommand(context.Background(), "list-items")
	if err != nil {
		t.Fatalf("RunCommand after interrupt: %v", err)
	}
	if out.Text != "alpha\nbeta\n" {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestRunUnconfirmedInterruptAborts(t *testing.T) {
	cfg := twoHopConfig()
	cfg.CommandTimeout = 60 * time.Millisecond
	cfg.CancelTimeout = 60 * time.Millisecond
	s, dialer, _ := newTestSession(t, cfg, func(term *terminal) {
		term.hang["sleep"] = true
		term.ignoreInterrupt = true
	})
	connect(t, s)

	_, err := s.RunCommand(context.Background(), "sleep")
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrInterruptUnconfirmed) {
		t.Fatalf("RunCommand = %v, want unconfirmed interrupt transport error", err)
	}
	if st := s.State(); st.Phase != PhaseFailed || st.Reason != FailTransport {
		t.Fatalf("state = %s, want failed(transport_error)", st)
	}
	if dialer.Last().Closes() == 0 {
		t.Error("transport not closed by hard abort")
	}
}

func TestRunTransportLoss(t *testing.T) {
	s, dialer, _ := newTestSession(t, twoHopConfig(), func(term *terminal) {
		term.hang["sleep"] = true
	})
	connect(t, s)

	go func() {
		time.Sleep(30 * time.Millisecond)
		dialer.Last().ch.end(errors.New("connection reset by peer"))
	}()
	_, err := s.RunCommand(context.Background(), "sleep")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("RunCommand = %v, want *TransportError", err)
	}
	if st := s.State(); st.Phase != PhaseFailed || st.Reason != FailTransport {
		t.Fatalf("state = %s", st)
	}
}

func TestEventsReported(t *testing.T) {
	s, _, ring := newTestSession(t, twoHopConfig(), nil)
	connect(t, s)
	if _, err := s.RunCommand(context.Background(), "list-items"); err != nil {
		t.Fatal(err)
	}
	s.Disconnect()

	var kinds []string
	for _, e := range ring.Events() {
		if e.SessionID != s.ID() {
			t.Errorf("event for session %q", e.SessionID)
		}
		kinds = append(kinds, string(e.Kind))
	}
	for _, want := range []EventKind{EventHopStarted, EventHopCompleted, EventConnected, EventCommandStarted, EventCommandCompleted, EventDisconnected} {
		if !containsLine(kinds, string(want)) {
			t.Errorf("missing %s in %v", want, kinds)
		}
	}
}

func TestStateCallbacks(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), nil)
	var seen []string
	s.OnStateChange(func(from, to State) {
		seen = append(seen, to.String())
	})
	connect(t, s)

	want := []string{"connecting(0)", "connecting(1)", "ready"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}

func TestPing(t *testing.T) {
	s, _, _ := newTestSession(t, twoHopConfig(), func(term *terminal) {
		term.outputs["echo hopshell-ping"] = "hopshell-ping\r\n"
	})
	connect(t, s)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if h := s.Health(); h.SuccessfulChecks != 1 {
		t.Errorf("SuccessfulChecks = %d", h.SuccessfulChecks)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := twoHopConfig()
	cfg.Hops[0].Kind = HopLogin
	if _, err := New(cfg); err == nil {
		t.Error("hop 0 must be a connect hop")
	}
	if _, err := New(Config{}); err == nil {
		t.Error("empty hop list accepted")
	}
	cfg = twoHopConfig()
	cfg.Hops[1].Prompts = nil
	if _, err := New(cfg); err == nil {
		t.Error("hop without prompts accepted")
	}
}

func TestStripEcho(t *testing.T) {
	tests := []struct {
		text, line, want string
	}{
		{"ls\nfile\n", "ls", "file\n"},
		{"ls  \nfile\n", "ls", "file\n"},
		{"\x00ls\nfile\n", "ls", "file\n"},
		{"other\nfile\n", "ls", "other\nfile\n"},
		{"ls", "ls", ""},
	}
	for _, tt := range tests {
		if got := stripEcho(tt.text, tt.line); got != tt.want {
			t.Errorf("stripEcho(%q, %q) = %q, want %q", tt.text, tt.line, got, tt.want)
		}
	}
}

func TestParseExitStatus(t *testing.T) {
	for in, want := range map[string]int{"0\n": 0, "127\n": 127, "": -1, "garbage\n": -1, "x\n2\n": 2, "0\nsvc@": 0, " 3 \n": 3} {
		if got := parseExitStatus(in); got != want {
			t.Errorf("parseExitStatus(%q) = %d, want %d", in, got, want)
		}
	}
}
