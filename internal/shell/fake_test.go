package shell

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// fakeChannel is an instrumented in-memory sshtransport.Channel. Input
// written with Send is handed to onInput synchronously.
type fakeChannel struct {
	mu      sync.Mutex
	pending []byte
	ready   chan struct{}
	done    chan struct{}
	err     error
	once    sync.Once
	sent    []string
	onInput func(fc *fakeChannel, p []byte)
}

func newFakeChannel(onInput func(fc *fakeChannel, p []byte)) *fakeChannel {
	return &fakeChannel{
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		onInput: onInput,
	}
}

func (fc *fakeChannel) emit(s string) {
	fc.mu.Lock()
	fc.pending = append(fc.pending, s...)
	fc.mu.Unlock()
	select {
	case fc.ready <- struct{}{}:
	default:
	}
}

func (fc *fakeChannel) Send(p []byte) error {
	select {
	case <-fc.done:
		return fmt.Errorf("send on closed channel: %w", fc.Err())
	default:
	}
	fc.mu.Lock()
	fc.sent = append(fc.sent, string(p))
	fc.mu.Unlock()
	if fc.onInput != nil {
		fc.onInput(fc, append([]byte(nil), p...))
	}
	return nil
}

func (fc *fakeChannel) Recv() []byte {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	p := fc.pending
	fc.pending = nil
	return p
}

func (fc *fakeChannel) Ready() <-chan struct{} { return fc.ready }
func (fc *fakeChannel) Done() <-chan struct{}  { return fc.done }

func (fc *fakeChannel) Err() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.err
}

func (fc *fakeChannel) end(err error) {
	fc.once.Do(func() {
		fc.mu.Lock()
		fc.err = err
		fc.mu.Unlock()
		close(fc.done)
	})
}

func (fc *fakeChannel) Close() error {
	fc.end(sshtransport.ErrClosed)
	return nil
}

// Sent returns everything written to the channel, one entry per Send.
func (fc *fakeChannel) Sent() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.sent...)
}

type fakeTransport struct {
	mu     sync.Mutex
	ch     *fakeChannel
	banner string
	closes int
}

func (ft *fakeTransport) OpenPTY(ctx context.Context, opts sshtransport.PTYOptions) (sshtransport.Channel, error) {
	if ft.banner != "" {
		ft.ch.emit(ft.banner)
	}
	return ft.ch, nil
}

func (ft *fakeTransport) Close() error {
	ft.mu.Lock()
	ft.closes++
	ft.mu.Unlock()
	ft.ch.end(sshtransport.ErrClosed)
	return nil
}

func (ft *fakeTransport) Closes() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.closes
}

// fakeDialer hands out a fresh transport per Dial from newTransport.
type fakeDialer struct {
	mu           sync.Mutex
	newTransport func() (*fakeTransport, error)
	dials        int
	last         *fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, ep sshtransport.Endpoint, auth sshtransport.Auth) (sshtransport.Transport, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	tr, err := d.newTransport()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.last = tr
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// terminal simulates an echoing interactive shell that can log in to
// further hosts, elevate with a sudo password and run a few commands.
type terminal struct {
	mu sync.Mutex

	buf    []byte
	prompt string

	// logins maps a hop command to the prompt it leads to. An empty value
	// means the login hangs without ever showing a prompt.
	logins map[string]string
	// delayedLogins show their prompt only after a bare newline.
	delayedLogins map[string]string
	nudgePrompt   string

	// sudo challenges for a password when set.
	sudoCommand  string
	sudoPassword string
	sudoPrompt   string
	askingPass   bool
	passwords    []string

	// outputs maps a command to its output (without the prompt).
	outputs map[string]string
	status  int

	// hang lists commands that produce no prompt until interrupted.
	hang            map[string]bool
	ignoreInterrupt bool
	streams         map[string]bool
	stopStream      chan struct{}
	streamDone      chan struct{}
}

func newTerminal(firstPrompt string) *terminal {
	return &terminal{
		prompt:        firstPrompt,
		logins:        map[string]string{},
		delayedLogins: map[string]string{},
		outputs:       map[string]string{},
		hang:          map[string]bool{},
		streams:       map[string]bool{},
	}
}

func (t *terminal) input(fc *fakeChannel, p []byte) {
	for _, b := range p {
		switch b {
		case 0x03:
			t.interrupt(fc)
		case '\n':
			t.mu.Lock()
			line := string(t.buf)
			t.buf = nil
			t.mu.Unlock()
			t.execute(fc, line)
		default:
			t.mu.Lock()
			t.buf = append(t.buf, b)
			t.mu.Unlock()
		}
	}
}

func (t *terminal) interrupt(fc *fakeChannel) {
	t.mu.Lock()
	ignore := t.ignoreInterrupt
	t.mu.Unlock()
	if ignore {
		return
	}
	t.stopStreaming()
	fc.emit("^C\r\n" + t.currentPrompt())
}

// stopStreaming ends a running stream command, if any.
func (t *terminal) stopStreaming() {
	t.mu.Lock()
	stop, done := t.stopStream, t.streamDone
	t.stopStream, t.streamDone = nil, nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (t *terminal) currentPrompt() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prompt
}

func (t *terminal) execute(fc *fakeChannel, line string) {
	t.mu.Lock()
	if t.askingPass {
		t.askingPass = false
		t.passwords = append(t.passwords, line)
		if line == t.sudoPassword {
			t.prompt = t.sudoPrompt
			t.mu.Unlock()
			fc.emit("\r\n" + t.currentPrompt())
			return
		}
		t.askingPass = true
		t.mu.Unlock()
		fc.emit("\r\nSorry, try again.\r\n[sudo] password for ops: ")
		return
	}
	t.mu.Unlock()

	fc.emit(line + "\r\n")

	t.mu.Lock()
	if line == "" && t.nudgePrompt != "" {
		t.prompt = t.nudgePrompt
		t.nudgePrompt = ""
	}
	if next, ok := t.logins[line]; ok {
		if next == "" {
			t.mu.Unlock()
			return
		}
		t.prompt = next
	}
	if next, ok := t.delayedLogins[line]; ok {
		t.nudgePrompt = next
		t.mu.Unlock()
		return
	}
	if line == t.sudoCommand && t.sudoCommand != "" {
		t.askingPass = true
		t.mu.Unlock()
		fc.emit("[sudo] password for ops: ")
		return
	}
	if t.hang[line] {
		t.mu.Unlock()
		return
	}
	if t.streams[line] {
		stop := make(chan struct{})
		done := make(chan struct{})
		t.stopStream, t.streamDone = stop, done
		t.mu.Unlock()
		go func() {
			defer close(done)
			for i := 1; ; i++ {
				select {
				case <-stop:
					return
				case <-time.After(3 * time.Millisecond):
					fc.emit(fmt.Sprintf("log line %d\r\n", i))
				}
			}
		}()
		return
	}
	out, known := t.outputs[line]
	status := t.status
	switch {
	case line == DefaultStatusCommand:
		out = fmt.Sprintf("%d\r\n", status)
	case line == "false":
		t.status = 1
	case known:
		t.status = 0
	}
	t.mu.Unlock()

	fc.emit(out + t.currentPrompt())
}

func (t *terminal) Passwords() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.passwords...)
}

// recordingPattern logs every MatchTail call so tests can check which hop's
// patterns were consulted and when.
type recordingPattern struct {
	prompt.Pattern
	hop int
	log *callLog
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *callLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (p recordingPattern) MatchTail(line string) int {
	idx := p.Pattern.MatchTail(line)
	if idx >= 0 {
		p.log.add(fmt.Sprintf("match:%d", p.hop))
	} else {
		p.log.add(fmt.Sprintf("try:%d", p.hop))
	}
	return idx
}

// twoHopConfig is the jump$ / internal# chain used throughout the tests.
func twoHopConfig() Config {
	return Config{
		Hops: []Hop{
			{
				Kind:     HopConnect,
				Name:     "jump",
				Endpoint: sshtransport.Endpoint{Host: "jump.example.com", User: "ops"},
				Prompts:  []prompt.Pattern{prompt.Suffix("jump$ ")},
				Timeout:  2 * time.Second,
			},
			{
				Kind:    HopLogin,
				Name:    "internal",
				Command: "ssh internal",
				Prompts: []prompt.Pattern{prompt.Suffix("internal# ")},
				Timeout: 2 * time.Second,
			},
		},
		QuietInterval:  20 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
		CancelTimeout:  time.Second,
	}
}

// newTestSession builds a session over a terminal. setup may adjust the
// terminal before each dial.
func newTestSession(t *testing.T, cfg Config, setup func(*terminal)) (*Session, *fakeDialer, *EventRing) {
	t.Helper()
	dialer := &fakeDialer{}
	dialer.newTransport = func() (*fakeTransport, error) {
		term := newTerminal("jump$ ")
		term.logins["ssh internal"] = "internal# "
		term.outputs["list-items"] = "alpha\r\nbeta\r\n"
		if setup != nil {
			setup(term)
		}
		return &fakeTransport{
			ch:     newFakeChannel(term.input),
			banner: "Last login: Mon\r\n\x1b[1;32mjump$ \x1b[0m",
		}, nil
	}
	ring := NewEventRing()
	s, err := New(cfg, WithDialer(dialer), WithSink(ring))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dialer, ring
}

func containsLine(entries []string, want string) bool {
	for _, e := range entries {
		if strings.Contains(e, want) {
			return true
		}
	}
	return false
}
