package shell

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// streamChunkBuffer is how many undelivered chunks a Stream buffers before
// the reader applies backpressure to the consumer.
const streamChunkBuffer = 64

// Stream is a follow-mode command in progress. Chunks arrive on C as
// normalized text; C is closed when the stream ends. The session's ownership
// token is released before C is closed, so a command issued after reading
// the close does not see ErrBusy.
type Stream struct {
	ID      string
	Command string
	C       <-chan string

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
}

// Cancel stops the stream and waits until the remote prompt has returned or
// the session was aborted. It is safe to call more than once.
func (st *Stream) Cancel() error {
	st.cancel()
	<-st.done
	return st.Err()
}

// Chunks returns C.
func (st *Stream) Chunks() <-chan string { return st.C }

// Done is closed when the stream has fully ended.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Err returns nil for a stream that ended on its own or was cancelled with
// the prompt confirmed, and the failure otherwise.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Cancelled reports whether the stream ended by cancellation.
func (st *Stream) Cancelled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

func (st *Stream) finish(err error, cancelled bool) {
	st.mu.Lock()
	st.err = err
	st.cancelled = cancelled
	st.mu.Unlock()
}

// StartStream validates verb and args and starts a follow-mode command.
func (s *Session) StartStream(ctx context.Context, verb string, args ...sanitize.Arg) (*Stream, error) {
	cmd, err := sanitize.Command(verb, args...)
	if err != nil {
		return nil, err
	}
	return s.Stream(ctx, cmd)
}

// Stream starts cmd and forwards its output until the remote command returns
// to the prompt, ctx is cancelled, or the stream is cancelled. While the
// stream runs the session rejects other commands with ErrBusy.
func (s *Session) Stream(ctx context.Context, cmd sanitize.CommandLine) (*Stream, error) {
	if cmd.IsZero() {
		return nil, &sanitize.InvalidInputError{Field: "command", Rule: sanitize.RuleEmpty}
	}
	ch, gen, err := s.acquireReady()
	if err != nil {
		return nil, err
	}

	line := cmd.String()
	s.drainStale(ch)
	if err := ch.Send([]byte(line + "\n")); err != nil {
		terr := &TransportError{Op: "stream", Err: err}
		s.abort(gen, FailTransport, terr.Error())
		s.release()
		return nil, terr
	}

	sctx, cancel := context.WithCancel(ctx)
	out := make(chan string, streamChunkBuffer)
	st := &Stream{
		ID:      uuid.NewString(),
		Command: line,
		C:       out,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.streamMu.Lock()
	s.active = st
	s.streamMu.Unlock()

	s.emit(EventStreamStarted, "", "[CMD] "+line, 0, false)
	go s.readStream(sctx, st, ch, gen, line, out)
	return st, nil
}

// ActiveStream returns the running stream, or nil.
func (s *Session) ActiveStream() *Stream {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.active
}

// CancelStream cancels the active stream, if any, and waits for it to end.
func (s *Session) CancelStream() error {
	st := s.ActiveStream()
	if st == nil {
		return nil
	}
	return st.Cancel()
}

// readStream forwards complete lines as soon as they arrive. A trailing
// partial line is held until the stream has been quiet for QuietInterval:
// if it is the Ready prompt the remote command has finished, otherwise it is
// forwarded as ordinary output.
func (s *Session) readStream(ctx context.Context, st *Stream, ch sshtransport.Channel, gen uint64, line string, out chan<- string) {
	start := time.Now()
	defer func() {
		s.streamMu.Lock()
		if s.active == st {
			s.active = nil
		}
		s.streamMu.Unlock()
		s.release()
		close(out)
		close(st.done)
		st.cancel()
	}()

	var (
		pending  []byte
		echoSeen bool
	)
	deliver := func(text string, complete bool) {
		if !echoSeen && complete {
			text = stripEcho(text, line)
			echoSeen = true
		}
		if text == "" {
			return
		}
		select {
		case out <- text:
		case <-ctx.Done():
		}
	}

	quiet := time.NewTimer(s.cfg.QuietInterval)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			err := s.interrupt(ch, gen, "stream")
			st.finish(err, true)
			s.emit(EventStreamStopped, "", fmt.Sprintf("[OK] %s cancelled", line), time.Since(start), err != nil)
			return

		case <-ch.Ready():
			p := ch.Recv()
			if len(p) == 0 {
				continue
			}
			pending = append(pending, p...)
			if i := bytes.LastIndexByte(pending, '\n'); i >= 0 {
				deliver(prompt.Normalize(pending[:i+1]), true)
				pending = append([]byte(nil), pending[i+1:]...)
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(s.cfg.QuietInterval)

		case <-quiet.C:
			if len(pending) > 0 {
				if res := s.ready.Consume(pending); res.Found {
					deliver(res.Head, false)
					s.mu.Lock()
					s.lastPrompt = res.Prompt
					s.mu.Unlock()
					st.finish(nil, false)
					s.emit(EventStreamStopped, "", fmt.Sprintf("[OK] %s returned to prompt", line), time.Since(start), false)
					return
				}
				deliver(prompt.Normalize(pending), false)
				pending = nil
			}
			quiet.Reset(s.cfg.QuietInterval)

		case <-ch.Done():
			err := &TransportError{Op: "stream", Err: ch.Err()}
			s.abort(gen, FailTransport, err.Error())
			st.finish(err, false)
			s.emit(EventStreamStopped, "", fmt.Sprintf("[ERROR] %s: %v", line, err), time.Since(start), true)
			return
		}
	}
}
