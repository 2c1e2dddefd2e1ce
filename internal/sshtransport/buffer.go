package sshtransport

import (
	"log"
	"sync"
)

// maxPending bounds the bytes held between Recv calls (16 MB). A consumer
// that falls this far behind loses the oldest output.
const maxPending = 16 * 1024 * 1024

// pendingBuffer is a thread-safe byte queue between the pump goroutine and
// the consumer. Writers signal readers through notify; done is closed once
// with the terminal error recorded in err.
type pendingBuffer struct {
	mu      sync.Mutex
	data    []byte
	maxLen  int
	dropped int
	err     error
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newPendingBuffer(maxLen int) *pendingBuffer {
	if maxLen <= 0 {
		maxLen = maxPending
	}
	return &pendingBuffer{
		maxLen: maxLen,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// write appends p, trimming from the front if the total exceeds maxLen.
func (b *pendingBuffer) write(p []byte) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.maxLen; over > 0 {
		b.data = b.data[over:]
		b.dropped += over
		if b.dropped == over {
			log.Printf("[sshtransport] pending output exceeded %d bytes, dropping oldest", b.maxLen)
		}
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take returns and clears the pending bytes.
func (b *pendingBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	p := b.data
	b.data = nil
	return p
}

// close records err as the terminal error and wakes all waiters. Only the
// first call has any effect.
func (b *pendingBuffer) close(err error) {
	b.once.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.done)
	})
}

func (b *pendingBuffer) error() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
