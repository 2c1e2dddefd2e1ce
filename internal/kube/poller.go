package kube

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/shell"
)

const (
	// maxMetricsFailures is how many consecutive failed polls are tolerated
	// before the poller gives up.
	maxMetricsFailures = 7
	// DefaultPollSchedule refreshes metrics every 10 seconds.
	DefaultPollSchedule = "@every 10s"
	pollTimeout         = 15 * time.Second
)

// MetricsPoller refreshes TopPod on a cron schedule. A tick is skipped while
// the session is busy (a log stream holds it). Polling stops on
// ErrMetricsUnavailable or after maxMetricsFailures consecutive failures.
type MetricsPoller struct {
	client   *Client
	pod      string
	onUpdate func(*PodMetrics)
	onStop   func(error)

	cron *cron.Cron

	mu       sync.Mutex
	failures int
	stopped  bool
	done     chan struct{}
	err      error
}

// NewMetricsPoller validates pod and schedule. onUpdate receives every
// successful reading; onStop, if set, is called once with the reason
// polling ended (nil for Stop).
func (c *Client) NewMetricsPoller(pod, schedule string, onUpdate func(*PodMetrics), onStop func(error)) (*MetricsPoller, error) {
	if _, err := sanitize.ValidateIdentifier(pod); err != nil {
		return nil, fmt.Errorf("pod name: %w", err)
	}
	if schedule == "" {
		schedule = DefaultPollSchedule
	}
	p := &MetricsPoller{
		client:   c,
		pod:      pod,
		onUpdate: onUpdate,
		onStop:   onStop,
		done:     make(chan struct{}),
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("metrics schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins polling.
func (p *MetricsPoller) Start() {
	p.cron.Start()
}

// Stop ends polling. It is safe to call more than once.
func (p *MetricsPoller) Stop() {
	p.finish(nil)
}

// Done is closed when polling has ended.
func (p *MetricsPoller) Done() <-chan struct{} { return p.done }

// Err returns why polling ended on its own, or nil.
func (p *MetricsPoller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *MetricsPoller) finish(err error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.err = err
	p.mu.Unlock()

	p.cron.Stop()
	if err != nil {
		log.Printf("[kube] metrics polling for %s stopped: %v", logutil.SanitizeForLog(p.pod), err)
	}
	if p.onStop != nil {
		p.onStop(err)
	}
	close(p.done)
}

// tick runs one poll.
func (p *MetricsPoller) tick(ctx context.Context) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()
	m, err := p.client.TopPod(ctx, p.pod)

	switch {
	case err == nil:
		p.mu.Lock()
		p.failures = 0
		p.mu.Unlock()
		if p.onUpdate != nil {
			p.onUpdate(m)
		}
	case errors.Is(err, shell.ErrBusy):
		// A stream owns the session; try again next tick.
	case errors.Is(err, ErrMetricsUnavailable), errors.Is(err, shell.ErrNotReady):
		p.finish(err)
	default:
		p.mu.Lock()
		p.failures++
		n := p.failures
		p.mu.Unlock()
		if n >= maxMetricsFailures {
			p.finish(fmt.Errorf("metrics unavailable after %d attempts: %w", n, err))
		}
	}
}
