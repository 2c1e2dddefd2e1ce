package handlers

import (
	"context"

	"github.com/gluk-w/hopshell/internal/audit"
	"github.com/gluk-w/hopshell/internal/kube"
	"github.com/gluk-w/hopshell/internal/metrics"
	"github.com/gluk-w/hopshell/internal/shell"
)

// SessionController is the part of *shell.Session the API drives.
type SessionController interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect() error
	State() shell.State
	Transitions() []shell.StateTransition
	HopsCompleted() []string
	Busy() bool
	Health() shell.HealthMetrics
}

// LogStream is a running log follow.
type LogStream interface {
	Chunks() <-chan string
	Cancel() error
	Err() error
}

// PodService is the set of kubectl operations the API exposes.
type PodService interface {
	ListRunningPods(ctx context.Context) ([]kube.PodSummary, error)
	SearchPods(ctx context.Context, keyword string) ([]string, error)
	DescribePod(ctx context.Context, name string) (string, error)
	TopPod(ctx context.Context, name string) (*kube.PodMetrics, error)
	StreamPodLogs(ctx context.Context, name string, opts kube.LogOptions) (LogStream, error)
}

// kubePods adapts *kube.Client to PodService.
type kubePods struct {
	*kube.Client
}

// NewPodService wraps c for use as Pods.
func NewPodService(c *kube.Client) PodService {
	return kubePods{c}
}

func (p kubePods) StreamPodLogs(ctx context.Context, name string, opts kube.LogOptions) (LogStream, error) {
	st, err := p.Client.StreamPodLogs(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Set from the serve command during init.
var (
	Session  SessionController
	Pods     PodService
	Events   *shell.EventRing
	AuditLog *audit.Auditor
	Metrics  *metrics.Metrics
)
