package kube

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/gluk-w/hopshell/internal/sanitize"
)

var (
	// ErrMetricsUnavailable means the cluster has no metrics API; retrying
	// will not help.
	ErrMetricsUnavailable = errors.New("metrics server not available in cluster")
	// ErrMetricsPending means the pod is too new to have metrics yet.
	ErrMetricsPending = errors.New("pod metrics not available yet")
)

// PodMetrics is the current resource usage of one pod.
type PodMetrics struct {
	Name   string            `json:"name"`
	CPU    resource.Quantity `json:"cpu"`
	Memory resource.Quantity `json:"memory"`
}

// CPUMillicores returns CPU usage in millicores.
func (m *PodMetrics) CPUMillicores() int64 { return m.CPU.MilliValue() }

// MemoryBytes returns memory usage in bytes.
func (m *PodMetrics) MemoryBytes() int64 { return m.Memory.Value() }

func (m *PodMetrics) String() string {
	return fmt.Sprintf("CPU: %s | Memory: %s", m.CPU.String(), m.Memory.String())
}

var unavailableMarkers = []string{
	"metrics api not available",
	"metrics server not available",
	"metrics.k8s.io",
}

var pendingMarkers = []string{
	"not available yet",
	"not yet available",
	"metrics not ready",
	"not ready",
	"metrics collecting",
}

func classifyTopFailure(text string) error {
	lower := strings.ToLower(text)
	for _, m := range unavailableMarkers {
		if strings.Contains(lower, m) {
			return ErrMetricsUnavailable
		}
	}
	for _, m := range pendingMarkers {
		if strings.Contains(lower, m) {
			return ErrMetricsPending
		}
	}
	return nil
}

// TopPod returns the CPU and memory usage of name.
func (c *Client) TopPod(ctx context.Context, name string) (*PodMetrics, error) {
	cmd, err := c.kubectl("top",
		sanitize.Identifier("resource", "pod"),
		sanitize.Identifier("pod name", name),
		sanitize.Flag("--no-headers"),
	)
	if err != nil {
		return nil, err
	}
	out, err := c.run(ctx, cmd)
	if err != nil {
		var cerr *CommandError
		if errors.As(err, &cerr) {
			if kind := classifyTopFailure(cerr.Output); kind != nil {
				return nil, fmt.Errorf("top pod %s: %w", name, kind)
			}
		}
		return nil, err
	}
	return parseTop(name, out.Text)
}

// parseTop reads "NAME CPU MEMORY" from the line for name.
func parseTop(name, text string) (*PodMetrics, error) {
	if kind := classifyTopFailure(text); kind != nil {
		return nil, fmt.Errorf("top pod %s: %w", name, kind)
	}
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != name {
			continue
		}
		cpu, err := resource.ParseQuantity(fields[1])
		if err != nil {
			return nil, fmt.Errorf("top pod %s: cpu %q: %w", name, fields[1], err)
		}
		mem, err := resource.ParseQuantity(fields[2])
		if err != nil {
			return nil, fmt.Errorf("top pod %s: memory %q: %w", name, fields[2], err)
		}
		return &PodMetrics{Name: name, CPU: cpu, Memory: mem}, nil
	}
	return nil, fmt.Errorf("top pod %s: no metrics line in output", name)
}
