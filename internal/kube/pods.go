package kube

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/sanitize"
)

// PodSummary is the list view of a pod.
type PodSummary struct {
	Name     string        `json:"name"`
	Phase    string        `json:"phase"`
	Ready    string        `json:"ready"`
	Restarts int32         `json:"restarts"`
	Age      time.Duration `json:"age"`
	Node     string        `json:"node,omitempty"`
}

var nowFunc = time.Now

// ListRunningPods lists the pods in the Running phase.
func (c *Client) ListRunningPods(ctx context.Context) ([]PodSummary, error) {
	cmd, err := c.kubectl("get",
		sanitize.Identifier("resource", "pods"),
		sanitize.Flag("--field-selector=status.phase=Running"),
		sanitize.Flag("-o"), sanitize.Identifier("output format", "json"),
	)
	if err != nil {
		return nil, err
	}
	out, err := c.run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	list, err := decodePodList(out.Text)
	if err != nil {
		return nil, err
	}
	pods := make([]PodSummary, 0, len(list.Items))
	for i := range list.Items {
		pods = append(pods, summarize(&list.Items[i], nowFunc()))
	}
	log.Printf("[kube] %d running pods in %s", len(pods), logutil.SanitizeForLog(c.namespace))
	return pods, nil
}

// decodePodList parses kubectl's JSON output. Anything before the opening
// brace (a motd line, a stray echo) is ignored.
func decodePodList(text string) (*corev1.PodList, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("decode pod list: no JSON object in output (%q)", logutil.Truncate(firstLine(text), 80))
	}
	var list corev1.PodList
	if err := json.Unmarshal([]byte(text[start:]), &list); err != nil {
		return nil, fmt.Errorf("decode pod list: %w", err)
	}
	return &list, nil
}

func summarize(pod *corev1.Pod, now time.Time) PodSummary {
	var ready int
	var restarts int32
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	s := PodSummary{
		Name:     pod.Name,
		Phase:    string(pod.Status.Phase),
		Ready:    fmt.Sprintf("%d/%d", ready, len(pod.Spec.Containers)),
		Restarts: restarts,
		Node:     pod.Spec.NodeName,
	}
	if !pod.CreationTimestamp.IsZero() {
		s.Age = now.Sub(pod.CreationTimestamp.Time).Round(time.Second)
	}
	return s
}

// SearchPods returns the names of pods whose "kubectl get pods" line
// contains keyword. No match is an empty result, not an error.
func (c *Client) SearchPods(ctx context.Context, keyword string) ([]string, error) {
	get, err := c.kubectl("get",
		sanitize.Identifier("resource", "pods"),
		sanitize.Flag("--no-headers"),
	)
	if err != nil {
		return nil, err
	}
	grep, err := sanitize.Command("grep", sanitize.Flag("--"), sanitize.Token("search keyword", keyword))
	if err != nil {
		return nil, err
	}
	cmd, err := sanitize.Pipeline(get, grep)
	if err != nil {
		return nil, err
	}

	out, err := c.run(ctx, cmd)
	if err != nil {
		var cerr *CommandError
		// grep exits 1 when nothing matched.
		if errors.As(err, &cerr) && cerr.ExitStatus == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parsePodNames(out.Text), nil
}

// parsePodNames takes the first column of each line that looks like a pod
// listing, skipping headers, command echoes and prompts.
func parsePodNames(text string) []string {
	var names []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "NAME ") || strings.HasPrefix(line, "kubectl ") {
			continue
		}
		if strings.HasSuffix(line, "$") || strings.HasSuffix(line, "#") {
			continue
		}
		name := strings.Fields(line)[0]
		if _, err := sanitize.ValidateIdentifier(name); err != nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

// DescribePod returns "kubectl describe pod" output for name.
func (c *Client) DescribePod(ctx context.Context, name string) (string, error) {
	cmd, err := c.kubectl("describe",
		sanitize.Identifier("resource", "pod"),
		sanitize.Identifier("pod name", name),
	)
	if err != nil {
		return "", err
	}
	out, err := c.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
