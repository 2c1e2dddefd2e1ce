package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/duration"

	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/kube"
)

func newPodsCmd(_ *options) *cobra.Command {
	return &cobra.Command{
		Use:     "pods",
		Aliases: []string{"p"},
		Short:   "List running pods",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer conn.Close()

			pods, err := conn.kube.ListRunningPods(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pods: %w", err)
			}
			printPods(cmd.OutOrStdout(), pods)
			return nil
		},
	}
}

func newSearchCmd(_ *options) *cobra.Command {
	return &cobra.Command{
		Use:     "search <keyword>",
		Aliases: []string{"s"},
		Short:   "Find pods whose listing contains keyword",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer conn.Close()

			names, err := conn.kube.SearchPods(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("search pods: %w", err)
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No pods match %q\n", args[0])
				return nil
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newDescribeCmd(_ *options) *cobra.Command {
	return &cobra.Command{
		Use:     "describe <pod>",
		Aliases: []string{"d"},
		Short:   "Describe a pod",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer conn.Close()

			text, err := conn.kube.DescribePod(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("describe pod: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newLogsCmd(_ *options) *cobra.Command {
	var opts kube.LogOptions

	cmd := &cobra.Command{
		Use:     "logs <pod>",
		Aliases: []string{"l"},
		Short:   "Print or follow pod logs; Ctrl-C stops following",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := connect(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer conn.Close()

			// The stream watches ctx: an interrupt cancels it and the
			// session returns to its prompt before C closes.
			st, err := conn.kube.StreamPodLogs(ctx, args[0], opts)
			if err != nil {
				return err
			}
			for chunk := range st.C {
				fmt.Fprint(cmd.OutOrStdout(), chunk)
			}
			<-st.Done()
			if st.Cancelled() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Stream stopped")
			}
			return st.Err()
		},
	}
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "Follow the log")
	cmd.Flags().IntVar(&opts.Tail, "tail", 0, "Only the last N lines")
	cmd.Flags().StringVarP(&opts.Container, "container", "c", "", "Container name")
	cmd.Flags().BoolVar(&opts.Timestamps, "timestamps", false, "Prefix lines with timestamps")
	return cmd
}

func newTopCmd(_ *options) *cobra.Command {
	var watch bool
	var schedule string

	cmd := &cobra.Command{
		Use:     "top <pod>",
		Aliases: []string{"t"},
		Short:   "Show pod CPU and memory usage",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer conn.Close()

			if !watch {
				m, err := conn.kube.TopPod(cmd.Context(), args[0])
				if err != nil {
					return explainTopError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), m)
				return nil
			}

			if schedule == "" {
				schedule = config.Cfg.MetricsPollSchedule
			}
			return watchTop(cmd.Context(), cmd.OutOrStdout(), conn.kube, args[0], schedule)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep refreshing until interrupted")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Refresh schedule (overrides HOPSHELL_METRICS_POLL_SCHEDULE)")
	return cmd
}

func watchTop(ctx context.Context, out io.Writer, kc *kube.Client, pod, schedule string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := kc.NewMetricsPoller(pod, schedule, func(m *kube.PodMetrics) {
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), m)
	}, nil)
	if err != nil {
		return err
	}
	p.Start()
	select {
	case <-ctx.Done():
		p.Stop()
		return nil
	case <-p.Done():
		return explainTopError(p.Err())
	}
}

func explainTopError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kube.ErrMetricsUnavailable):
		return fmt.Errorf("%w: install metrics-server to use top", err)
	case errors.Is(err, kube.ErrMetricsPending):
		return fmt.Errorf("%w: retry in a few seconds", err)
	default:
		return err
	}
}

func printPods(w io.Writer, pods []kube.PodSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREADY\tSTATUS\tRESTARTS\tAGE\tNODE")
	for _, p := range pods {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", p.Name, p.Ready, p.Phase, p.Restarts, formatAge(p.Age), p.Node)
	}
	tw.Flush()
}

// formatAge renders d the way kubectl's AGE column does.
func formatAge(d time.Duration) string {
	if d <= 0 {
		return "<unknown>"
	}
	return duration.HumanDuration(d)
}
