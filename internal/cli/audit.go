package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gluk-w/hopshell/internal/audit"
	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/database"
)

func newAuditCmd(_ *options) *cobra.Command {
	var q audit.QueryOptions
	var since time.Duration
	var purge bool

	cmd := &cobra.Command{
		Use:     "audit",
		Aliases: []string{"a"},
		Short:   "Show recorded session events",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.Init(); err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()
			a := audit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)

			if purge {
				n, err := a.PurgeOlderThan(0)
				if err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records older than %d days\n", n, a.RetentionDays())
				return nil
			}

			if since > 0 {
				t := time.Now().Add(-since)
				q.Since = &t
			}
			res, err := a.Query(q)
			if err != nil {
				return fmt.Errorf("query audit log: %w", err)
			}
			printAudit(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.SessionID, "session", "", "Only this session ID")
	cmd.Flags().StringVarP(&q.Kind, "kind", "k", "", "Only this event kind (e.g. command_failed)")
	cmd.Flags().BoolVar(&q.FailedOnly, "failed", false, "Only failures")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "Maximum records")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "Records to skip")
	cmd.Flags().BoolVar(&purge, "purge", false, "Remove records past the retention period and exit")
	return cmd
}

func printAudit(w io.Writer, res *audit.QueryResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tKIND\tHOP\tSUMMARY")
	for _, r := range res.Entries {
		session := r.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		kind := r.Kind
		if r.Failed {
			kind += " !"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), session, kind, r.Hop, r.Summary)
	}
	tw.Flush()
	if res.Total > int64(len(res.Entries)) {
		fmt.Fprintf(w, "(%d of %d shown)\n", len(res.Entries), res.Total)
	}
}
