package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/logging"
)

// options are the persistent flags shared by every command.
type options struct {
	namespace string
	hopsFile  string
	verbose   bool
}

// NewRootCommand builds the hopshell command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "hopshell",
		Short: "Run read-only kubectl operations through a jump host, an internal host and sudo",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.Close()
		},
	}
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.namespace, "namespace", "n", "", "Kubernetes namespace (overrides HOPSHELL_NAMESPACE)")
	flags.StringVar(&opts.hopsFile, "hops", "", "YAML hop chain file (overrides HOPSHELL_HOPS_FILE)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Also write the log to stderr")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newPodsCmd(opts),
		newSearchCmd(opts),
		newDescribeCmd(opts),
		newLogsCmd(opts),
		newTopCmd(opts),
		newAuditCmd(opts),
		newKeygenCmd(),
	)
	return rootCmd
}

// load reads the environment, applies flag overrides and starts logging.
// serve always logs to stderr.
func (o *options) load(cmd *cobra.Command) error {
	s, err := config.Process()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.namespace != "" {
		s.Namespace = o.namespace
	}
	if o.hopsFile != "" {
		s.HopsFile = o.hopsFile
	}
	config.Cfg = s

	if o.verbose || cmd.Name() == "serve" {
		logging.Init()
	} else {
		logging.InitFileOnly()
	}
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
