// Command issuerag indexes issue-tracker content and answers questions
// over it with calibrated relevance scores.
//
// Usage:
//
//	issuerag serve
//	issuerag ingest --file issues.json
//	issuerag ingest --github owner/repo
//	issuerag query "why do refunds time out?"
//	issuerag feedback --query "refund timeout" --rating 4
//	issuerag calibration recalibrate
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string

	// serve overrides
	serverHost string
	serverPort int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "issuerag",
		Short: "Retrieval over issue-tracker content",
		Long: `issuerag indexes projects, issues and comments into a vector store and
answers questions over them. Relevance scores are calibrated from user
feedback so they stay meaningful as the corpus changes.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/issuerag/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newQueryCmd(opts),
		newFeedbackCmd(opts),
		newMetricsCmd(opts),
		newCalibrationCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "issuerag by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
