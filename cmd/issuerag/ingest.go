package main

import (
	"fmt"

	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/fyrsmithlabs/issuerag/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var spec services.SourceSpec
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index documents from a JSON file or a GitHub repository",
		Example: `  issuerag ingest --file issues.json
  issuerag ingest --github fyrsmithlabs/issuerag`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := services.NewSource(ctx, a.cfg, spec, a.logger.Underlying())
			if err != nil {
				return err
			}
			docs, err := src.Documents(ctx)
			if err != nil {
				return fmt.Errorf("reading %s: %w", src.Name(), err)
			}
			a.logger.Underlying().Info("documents loaded", zap.String("source", src.Name()), zap.Int("documents", len(docs)))

			report, ingestErr := a.reg.Retrieval().Ingest(ctx, docs)
			if report != nil {
				if asJSON {
					if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					printReport(cmd, report)
				}
			}
			return ingestErr
		},
	}
	cmd.Flags().StringVar(&spec.File, "file", "", "JSON file of documents")
	cmd.Flags().StringVar(&spec.GitHub, "github", "", "GitHub repository as owner/repo")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.MarkFlagsMutuallyExclusive("file", "github")
	cmd.MarkFlagsOneRequired("file", "github")
	return cmd
}

func printReport(cmd *cobra.Command, r *retrieval.IngestionReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "documents: %d succeeded, %d skipped, %d failed\n", r.Succeeded, r.Skipped, r.Failed)
	fmt.Fprintf(out, "chunks:    %d\n", r.TotalChunks)
	if r.Redacted > 0 {
		fmt.Fprintf(out, "redacted:  %d secrets\n", r.Redacted)
	}
	for kind, n := range r.ChunkCounts {
		fmt.Fprintf(out, "  %-14s %d\n", kind, n)
	}
	for _, d := range r.Documents {
		if d.Error != "" {
			fmt.Fprintf(out, "  %s %s: %s\n", d.Status, d.ID, d.Error)
		}
	}
	fmt.Fprintf(out, "took:      %s\n", r.Duration)
}
