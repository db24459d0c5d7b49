package main

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
	"github.com/spf13/cobra"
)

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var req retrieval.Request
	var filter map[string]string
	var route string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search indexed content",
		Example: `  issuerag query "why do refunds time out?"
  issuerag query --k 3 --filter kind=issue --generate "login loop on Safari"
  issuerag query --route team "who owns the gateway?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req.Text = strings.Join(args, " ")
			req.Route = retrieval.Route(route)
			if len(filter) > 0 {
				req.Filter = vectorstore.Filter(filter)
			}
			resp, err := a.reg.Retrieval().Query(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printResponse(cmd, resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&req.K, "k", 0, "number of results (default query.default_k)")
	cmd.Flags().StringVar(&req.Category, "category", "", "score with this category's calibration")
	cmd.Flags().BoolVar(&req.Generate, "generate", false, "generate an answer from the results")
	cmd.Flags().StringVar(&route, "route", "", "search route: auto, hybrid, bugs or team (default auto)")
	cmd.Flags().StringToStringVar(&filter, "filter", nil, "metadata filter, key=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	return cmd
}

func printResponse(cmd *cobra.Command, resp *retrieval.Response) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "query %s (route %s, calibration v%d)\n", resp.QueryID, resp.Route, resp.ParamsVersion)
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. [%.3f] %s %s (distance %.3f)\n", i+1, r.Score, r.Kind, r.DocumentID, r.Distance)
		fmt.Fprintf(out, "    %s\n", snippet(r.Text, 160))
	}
	switch {
	case resp.Generated:
		fmt.Fprintf(out, "\n%s\n", resp.Answer)
	case resp.Fallback:
		fmt.Fprintf(out, "\nno answer generated: %s\n", resp.FallbackReason)
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
