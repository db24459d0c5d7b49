package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/spf13/cobra"
)

func newCalibrationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibration",
		Short: "Inspect and adjust relevance calibration",
	}
	cmd.AddCommand(
		newCalibrationShowCmd(opts),
		newRecalibrateCmd(opts),
		newCalibrationResetCmd(opts),
		newStudyCmd(opts),
	)
	return cmd
}

func newCalibrationShowCmd(opts *rootOptions) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the calibration in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if history < 0 {
				return fmt.Errorf("--history must not be negative")
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if history == 0 {
				return writeJSON(cmd.OutOrStdout(), a.reg.Retrieval().Calibration())
			}
			db := a.reg.Database()
			if db == nil {
				return fmt.Errorf("calibration history needs a feedback database")
			}
			versions, err := db.CalibrationStore().History(ctx, history)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), versions)
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "print the last N saved versions instead")
	return cmd
}

func newRecalibrateCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "recalibrate",
		Short: "Fit the distance range to recorded feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := window(since, limit)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if w.Limit == 0 {
				w.Limit = a.cfg.Calibration.Window
			}
			out, err := a.reg.Retrieval().Recalibrate(ctx, w)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	addWindowFlags(cmd, &since, &limit)
	return cmd
}

func newCalibrationResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Publish the configured defaults as a new version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.reg.Retrieval().ResetCalibration(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newStudyCmd(opts *rootOptions) *cobra.Command {
	var casesPath string
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Check calibration against queries of known relevance",
		Long: `Run queries and group their best scores by expected relevance.
The cases file is a JSON array of {"query": "...", "expected": "HIGH"}
objects; expected is one of HIGH, MEDIUM, LOW or VERYLOW.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cases, err := readCases(casesPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reg.Retrieval().Study(ctx, cases)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&casesPath, "cases", "", "JSON file of queries with expected relevance")
	_ = cmd.MarkFlagRequired("cases")
	return cmd
}

func readCases(path string) ([]relevance.StudyCase, error) {
	path, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cases: %w", err)
	}
	var cases []relevance.StudyCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parsing cases %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("cases file %s is empty", path)
	}
	return cases, nil
}
