package scheduler

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"go.uber.org/zap"
)

// Recalibrator refits calibration to a feedback window.
type Recalibrator interface {
	Recalibrate(ctx context.Context, w feedback.Window) (*relevance.Outcome, error)
}

// RecalibrationJob refits the calibration to the most recent feedback.
type RecalibrationJob struct {
	target Recalibrator
	window feedback.Window
	logger *zap.Logger
}

// NewRecalibrationJob creates a job over the latest limit entries.
func NewRecalibrationJob(target Recalibrator, limit int, logger *zap.Logger) *RecalibrationJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecalibrationJob{target: target, window: feedback.Window{Limit: limit}, logger: logger}
}

// Name returns "recalibrate".
func (j *RecalibrationJob) Name() string { return "recalibrate" }

// Run recalibrates once. A degenerate fit keeps the current parameters
// and is not a job failure.
func (j *RecalibrationJob) Run(ctx context.Context) error {
	out, err := j.target.Recalibrate(ctx, j.window)
	if errors.Is(err, relevance.ErrDegenerateRange) {
		j.logger.Warn("recalibration produced a degenerate range, parameters unchanged", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	j.logger.Info("recalibration run",
		zap.Bool("changed", out.Changed),
		zap.String("reason", out.Reason),
		zap.Int("samples", out.Samples),
		zap.Int("version", out.Current.Version))
	return nil
}
