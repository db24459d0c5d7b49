package retrieval

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"go.uber.org/zap"
)

// FeedbackRequest is a user's judgement of a query's results. Scores and
// Distances may be omitted when QueryID names a recent query; they are
// then taken from that query.
type FeedbackRequest struct {
	QueryID   string          `json:"query_id,omitempty"`
	Query     string          `json:"query,omitempty"`
	Rating    *int            `json:"rating,omitempty"`
	Signal    feedback.Signal `json:"signal,omitempty"`
	Category  string          `json:"category,omitempty"`
	Comment   string          `json:"comment,omitempty"`
	Scores    []float64       `json:"scores,omitempty"`
	Distances []float64       `json:"distances,omitempty"`
}

// Feedback validates and records req, returning the stored entry.
func (s *Service) Feedback(ctx context.Context, req FeedbackRequest) (*feedback.Entry, error) {
	const op = "retrieval.feedback"
	if req.Rating == nil && (req.Signal == "" || req.Signal == feedback.SignalNone) {
		return nil, ragerrors.Validationf(op, "a rating or a positive/negative signal is required")
	}

	entry := feedback.Entry{
		QueryID:       req.QueryID,
		Query:         strings.TrimSpace(req.Query),
		Scores:        req.Scores,
		Distances:     req.Distances,
		Rating:        req.Rating,
		Signal:        req.Signal,
		Category:      req.Category,
		Comment:       req.Comment,
		ParamsVersion: s.calibrator.Snapshot().Version,
	}

	if req.QueryID != "" {
		ctx = logging.WithQueryID(ctx, req.QueryID)
		if sum, ok := s.queries.Get(req.QueryID); ok {
			if entry.Query == "" {
				entry.Query = sum.Query
			}
			if entry.Category == "" {
				entry.Category = sum.Category
			}
			if len(entry.Scores) == 0 {
				entry.Scores = sum.Scores
				entry.Distances = sum.Distances
				entry.ParamsVersion = sum.ParamsVersion
			}
		} else if len(entry.Scores) == 0 {
			logging.Ctx(ctx, s.logger).Debug("feedback for unknown or expired query, recording without scores")
		}
	}

	prepared, err := feedback.Prepare(entry)
	if err != nil {
		return nil, err
	}

	kind := "signal"
	if prepared.Rating != nil {
		kind = "rated"
	}
	if err := s.feedback.Record(ctx, prepared); err != nil {
		feedbackRecorded.WithLabelValues(kind, "error").Inc()
		if ragerrors.IsValidation(err) {
			return nil, err
		}
		return nil, ragerrors.Storage(op, err)
	}
	feedbackRecorded.WithLabelValues(kind, "success").Inc()

	logging.Ctx(ctx, s.logger).Info("feedback recorded",
		zap.String("feedback_id", prepared.ID),
		zap.String("signal", string(prepared.Signal)),
		zap.String("category", prepared.Category),
		zap.Int("scores", len(prepared.Scores)))
	return &prepared, nil
}

func (s *Service) window(ctx context.Context, w feedback.Window) ([]feedback.Entry, error) {
	if w.Limit <= 0 {
		w.Limit = s.cfg.FeedbackWindow
	}
	entries, err := s.feedback.Window(ctx, w)
	if err != nil {
		return nil, ragerrors.Storage("retrieval.feedback_window", err)
	}
	return entries, nil
}

// Metrics summarizes the feedback window w.
func (s *Service) Metrics(ctx context.Context, w feedback.Window) (feedback.Metrics, error) {
	entries, err := s.window(ctx, w)
	if err != nil {
		return feedback.Metrics{}, err
	}
	return feedback.ComputeMetrics(entries, s.cfg.Metrics, s.calibrator.Snapshot().Normalize), nil
}

// Recalibrate fits the calibration to the feedback window w.
func (s *Service) Recalibrate(ctx context.Context, w feedback.Window) (*relevance.Outcome, error) {
	entries, err := s.window(ctx, w)
	if err != nil {
		return nil, err
	}
	out, err := s.calibrator.Recalibrate(ctx, entries)
	if err != nil {
		logging.Ctx(ctx, s.logger).Warn("recalibration rejected", zap.Error(err))
		return nil, err
	}
	calibrationVersion.Set(float64(out.Current.Version))
	return out, nil
}

// Calibration returns the parameters in effect.
func (s *Service) Calibration() *relevance.Params {
	p := s.calibrator.Snapshot()
	calibrationVersion.Set(float64(p.Version))
	return p
}

// ResetCalibration publishes the configured defaults as a new version.
func (s *Service) ResetCalibration(ctx context.Context) (*relevance.Params, error) {
	p, err := s.calibrator.Reset(ctx)
	if err != nil {
		return nil, err
	}
	calibrationVersion.Set(float64(p.Version))
	return p, nil
}

// Study runs each case and groups the best scores by expected relevance.
// A case without hits is observed at the worst possible distance.
func (s *Service) Study(ctx context.Context, cases []relevance.StudyCase) (*relevance.StudyReport, error) {
	obs := make([]relevance.Observation, 0, len(cases))
	for _, p := range cases {
		e, err := relevance.ParseExpectation(string(p.Expected))
		if err != nil {
			return nil, ragerrors.Validationf("retrieval.study", "case %q: %v", p.Query, err)
		}
		p.Expected = e
		if strings.TrimSpace(p.Query) == "" {
			return nil, ragerrors.Validationf("retrieval.study", "case query is required")
		}
		results, _, err := s.search(ctx, strings.TrimSpace(p.Query), 1, nil, "")
		if err != nil {
			return nil, err
		}
		o := relevance.Observation{Case: p, TopDistance: relevance.MaxCosineDistance}
		if len(results) > 0 {
			o.TopScore = results[0].Score
			o.TopDistance = results[0].Distance
		}
		obs = append(obs, o)
	}
	report := relevance.Study(obs)
	return &report, nil
}
