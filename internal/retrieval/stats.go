package retrieval

import (
	"context"

	"go.uber.org/zap"
)

// Stats is a point-in-time summary of the corpus and feedback log.
// Counts are -1 when the backing store cannot report them.
type Stats struct {
	Chunks        int  `json:"chunks"`
	FeedbackCount int  `json:"feedback_entries"`
	ParamsVersion int  `json:"params_version"`
	Generator     bool `json:"generator"`
}

type counter interface {
	Count(ctx context.Context) (int, error)
}

// Stats reports counts without failing: a store error is logged and the
// count reported as unknown.
func (s *Service) Stats(ctx context.Context) Stats {
	return Stats{
		Chunks:        s.countOf(ctx, "vector store", s.store),
		FeedbackCount: s.countOf(ctx, "feedback store", s.feedback),
		ParamsVersion: s.calibrator.Snapshot().Version,
		Generator:     s.HasGenerator(),
	}
}

func (s *Service) countOf(ctx context.Context, what string, v any) int {
	c, ok := v.(counter)
	if !ok {
		return -1
	}
	n, err := c.Count(ctx)
	if err != nil {
		s.logger.Warn("count unavailable", zap.String("store", what), zap.Error(err))
		return -1
	}
	return n
}
