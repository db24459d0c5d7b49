package feedback

import (
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/google/uuid"
)

// Signal is implicit feedback, used when no explicit rating was given.
type Signal string

const (
	SignalNone     Signal = "none"
	SignalPositive Signal = "positive"
	SignalNegative Signal = "negative"
)

// Implicit signals stand in for these ratings.
const (
	positiveRating = 4
	negativeRating = 2
)

// ParseSignal maps a string to a Signal. "" is SignalNone.
func ParseSignal(s string) (Signal, error) {
	switch Signal(strings.ToLower(strings.TrimSpace(s))) {
	case "", SignalNone:
		return SignalNone, nil
	case SignalPositive:
		return SignalPositive, nil
	case SignalNegative:
		return SignalNegative, nil
	default:
		return SignalNone, ragerrors.Validationf("feedback.signal", "unknown signal %q", s)
	}
}

// Entry is one piece of feedback on a query's results. Entries are
// append-only and never modified after Record.
type Entry struct {
	ID      string `json:"id"`
	QueryID string `json:"query_id,omitempty"`
	Query   string `json:"query"`

	// Scores are the normalized scores of the results shown, best first.
	Scores []float64 `json:"scores"`

	// Distances are the raw distances behind Scores, when known.
	Distances []float64 `json:"distances,omitempty"`

	// Rating is 1..5, nil when only an implicit signal is available.
	Rating *int   `json:"rating,omitempty"`
	Signal Signal `json:"signal,omitempty"`

	// Category optionally groups entries (for instance by document kind)
	// so calibration can be tracked per group.
	Category string `json:"category,omitempty"`
	Comment  string `json:"comment,omitempty"`

	// ParamsVersion is the calibration version that produced Scores.
	ParamsVersion int       `json:"params_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// Rate returns a pointer to r, for building entries.
func Rate(r int) *int { return &r }

// Validate checks an entry before it is recorded.
func (e Entry) Validate() error {
	const op = "feedback.validate"
	if strings.TrimSpace(e.Query) == "" {
		return ragerrors.Validationf(op, "query is required")
	}
	if e.Rating != nil && (*e.Rating < 1 || *e.Rating > 5) {
		return ragerrors.Validationf(op, "rating must be 1..5, got %d", *e.Rating)
	}
	if _, err := ParseSignal(string(e.Signal)); err != nil {
		return err
	}
	for i, s := range e.Scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return ragerrors.Validationf(op, "score %d out of [0,1]: %v", i, s)
		}
	}
	if len(e.Distances) > 0 && len(e.Distances) != len(e.Scores) {
		return ragerrors.Validationf(op, "%d distances for %d scores", len(e.Distances), len(e.Scores))
	}
	for i, d := range e.Distances {
		if math.IsNaN(d) || d < 0 || d > 2 {
			return ragerrors.Validationf(op, "distance %d out of [0,2]: %v", i, d)
		}
	}
	return nil
}

// Prepare validates e and fills ID, Timestamp and Signal when unset.
// Stores call it from Record.
func Prepare(e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Signal == "" {
		e.Signal = SignalNone
	}
	e.Scores = append([]float64(nil), e.Scores...)
	e.Distances = append([]float64(nil), e.Distances...)
	return e, nil
}

// EffectiveRating is the explicit rating, or the rating an implicit signal
// stands for. ok is false when the entry carries neither.
func (e Entry) EffectiveRating() (rating int, ok bool) {
	if e.Rating != nil {
		return *e.Rating, true
	}
	switch e.Signal {
	case SignalPositive:
		return positiveRating, true
	case SignalNegative:
		return negativeRating, true
	}
	return 0, false
}

// Expected is the score the user's judgement implies: (rating-1)/4.
func (e Entry) Expected() (float64, bool) {
	r, ok := e.EffectiveRating()
	if !ok {
		return 0, false
	}
	return float64(r-1) / 4, true
}

// TopScore is the best score shown.
func (e Entry) TopScore() (float64, bool) {
	if len(e.Scores) == 0 {
		return 0, false
	}
	top := e.Scores[0]
	for _, s := range e.Scores[1:] {
		top = math.Max(top, s)
	}
	return top, true
}

// TopDistance is the smallest distance shown.
func (e Entry) TopDistance() (float64, bool) {
	if len(e.Distances) == 0 {
		return 0, false
	}
	top := e.Distances[0]
	for _, d := range e.Distances[1:] {
		top = math.Min(top, d)
	}
	return top, true
}
