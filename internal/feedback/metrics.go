package feedback

import (
	"math"
	"sort"
)

// MetricsConfig parameterizes ComputeMetrics.
type MetricsConfig struct {
	// K is the cutoff for precision@K.
	K int

	// RelevantRating is the lowest rating counted as relevant.
	RelevantRating int

	// ErrorThreshold marks a category weak when its mean calibration error
	// exceeds it.
	ErrorThreshold float64
}

// DefaultMetricsConfig returns K=5, relevant from rating 4, threshold 0.2.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{K: 5, RelevantRating: 4, ErrorThreshold: 0.2}
}

// Metrics summarizes a feedback window.
type Metrics struct {
	// Samples counts every entry in the window.
	Samples int `json:"samples"`

	// Rated counts entries with a rating or implicit signal.
	Rated int `json:"rated"`

	PrecisionAtK float64 `json:"precision_at_k"`

	// MeanRating averages explicit ratings only; 0 when there are none.
	MeanRating float64 `json:"mean_rating"`

	// CalibrationError is the mean |expected - top score| over rated
	// entries that have scores. With a Scorer, top distances are re-scored
	// so the figure describes the calibration in force now.
	CalibrationError float64 `json:"calibration_error"`

	// RecordedCalibrationError uses the scores stored with each entry,
	// i.e. what users saw at query time.
	RecordedCalibrationError float64 `json:"recorded_calibration_error"`

	CategoryErrors map[string]float64 `json:"category_errors,omitempty"`
	WeakCategories []string           `json:"weak_categories,omitempty"`
}

// Scorer maps a raw distance to a relevance score for a category.
type Scorer func(distance float64, category string) float64

// observed returns the top score of e, re-scored from its top distance
// when score is set and a distance was recorded.
func observed(e Entry, score Scorer) (float64, bool) {
	if score != nil {
		if d, ok := e.TopDistance(); ok {
			return score(d, e.Category), true
		}
	}
	return e.TopScore()
}

// CalibrationError returns the mean |expected - top score| over entries
// that carry both a judgement and a score, and the number of entries used.
// A nil score uses the stored scores.
func CalibrationError(entries []Entry, score Scorer) (float64, int) {
	var sum float64
	var n int
	for _, e := range entries {
		want, ok := e.Expected()
		if !ok {
			continue
		}
		got, ok := observed(e, score)
		if !ok {
			continue
		}
		sum += math.Abs(want - got)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// ComputeMetrics summarizes entries.
//
// Precision@K treats every shown result of a rated entry (up to K) as
// relevant when the entry's effective rating reaches RelevantRating, since
// feedback is given per query rather than per result. Calibration errors
// are computed with score; see Metrics.CalibrationError.
func ComputeMetrics(entries []Entry, cfg MetricsConfig, score Scorer) Metrics {
	if cfg.K <= 0 {
		cfg.K = DefaultMetricsConfig().K
	}
	if cfg.RelevantRating <= 0 {
		cfg.RelevantRating = DefaultMetricsConfig().RelevantRating
	}

	m := Metrics{Samples: len(entries)}

	var relevant, shown int
	var ratingSum, ratingN int
	byCategory := make(map[string][]Entry)
	for _, e := range entries {
		r, ok := e.EffectiveRating()
		if !ok {
			continue
		}
		m.Rated++
		if e.Rating != nil {
			ratingSum += *e.Rating
			ratingN++
		}

		n := min(cfg.K, len(e.Scores))
		shown += n
		if r >= cfg.RelevantRating {
			relevant += n
		}
		if e.Category != "" {
			byCategory[e.Category] = append(byCategory[e.Category], e)
		}
	}

	if shown > 0 {
		m.PrecisionAtK = float64(relevant) / float64(shown)
	}
	if ratingN > 0 {
		m.MeanRating = float64(ratingSum) / float64(ratingN)
	}
	m.CalibrationError, _ = CalibrationError(entries, score)
	m.RecordedCalibrationError, _ = CalibrationError(entries, nil)

	if len(byCategory) > 0 {
		m.CategoryErrors = make(map[string]float64, len(byCategory))
		for cat, es := range byCategory {
			ce, n := CalibrationError(es, score)
			if n == 0 {
				continue
			}
			m.CategoryErrors[cat] = ce
			if ce > cfg.ErrorThreshold {
				m.WeakCategories = append(m.WeakCategories, cat)
			}
		}
		sort.Strings(m.WeakCategories)
	}
	return m
}
