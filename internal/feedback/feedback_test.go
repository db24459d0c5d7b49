package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"empty query", Entry{Query: "  ", Rating: Rate(3)}},
		{"rating too low", Entry{Query: "q", Rating: Rate(0)}},
		{"rating too high", Entry{Query: "q", Rating: Rate(6)}},
		{"score above one", Entry{Query: "q", Scores: []float64{1.2}}},
		{"negative score", Entry{Query: "q", Scores: []float64{-0.1}}},
		{"distance count", Entry{Query: "q", Scores: []float64{0.5, 0.4}, Distances: []float64{1.0}}},
		{"distance range", Entry{Query: "q", Scores: []float64{0.5}, Distances: []float64{2.5}}},
		{"unknown signal", Entry{Query: "q", Signal: "meh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			assert.True(t, ragerrors.IsValidation(err), "got %v", err)
		})
	}

	assert.NoError(t, Entry{Query: "q", Rating: Rate(5), Scores: []float64{1, 0.5}, Distances: []float64{0.8, 1.4}}.Validate())
}

func TestParseSignal(t *testing.T) {
	s, err := ParseSignal("")
	require.NoError(t, err)
	assert.Equal(t, SignalNone, s)

	s, err = ParseSignal(" Positive ")
	require.NoError(t, err)
	assert.Equal(t, SignalPositive, s)

	_, err = ParseSignal("thumbs")
	assert.Error(t, err)
}

func TestEntry_Derived(t *testing.T) {
	e := Entry{Query: "q", Scores: []float64{0.4, 0.9}, Distances: []float64{1.2, 0.9}}
	_, ok := e.EffectiveRating()
	assert.False(t, ok)

	e.Signal = SignalPositive
	r, ok := e.EffectiveRating()
	require.True(t, ok)
	assert.Equal(t, 4, r)

	e.Rating = Rate(1)
	want, ok := e.Expected()
	require.True(t, ok)
	assert.Equal(t, 0.0, want)

	top, _ := e.TopScore()
	assert.Equal(t, 0.9, top)
	d, _ := e.TopDistance()
	assert.Equal(t, 0.9, d)

	e.Signal = SignalNegative
	e.Rating = nil
	want, _ = e.Expected()
	assert.Equal(t, 0.25, want)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Record(ctx, Entry{Query: ""})
	assert.True(t, ragerrors.IsValidation(err))
	assert.Zero(t, s.Len())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{
			Query:     "q",
			Rating:    Rate(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.Window(ctx, Window{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, SignalNone, all[0].Signal)

	last2, err := s.Window(ctx, Window{Limit: 2})
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, 4, *last2[0].Rating)
	assert.Equal(t, 5, *last2[1].Rating)

	since, err := s.Window(ctx, Window{Since: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestMemoryStore_EntriesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	scores := []float64{0.5}
	require.NoError(t, s.Record(ctx, Entry{Query: "q", Scores: scores, Rating: Rate(3)}))
	scores[0] = 0.9

	got, _ := s.Window(ctx, Window{})
	assert.Equal(t, 0.5, got[0].Scores[0])
}

func TestComputeMetrics(t *testing.T) {
	entries := []Entry{
		{Query: "a", Rating: Rate(5), Scores: []float64{1.0, 0.8, 0.6}, Category: "issue"},
		{Query: "b", Rating: Rate(1), Scores: []float64{0.9, 0.2}, Category: "issue"},
		{Query: "c", Signal: SignalPositive, Scores: []float64{0.75}, Category: "comment"},
		{Query: "d", Scores: []float64{0.5}},
	}
	m := ComputeMetrics(entries, MetricsConfig{K: 2, RelevantRating: 4, ErrorThreshold: 0.2}, nil)

	assert.Equal(t, 4, m.Samples)
	assert.Equal(t, 3, m.Rated)
	// shown: 2 + 2 + 1 = 5, relevant: 2 + 0 + 1 = 3
	assert.InDelta(t, 0.6, m.PrecisionAtK, 1e-9)
	assert.InDelta(t, 3.0, m.MeanRating, 1e-9)
	// errors: |1-1| = 0, |0-0.9| = 0.9, |0.75-0.75| = 0
	assert.InDelta(t, 0.3, m.CalibrationError, 1e-9)
	assert.InDelta(t, 0.3, m.RecordedCalibrationError, 1e-9)
	assert.InDelta(t, 0.45, m.CategoryErrors["issue"], 1e-9)
	assert.InDelta(t, 0.0, m.CategoryErrors["comment"], 1e-9)
	assert.Equal(t, []string{"issue"}, m.WeakCategories)
}

func TestComputeMetrics_Empty(t *testing.T) {
	m := ComputeMetrics(nil, DefaultMetricsConfig(), nil)
	assert.Zero(t, m.Samples)
	assert.Zero(t, m.PrecisionAtK)
	assert.Nil(t, m.WeakCategories)
}

func TestComputeMetrics_RescoresDistances(t *testing.T) {
	entries := []Entry{
		{Query: "a", Rating: Rate(5), Scores: []float64{0.5}, Distances: []float64{1.0}, Category: "issue"},
		{Query: "b", Rating: Rate(1), Scores: []float64{0.5}, Distances: []float64{2.0}, Category: "issue"},
		// no distances: falls back to the stored score
		{Query: "c", Rating: Rate(5), Scores: []float64{0.75}, Category: "comment"},
	}
	score := func(d float64, _ string) float64 {
		if d <= 1.0 {
			return 1
		}
		return 0
	}

	m := ComputeMetrics(entries, DefaultMetricsConfig(), score)

	// stored: |1-0.5| + |0-0.5| + |1-0.75| = 1.25
	assert.InDelta(t, 1.25/3, m.RecordedCalibrationError, 1e-9)
	// re-scored: 0 + 0 + 0.25
	assert.InDelta(t, 0.25/3, m.CalibrationError, 1e-9)
	assert.InDelta(t, 0.0, m.CategoryErrors["issue"], 1e-9)
	assert.Equal(t, []string{"comment"}, m.WeakCategories)

	ce, n := CalibrationError(entries, nil)
	assert.Equal(t, 3, n)
	assert.InDelta(t, 1.25/3, ce, 1e-9)
}
