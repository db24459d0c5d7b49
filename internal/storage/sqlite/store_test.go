package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "issuerag.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestNewStore(t *testing.T) {
	store, path := setupStore(t)
	assert.Equal(t, path, store.Path())
	require.NoError(t, store.Ping(context.Background()))

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestNewStore_EmptyPath(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}

func TestNewStore_ReopenSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuerag.db")
	first, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.FeedbackStore().Record(context.Background(), feedback.Entry{Query: "q", Scores: []float64{0.5}}))
	require.NoError(t, first.Close())

	second, err := NewStore(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	n, err := second.FeedbackStore().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var applied int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestFeedbackStore_RecordAndWindow(t *testing.T) {
	store, _ := setupStore(t)
	fs := store.FeedbackStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, fs.Record(ctx, feedback.Entry{
			QueryID:       "q-" + string(rune('a'+i)),
			Query:         "login fails",
			Scores:        []float64{0.9, 0.4},
			Distances:     []float64{0.9, 1.6},
			Rating:        feedback.Rate(i + 1),
			Category:      "issue",
			ParamsVersion: 3,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := fs.Window(ctx, feedback.Window{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, e := range all {
		require.NotNil(t, e.Rating)
		assert.Equal(t, i+1, *e.Rating)
		assert.Equal(t, base.Add(time.Duration(i)*time.Minute), e.Timestamp)
	}
	first := all[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "q-a", first.QueryID)
	assert.Equal(t, []float64{0.9, 0.4}, first.Scores)
	assert.Equal(t, []float64{0.9, 1.6}, first.Distances)
	assert.Equal(t, feedback.SignalNone, first.Signal)
	assert.Equal(t, "issue", first.Category)
	assert.Equal(t, 3, first.ParamsVersion)

	recent, err := fs.Window(ctx, feedback.Window{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 4, *recent[0].Rating)
	assert.Equal(t, 5, *recent[1].Rating)

	since, err := fs.Window(ctx, feedback.Window{Since: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestFeedbackStore_ImplicitSignal(t *testing.T) {
	store, _ := setupStore(t)
	fs := store.FeedbackStore()
	ctx := context.Background()

	require.NoError(t, fs.Record(ctx, feedback.Entry{
		Query:  "crash on save",
		Scores: []float64{0.7},
		Signal: feedback.SignalNegative,
	}))

	got, err := fs.Window(ctx, feedback.Window{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Rating)
	assert.Equal(t, feedback.SignalNegative, got[0].Signal)
	assert.Empty(t, got[0].Distances)

	r, ok := got[0].EffectiveRating()
	assert.True(t, ok)
	assert.Equal(t, 2, r)
}

func TestFeedbackStore_RejectsInvalid(t *testing.T) {
	store, _ := setupStore(t)
	fs := store.FeedbackStore()

	err := fs.Record(context.Background(), feedback.Entry{Query: "q", Rating: feedback.Rate(9)})
	require.Error(t, err)
	assert.True(t, ragerrors.IsValidation(err))

	n, err := fs.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFeedbackStore_AppendOnly(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.FeedbackStore().Record(ctx, feedback.Entry{ID: "fb-1", Query: "q"}))

	_, err := store.db.ExecContext(ctx, "UPDATE feedback_entries SET query = 'x' WHERE id = 'fb-1'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = store.db.ExecContext(ctx, "DELETE FROM feedback_entries")
	require.Error(t, err)

	err = store.FeedbackStore().Record(ctx, feedback.Entry{ID: "fb-1", Query: "again"})
	assert.Error(t, err, "duplicate IDs are rejected")
}

func TestCalibrationStore_LatestEmpty(t *testing.T) {
	store, _ := setupStore(t)

	p, err := store.CalibrationStore().Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCalibrationStore_SaveAndLatest(t *testing.T) {
	store, _ := setupStore(t)
	cs := store.CalibrationStore()
	ctx := context.Background()

	v1 := relevance.DefaultParams(0.8, 2.0)
	require.NoError(t, cs.Save(ctx, v1))

	v2 := &relevance.Params{
		Version:     2,
		MinDistance: 1.1,
		MaxDistance: 1.7,
		Categories:  map[string]relevance.Range{"pull_request": {Min: 0.9, Max: 1.5}},
		UpdatedAt:   time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
		Reason:      "feedback error 0.31 above 0.20",
	}
	require.NoError(t, cs.Save(ctx, v2))

	latest, err := cs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 1.1, latest.MinDistance)
	assert.Equal(t, 1.7, latest.MaxDistance)
	assert.Equal(t, relevance.Range{Min: 0.9, Max: 1.5}, latest.Categories["pull_request"])
	assert.Equal(t, v2.UpdatedAt, latest.UpdatedAt)
	assert.Equal(t, v2.Reason, latest.Reason)

	assert.Error(t, cs.Save(ctx, v2), "versions are immutable")

	history, err := cs.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 1, history[1].Version)
	assert.Nil(t, history[1].Categories)

	limited, err := cs.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCalibrationStore_BacksCalibrator(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	cal, err := relevance.NewCalibrator(relevance.DefaultConfig(), store.CalibrationStore(), nil)
	require.NoError(t, err)
	_, err = cal.Reset(ctx)
	require.NoError(t, err)

	restored, err := relevance.NewCalibrator(relevance.DefaultConfig(), store.CalibrationStore(), nil)
	require.NoError(t, err)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, 2, restored.Snapshot().Version)
}
