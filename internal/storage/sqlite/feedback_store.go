package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
)

// FeedbackStore implements feedback.Store over the feedback_entries table.
// Rows are append-only; the schema rejects UPDATE and DELETE.
type FeedbackStore struct {
	db *sql.DB
}

var _ feedback.Store = (*FeedbackStore)(nil)

// Record validates e, fills its defaults and appends it.
func (s *FeedbackStore) Record(ctx context.Context, e feedback.Entry) error {
	prepared, err := feedback.Prepare(e)
	if err != nil {
		return err
	}

	scores, err := json.Marshal(prepared.Scores)
	if err != nil {
		return fmt.Errorf("marshaling scores: %w", err)
	}
	distances, err := json.Marshal(prepared.Distances)
	if err != nil {
		return fmt.Errorf("marshaling distances: %w", err)
	}

	var rating sql.NullInt64
	if prepared.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*prepared.Rating), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback_entries
			(id, query_id, query, scores, distances, rating, signal, category, comment, params_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		prepared.ID, prepared.QueryID, prepared.Query,
		string(scores), string(distances), rating,
		string(prepared.Signal), prepared.Category, prepared.Comment,
		prepared.ParamsVersion, prepared.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting feedback %s: %w", prepared.ID, err)
	}
	return nil
}

// Window returns the most recent entries selected by w in chronological
// order.
func (s *FeedbackStore) Window(ctx context.Context, w feedback.Window) ([]feedback.Entry, error) {
	var since int64
	if !w.Since.IsZero() {
		since = w.Since.UnixNano()
	}
	limit := -1 // SQLite: negative LIMIT means unbounded
	if w.Limit > 0 {
		limit = w.Limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_id, query, scores, distances, rating, signal, category, comment, params_version, created_at
		FROM feedback_entries
		WHERE created_at >= ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []feedback.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feedback: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Count returns the number of recorded entries.
func (s *FeedbackStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting feedback: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (feedback.Entry, error) {
	var (
		e         feedback.Entry
		scores    string
		distances string
		rating    sql.NullInt64
		signal    string
		created   int64
	)
	if err := rows.Scan(&e.ID, &e.QueryID, &e.Query, &scores, &distances, &rating,
		&signal, &e.Category, &e.Comment, &e.ParamsVersion, &created); err != nil {
		return feedback.Entry{}, fmt.Errorf("scanning feedback: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &e.Scores); err != nil {
		return feedback.Entry{}, fmt.Errorf("decoding scores of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(distances), &e.Distances); err != nil {
		return feedback.Entry{}, fmt.Errorf("decoding distances of %s: %w", e.ID, err)
	}
	if rating.Valid {
		e.Rating = feedback.Rate(int(rating.Int64))
	}
	e.Signal = feedback.Signal(signal)
	e.Timestamp = time.Unix(0, created).UTC()
	return e, nil
}
