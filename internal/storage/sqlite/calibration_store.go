package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/relevance"
)

// CalibrationStore implements relevance.ParamStore. Every version is kept
// as its own row.
type CalibrationStore struct {
	db *sql.DB
}

var _ relevance.ParamStore = (*CalibrationStore)(nil)

const paramsColumns = "version, min_distance, max_distance, categories, reason, updated_at"

// Latest returns the highest version, or nil when none has been saved.
func (s *CalibrationStore) Latest(ctx context.Context) (*relevance.Params, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+paramsColumns+" FROM calibration_params ORDER BY version DESC LIMIT 1")
	p, err := scanParams(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Save inserts p. Saving an existing version fails.
func (s *CalibrationStore) Save(ctx context.Context, p *relevance.Params) error {
	if p == nil {
		return errors.New("nil params")
	}
	cats := p.Categories
	if cats == nil {
		cats = map[string]relevance.Range{}
	}
	encoded, err := json.Marshal(cats)
	if err != nil {
		return fmt.Errorf("marshaling categories: %w", err)
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO calibration_params ("+paramsColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		p.Version, p.MinDistance, p.MaxDistance, string(encoded), p.Reason, updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving calibration v%d: %w", p.Version, err)
	}
	return nil
}

// History returns up to limit versions, newest first. limit <= 0 returns
// all of them.
func (s *CalibrationStore) History(ctx context.Context, limit int) ([]*relevance.Params, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+paramsColumns+" FROM calibration_params ORDER BY version DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying calibration history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*relevance.Params
	for rows.Next() {
		p, err := scanParams(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParams(row scanner) (*relevance.Params, error) {
	var (
		p       relevance.Params
		cats    string
		updated int64
	)
	if err := row.Scan(&p.Version, &p.MinDistance, &p.MaxDistance, &cats, &p.Reason, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning calibration: %w", err)
	}
	if err := json.Unmarshal([]byte(cats), &p.Categories); err != nil {
		return nil, fmt.Errorf("decoding categories of v%d: %w", p.Version, err)
	}
	if len(p.Categories) == 0 {
		p.Categories = nil
	}
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return &p, nil
}
