package relevance

import (
	"fmt"
	"math"
	"time"
)

// MaxCosineDistance is the largest possible cosine distance.
const MaxCosineDistance = 2.0

// Range is a distance interval mapped onto scores 1..0.
type Range struct {
	Min float64 `json:"min_distance"`
	Max float64 `json:"max_distance"`
}

// Validate enforces 0 <= Min < Max <= 2.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min < 0 || r.Max > MaxCosineDistance || r.Min >= r.Max {
		return fmt.Errorf("%w: need 0 <= min < max <= 2, got [%v, %v]", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

// Normalize maps d to [0,1]: 1 at or below Min, 0 at or above Max, linear
// between. NaN maps to 0.
func (r Range) Normalize(d float64) float64 {
	switch {
	case math.IsNaN(d):
		return 0
	case d <= r.Min:
		return 1
	case d >= r.Max:
		return 0
	}
	return clamp01((r.Max - d) / (r.Max - r.Min))
}

// Params is one immutable version of the calibration.
type Params struct {
	Version     int     `json:"version"`
	MinDistance float64 `json:"min_distance"`
	MaxDistance float64 `json:"max_distance"`

	// Categories override the global range for entries of that category.
	Categories map[string]Range `json:"categories,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	Reason    string    `json:"reason,omitempty"`
}

// DefaultParams returns version 1 spanning [min, max].
func DefaultParams(min, max float64) *Params {
	return &Params{
		Version:     1,
		MinDistance: min,
		MaxDistance: max,
		UpdatedAt:   time.Now().UTC(),
		Reason:      "defaults",
	}
}

// Global returns the global range.
func (p *Params) Global() Range {
	return Range{Min: p.MinDistance, Max: p.MaxDistance}
}

// RangeFor returns category's override, or the global range.
func (p *Params) RangeFor(category string) Range {
	if r, ok := p.Categories[category]; ok && category != "" {
		return r
	}
	return p.Global()
}

// Normalize converts a distance to a score in [0,1].
func (p *Params) Normalize(distance float64, category string) float64 {
	return p.RangeFor(category).Normalize(distance)
}

// Validate checks the global range and every override.
func (p *Params) Validate() error {
	if err := p.Global().Validate(); err != nil {
		return err
	}
	for cat, r := range p.Categories {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("category %q: %w", cat, err)
		}
	}
	return nil
}

// next copies p as the following version.
func (p *Params) next(reason string) *Params {
	n := &Params{
		Version:     p.Version + 1,
		MinDistance: p.MinDistance,
		MaxDistance: p.MaxDistance,
		UpdatedAt:   time.Now().UTC(),
		Reason:      reason,
	}
	if len(p.Categories) > 0 {
		n.Categories = make(map[string]Range, len(p.Categories))
		for k, v := range p.Categories {
			n.Categories[k] = v
		}
	}
	return n
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampDistance(v float64) float64 {
	return math.Max(0, math.Min(MaxCosineDistance, v))
}
