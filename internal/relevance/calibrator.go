package relevance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRange indicates min/max that violate 0 <= min < max <= 2.
	ErrInvalidRange = errors.New("invalid distance range")

	// ErrDegenerateRange is returned when feedback would produce min >= max.
	// The current parameters stay in effect.
	ErrDegenerateRange = errors.New("recalibration produced a degenerate range")
)

// ParamStore persists calibration versions.
type ParamStore interface {
	// Latest returns the newest saved version, or nil when none exists.
	Latest(ctx context.Context) (*Params, error)

	// Save appends p as a new version.
	Save(ctx context.Context, p *Params) error
}

// Config holds calibration defaults and thresholds.
type Config struct {
	MinDistance    float64
	MaxDistance    float64
	ErrorThreshold float64
	MinSamples     int
	RelevantRating int
}

// DefaultConfig returns the stock calibration: [0.8, 2.0], threshold 0.2,
// five samples, relevant from rating 4.
func DefaultConfig() Config {
	return Config{
		MinDistance:    0.8,
		MaxDistance:    2.0,
		ErrorThreshold: 0.2,
		MinSamples:     5,
		RelevantRating: 4,
	}
}

// Validate checks the defaults and thresholds.
func (c Config) Validate() error {
	if err := (Range{Min: c.MinDistance, Max: c.MaxDistance}).Validate(); err != nil {
		return err
	}
	if c.ErrorThreshold <= 0 || c.ErrorThreshold >= 1 {
		return fmt.Errorf("error threshold must be in (0,1), got %v", c.ErrorThreshold)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("min samples must be >= 1, got %d", c.MinSamples)
	}
	if c.RelevantRating < 1 || c.RelevantRating > 5 {
		return fmt.Errorf("relevant rating must be 1..5, got %d", c.RelevantRating)
	}
	return nil
}

// Outcome reports what a recalibration did.
type Outcome struct {
	Changed  bool    `json:"changed"`
	Reason   string  `json:"reason"`
	Samples  int     `json:"samples"`
	Error    float64 `json:"calibration_error"`
	Previous *Params `json:"previous"`
	Current  *Params `json:"current"`

	// Categories lists the overrides derived in this run.
	Categories []string `json:"categories,omitempty"`
}

// Calibrator owns the live calibration parameters.
//
// Readers take a Snapshot and use it for a whole query; writers serialize
// on mu and publish a new immutable Params atomically.
type Calibrator struct {
	cfg     Config
	store   ParamStore
	logger  *zap.Logger
	mu      sync.Mutex
	current atomic.Pointer[Params]
}

// NewCalibrator starts at the configured defaults. store may be nil.
func NewCalibrator(cfg Config, store ParamStore, logger *zap.Logger) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Calibrator{cfg: cfg, store: store, logger: logger}
	c.current.Store(DefaultParams(cfg.MinDistance, cfg.MaxDistance))
	return c, nil
}

// Snapshot returns the current parameters. The result must not be modified.
func (c *Calibrator) Snapshot() *Params {
	return c.current.Load()
}

// Normalize scores distance with the current snapshot.
func (c *Calibrator) Normalize(distance float64, category string) float64 {
	return c.Snapshot().Normalize(distance, category)
}

// Load restores the latest persisted version, keeping defaults when none
// has been saved.
func (c *Calibrator) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.store.Latest(ctx)
	if err != nil {
		return ragerrors.Storage("relevance.load", err)
	}
	if p == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("stored calibration v%d: %w", p.Version, err)
	}
	c.current.Store(p)
	c.logger.Info("calibration loaded",
		zap.Int("version", p.Version),
		zap.Float64("min_distance", p.MinDistance),
		zap.Float64("max_distance", p.MaxDistance),
		zap.Int("category_overrides", len(p.Categories)),
	)
	return nil
}

// Reset publishes the configured defaults as a new version.
func (c *Calibrator) Reset(ctx context.Context) (*Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	p := DefaultParams(c.cfg.MinDistance, c.cfg.MaxDistance)
	p.Version = prev.Version + 1
	p.Reason = "reset to defaults"
	if err := c.publish(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// publish persists then swaps. Callers hold mu.
func (c *Calibrator) publish(ctx context.Context, p *Params) error {
	if c.store != nil {
		if err := c.store.Save(ctx, p); err != nil {
			return ragerrors.Storage("relevance.save", err)
		}
	}
	c.current.Store(p)
	return nil
}

// sample is one usable feedback entry reduced to what calibration needs.
type sample struct {
	category    string
	rating      int
	expected    float64
	observed    float64
	topDistance float64
}

// samples keeps entries with a judgement and at least one distance. The
// observed score is the top distance re-scored with p.
func samples(window []feedback.Entry, p *Params) []sample {
	out := make([]sample, 0, len(window))
	for _, e := range window {
		r, ok := e.EffectiveRating()
		if !ok {
			continue
		}
		d, ok := e.TopDistance()
		if !ok {
			continue
		}
		want, _ := e.Expected()
		// Stored scores reflect the params in force at query time; compare
		// against what the current params would report for the same hit.
		got := p.Normalize(d, e.Category)
		out = append(out, sample{category: e.Category, rating: r, expected: want, observed: got, topDistance: d})
	}
	return out
}

func meanError(ss []sample) float64 {
	if len(ss) == 0 {
		return 0
	}
	var sum float64
	for _, s := range ss {
		sum += math.Abs(s.expected - s.observed)
	}
	return sum / float64(len(ss))
}

// deriveRange moves min to the median top distance of relevant samples and
// max to the median of irrelevant ones (rating <= 1, else <= 2). A side
// with no samples keeps its value from base.
func (c *Calibrator) deriveRange(ss []sample, base Range) Range {
	var good, bad, poor []float64
	for _, s := range ss {
		switch {
		case s.rating >= c.cfg.RelevantRating:
			good = append(good, s.topDistance)
		case s.rating <= 1:
			bad = append(bad, s.topDistance)
		}
		if s.rating <= 2 {
			poor = append(poor, s.topDistance)
		}
	}
	if len(bad) == 0 {
		bad = poor
	}

	r := base
	if len(good) > 0 {
		r.Min = clampDistance(Median(good))
	}
	if len(bad) > 0 {
		r.Max = clampDistance(Median(bad))
	}
	return r
}

// Recalibrate fits the distance range to the feedback window. It changes
// nothing when there are fewer than MinSamples usable entries or the
// calibration error is within the threshold. A fit that would leave
// min >= max is rejected with ErrDegenerateRange. Categories with enough
// samples and their own error above the threshold get an override range.
func (c *Calibrator) Recalibrate(ctx context.Context, window []feedback.Entry) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	ss := samples(window, prev)
	out := &Outcome{Samples: len(ss), Previous: prev, Current: prev}

	if len(ss) < c.cfg.MinSamples {
		out.Reason = fmt.Sprintf("insufficient samples: %d < %d", len(ss), c.cfg.MinSamples)
		return out, nil
	}
	out.Error = meanError(ss)

	if out.Error <= c.cfg.ErrorThreshold {
		out.Reason = fmt.Sprintf("calibration error %.3f within threshold %.3f", out.Error, c.cfg.ErrorThreshold)
		return out, nil
	}

	next := prev.next(fmt.Sprintf("recalibrated from %d samples, error %.3f", len(ss), out.Error))
	g := c.deriveRange(ss, prev.Global())
	if g.Min >= g.Max {
		return nil, fmt.Errorf("%w: min %.3f >= max %.3f", ErrDegenerateRange, g.Min, g.Max)
	}
	next.MinDistance, next.MaxDistance = g.Min, g.Max

	byCategory := make(map[string][]sample)
	for _, s := range ss {
		if s.category != "" {
			byCategory[s.category] = append(byCategory[s.category], s)
		}
	}
	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		cs := byCategory[cat]
		if len(cs) < c.cfg.MinSamples || meanError(cs) <= c.cfg.ErrorThreshold {
			continue
		}
		r := c.deriveRange(cs, next.RangeFor(cat))
		if r.Min >= r.Max {
			c.logger.Warn("skipping degenerate category range",
				zap.String("category", cat),
				zap.Float64("min_distance", r.Min),
				zap.Float64("max_distance", r.Max),
			)
			continue
		}
		if next.Categories == nil {
			next.Categories = make(map[string]Range)
		}
		next.Categories[cat] = r
		out.Categories = append(out.Categories, cat)
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := c.publish(ctx, next); err != nil {
		return nil, err
	}

	out.Changed = true
	out.Current = next
	out.Reason = next.Reason
	c.logger.Info("calibration updated",
		zap.Int("version", next.Version),
		zap.Float64("min_distance", next.MinDistance),
		zap.Float64("max_distance", next.MaxDistance),
		zap.Float64("calibration_error", out.Error),
		zap.Strings("categories", out.Categories),
	)
	return out, nil
}

// Median is the linear-interpolated 0.5 quantile of values. values is not
// modified. Returns NaN for no values.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// Quantile returns the q-quantile with linear interpolation between the
// closest ranks.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	h := q * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
