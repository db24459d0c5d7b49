package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retries of GitHub API calls.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns 3 retries from 1s, doubling up to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// errRetriesExhausted marks a retryable failure that never recovered.
var errRetriesExhausted = errors.New("retries exhausted")

// retryGitHub runs op until it succeeds, fails permanently or the retry
// budget runs out. Rate limit responses wait for the advertised reset,
// capped at MaxBackoff.
func retryGitHub(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op func() (*github.Response, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0

	start := time.Now()
	attempt := 0
	var lastErr error
	var lastResp *github.Response
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		resp, err := op()
		lastErr, lastResp = err, resp
		switch {
		case err == nil:
			return struct{}{}, nil
		case !isRetryable(err, resp):
			return struct{}{}, backoff.Permanent(err)
		case isRateLimited(err, resp):
			return struct{}{}, &backoff.RetryAfterError{Duration: rateLimitBackoff(resp, cfg.MaxBackoff)}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(cfg.MaxRetries, 0))+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			logger.Info("retrying github call",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Int("status_code", statusCode(lastResp)),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
		}),
	)

	var permanent *backoff.PermanentError
	switch {
	case err == nil:
		if attempt > 1 {
			logger.Info("github call recovered after retries",
				zap.Int("attempts", attempt),
				zap.Duration("total_time", time.Since(start)))
		}
		return nil
	case errors.As(err, &permanent):
		return permanent.Err
	case ctx.Err() != nil:
		return ctx.Err()
	}

	logger.Warn("github call failed after all retries",
		zap.Int("total_attempts", attempt),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr))
	return fmt.Errorf("%w after %d attempts: %w", errRetriesExhausted, attempt, lastErr)
}

// isRetryable reports 429, 5xx and rate-limited 403 responses, and
// network errors with no response at all.
func isRetryable(err error, resp *github.Response) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isRateLimited(err, resp) {
		return true
	}
	code := statusCode(resp)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code < 600:
		return true
	}
	return false
}

func isRateLimited(err error, resp *github.Response) bool {
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return true
	}
	return resp != nil && resp.Response != nil &&
		resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
}

func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return maxBackoff
	}
	wait := time.Until(resp.Rate.Reset.Time)
	if wait <= 0 {
		return time.Second
	}
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
