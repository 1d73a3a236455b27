package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is an exponential backoff policy with jitter.
type RetryConfig struct {
	MaxAttempts    int           // attempts including the first
	InitialBackoff time.Duration // wait before the second attempt
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64 // each wait varies by up to this share either way

	// ShouldRetry replaces IsTransient as the retry predicate.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait with the 1-based number of the failed attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is the policy for marketplace page fetches.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// DoVal calls fn until it succeeds. It gives up with fn's last error once the
// attempts run out, the error is not retryable, or ctx ends.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = withDefaults(cfg)
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		switch {
		case err == nil:
			return val, nil
		case attempt == cfg.MaxAttempts, ctx.Err() != nil, !retryable(err):
			var zero T
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, backoff(attempt-1, cfg)) {
			var zero T
			return zero, err
		}
	}
}

// Do is DoVal without a result value.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func withDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFraction = max(cfg.JitterFraction, 0)
	return cfg
}

// backoff is the wait after the n-th retry, counting from zero.
func backoff(n int, cfg RetryConfig) time.Duration {
	d := math.Min(float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(n)), float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		d *= 1 + cfg.JitterFraction*(2*rand.Float64()-1)
	}
	return time.Duration(max(d, 0))
}

// RetryLogger logs every retried fetch of url.
func RetryLogger(url string) func(int, error) {
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("url", url))
	return func(attempt int, err error) {
		log.Warn("fetch: transient failure, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
}
