package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	speedUp  = 1.2
	slowDown = 0.5
)

// AdaptiveLimiter paces requests to one host. Each 200 raises its rate by a
// fifth, to at most twice the starting rate; each 429 halves it, to no less
// than a quarter of it.
type AdaptiveLimiter struct {
	lim *rate.Limiter

	mu         sync.Mutex
	cur        rate.Limit
	floor, cap rate.Limit
}

// NewAdaptiveLimiter starts a limiter at start events per second.
func NewAdaptiveLimiter(start rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		lim:   rate.NewLimiter(start, burst),
		cur:   start,
		floor: start / 4,
		cap:   start * 2,
	}
}

// Wait blocks until the next request may go out.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.lim.Wait(ctx)
}

// OnSuccess speeds the limiter up.
func (a *AdaptiveLimiter) OnSuccess() {
	a.adjust(speedUp)
}

// OnRateLimit slows the limiter down after host answered 429.
func (a *AdaptiveLimiter) OnRateLimit(host string) {
	r := a.adjust(slowDown)
	zap.L().Warn("fetch: host is rate limiting, slowing down",
		zap.String("component", "fetcher"),
		zap.String("host", host),
		zap.Float64("rate", float64(r)),
	)
}

// Limit is the current rate in events per second.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}

func (a *AdaptiveLimiter) adjust(factor float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur = min(max(a.cur*rate.Limit(factor), a.floor), a.cap)
	a.lim.SetLimit(a.cur)
	return a.cur
}
