// Package resilience provides the retry, circuit-breaker and error
// classification used when fetching marketplace pages.
package resilience

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is where a host's breaker stands.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // fetches pass
	CircuitOpen                         // fetches fail fast
	CircuitHalfOpen                     // a trial fetch may pass
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrCircuitOpen rejects a fetch to a host whose breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig tunes a host breaker. Zero fields take the defaults.
type CircuitBreakerConfig struct {
	FailureThreshold  int           // consecutive transient failures that open it
	ResetTimeout      time.Duration // how long it stays open before a trial fetch
	HalfOpenSuccesses int           // successful trial fetches needed to close it
}

// DefaultCircuitBreakerConfig suits a marketplace host: a listing page plus
// a few dozen detail pages per run.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      2 * time.Minute,
		HalfOpenSuccesses: 1,
	}
}

// CircuitBreaker fails fetches to one host fast after repeated transient
// failures.
type CircuitBreaker struct {
	host string
	cfg  CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	trials   int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker returns a closed breaker for host.
func NewCircuitBreaker(host string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenSuccesses < 1 {
		cfg.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return &CircuitBreaker{host: host, cfg: cfg, nowFunc: time.Now}
}

// ExecuteVal runs fn unless cb is open. Only transient errors count against
// the host; a missing listing page says nothing about its health.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, eris.Wrapf(err, "host %s", cb.host)
	}
	val, err := fn(ctx)
	if err != nil && IsTransient(err) {
		cb.failure()
	} else {
		cb.success()
	}
	return val, err
}

// State reports the breaker's state, showing an expired open circuit as
// half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.cooledDown() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case cb.state != CircuitOpen:
		return nil
	case cb.cooledDown():
		cb.moveTo(CircuitHalfOpen)
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.trials++
		if cb.trials < cb.cfg.HalfOpenSuccesses {
			return
		}
		cb.moveTo(CircuitClosed)
	}
	if cb.state == CircuitClosed {
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == CircuitHalfOpen || (cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold) {
		cb.openedAt = cb.nowFunc()
		cb.moveTo(CircuitOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(next CircuitState) {
	zap.L().Info("fetch: circuit breaker state change",
		zap.String("component", "resilience"),
		zap.String("host", cb.host),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", next),
	)
	cb.state = next
	cb.trials = 0
}

// HostBreakers lazily keeps one breaker per host.
type HostBreakers struct {
	cfg CircuitBreakerConfig

	mu     sync.Mutex
	byHost map[string]*CircuitBreaker
}

// NewHostBreakers returns an empty set that builds breakers from cfg.
func NewHostBreakers(cfg CircuitBreakerConfig) *HostBreakers {
	return &HostBreakers{cfg: cfg, byHost: make(map[string]*CircuitBreaker)}
}

// Get returns host's breaker.
func (hb *HostBreakers) Get(host string) *CircuitBreaker {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if cb, ok := hb.byHost[host]; ok {
		return cb
	}
	cb := NewCircuitBreaker(host, hb.cfg)
	hb.byHost[host] = cb
	return cb
}

// States snapshots the state of every host seen so far.
func (hb *HostBreakers) States() map[string]CircuitState {
	hb.mu.Lock()
	known := maps.Clone(hb.byHost)
	hb.mu.Unlock()

	out := make(map[string]CircuitState, len(known))
	for host, cb := range known {
		out[host] = cb.State()
	}
	return out
}
