package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/engine-watch/internal/resilience"
)

// maxPageBytes caps a page body. Larger pages are rejected rather than
// truncated, since a cut-off listing table would read as removed listings.
var maxPageBytes = 16 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent         string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64

	// Retry overrides the backoff schedule; MaxAttempts comes from MaxRetries.
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
}

// HTTPFetcher implements Fetcher using net/http. Every host gets its own
// adaptive limiter and circuit breaker.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	breakers *resilience.HostBreakers
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "engine-watch/1.0"
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
		breakers: resilience.NewHostBreakers(opts.Breaker),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RequestsPerSecond), 1)
		f.limiters[host] = lim
	}
	return lim
}

// HostStates reports the circuit state of every host fetched so far.
func (f *HTTPFetcher) HostStates() map[string]string {
	states := f.breakers.States()
	out := make(map[string]string, len(states))
	for host, st := range states {
		out[host] = st.String()
	}
	return out
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("fetch: invalid url %q", rawURL)
	}

	retry := f.opts.Retry
	retry.MaxAttempts = f.opts.MaxRetries
	retry.OnRetry = resilience.RetryLogger(rawURL)

	lim := f.limiterFor(u.Host)
	cb := f.breakers.Get(u.Host)

	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*http.Response, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*http.Response, error) {
			if err := lim.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "fetch: rate limiter wait")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, eris.Wrap(err, "fetch: create request")
			}
			req.Header.Set("User-Agent", f.opts.UserAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

			resp, err := f.client.Do(req)
			if err != nil {
				return nil, eris.Wrapf(err, "fetch: get %s", rawURL)
			}

			if resp.StatusCode == http.StatusOK {
				lim.OnSuccess()
				return resp, nil
			}

			_ = resp.Body.Close()
			if blocked, kind := DetectBlock(resp, nil); blocked {
				return nil, &BlockedError{URL: rawURL, Type: kind}
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				lim.OnRateLimit(u.Host)
			}
			statusErr := eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		})
	})
}

// Page fetches the URL, rejects challenge pages and decodes the body to UTF-8.
func (f *HTTPFetcher) Page(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: read body of %s", rawURL), 0)
	}
	if len(body) > maxPageBytes {
		return nil, eris.Errorf("fetch: page %s exceeds %d bytes", rawURL, maxPageBytes)
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, &BlockedError{URL: rawURL, Type: kind}
	}

	return DecodeBody(body, resp.Header.Get("Content-Type"))
}
