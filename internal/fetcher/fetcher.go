// Package fetcher downloads marketplace pages with per-host rate limiting,
// retries and circuit breaking.
package fetcher

import "context"

// Fetcher defines the interface sources use to reach the network.
type Fetcher interface {
	// Page fetches an HTML page and returns its body decoded to UTF-8.
	// Anti-bot challenge pages are reported as *BlockedError.
	Page(ctx context.Context, url string) ([]byte, error)
}
