// Package notion is a thin, throttled client for the Notion database that
// mirrors open engine listings.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRequestsPerSecond is Notion's documented average request limit.
const DefaultRequestsPerSecond = 3

// Client is the part of the Notion API the listing mirror needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// Options tunes a Client.
type Options struct {
	// RequestsPerSecond caps the call rate. Zero selects
	// DefaultRequestsPerSecond; a negative value disables throttling.
	RequestsPerSecond float64
}

type apiClient struct {
	api      *notionapi.Client
	throttle *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token.
func NewClient(token string, opts Options) Client {
	rps := opts.RequestsPerSecond
	if rps == 0 {
		rps = DefaultRequestsPerSecond
	}
	c := &apiClient{api: notionapi.NewClient(notionapi.Token(token))}
	if rps > 0 {
		c.throttle = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// call waits for the throttle, then runs fn, tagging errors with op.
func call[T any](ctx context.Context, c *apiClient, op string, fn func() (T, error)) (T, error) {
	var zero T
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "notion: %s: throttle", op)
		}
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrapf(err, "notion: %s", op)
	}
	return v, nil
}

func (c *apiClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *apiClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "create page", func() (*notionapi.Page, error) {
		return c.api.Page.Create(ctx, req)
	})
}

func (c *apiClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}
