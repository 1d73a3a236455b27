package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// MaxPageSize is the largest page of results Notion returns per query.
const MaxPageSize = 100

// EachPage runs a database query and calls fn for every result, following
// cursors until the last batch. A non-nil error from fn stops the walk.
func EachPage(ctx context.Context, c Client, dbID string, filter notionapi.Filter, fn func(notionapi.Page) error) error {
	req := &notionapi.DatabaseQueryRequest{Filter: filter, PageSize: MaxPageSize}
	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "notion: query %s", dbID)
		}
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return eris.Wrapf(err, "notion: query %s batch %d", dbID, batch)
		}
		for _, p := range resp.Results {
			if err := fn(p); err != nil {
				return err
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return nil
		}
		req.StartCursor = resp.NextCursor
	}
}

// QueryByStatus returns every page whose Status property equals status.
func QueryByStatus(ctx context.Context, c Client, dbID, status string) ([]notionapi.Page, error) {
	filter := notionapi.PropertyFilter{
		Property: StatusProperty,
		Status:   &notionapi.StatusFilterCondition{Equals: status},
	}
	var pages []notionapi.Page
	err := EachPage(ctx, c, dbID, filter, func(p notionapi.Page) error {
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query status %s", status)
	}
	return pages, nil
}
