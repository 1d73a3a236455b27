package source

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/fetcher"
	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/normalize"
)

var listingsVar = regexp.MustCompile(`(?s)var listings = (\[.*?\]);`)

// MyAirTrade reads the listings array embedded in the availability page.
type MyAirTrade struct {
	url string
	log *zap.Logger
}

// NewMyAirTrade creates the MyAirTrade source for the given availability page.
func NewMyAirTrade(url string) *MyAirTrade {
	return &MyAirTrade{
		url: url,
		log: zap.L().With(zap.String("source", string(model.SourceMyAirTrade))),
	}
}

func (m *MyAirTrade) Name() model.Source { return model.SourceMyAirTrade }
func (m *MyAirTrade) URL() string        { return m.url }

// Scrape extracts the embedded JSON array and flattens each object into a
// raw record. The page URL is recorded as the listing link.
func (m *MyAirTrade) Scrape(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	body, err := f.Page(ctx, m.url)
	if err != nil {
		return nil, &FetchError{Source: model.SourceMyAirTrade, Err: err}
	}

	match := listingsVar.FindSubmatch(body)
	if match == nil {
		return nil, &FetchError{Source: model.SourceMyAirTrade, Err: eris.New("myairtrade: listings data not found in page")}
	}

	var items []map[string]any
	if err := json.Unmarshal(match[1], &items); err != nil {
		return nil, &FetchError{Source: model.SourceMyAirTrade, Err: eris.Wrap(err, "myairtrade: decode listings")}
	}

	records := make([]model.RawRecord, 0, len(items))
	for _, item := range items {
		rec := make(model.RawRecord, len(item)+1)
		for k, v := range item {
			rec[k] = flatten(v)
		}
		if rec[normalize.MATListingURL] == "" {
			rec[normalize.MATListingURL] = m.url
		}
		records = append(records, rec)
	}
	m.log.Info("decoded listings", zap.Int("count", len(records)))
	return records, nil
}

func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
