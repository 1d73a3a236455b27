package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/engine-watch/internal/fetcher"
	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/normalize"
)

// Locatory scrapes one page of part-number search results.
type Locatory struct {
	url string
	log *zap.Logger
}

// NewLocatory creates the Locatory source for the given search URL.
func NewLocatory(url string) *Locatory {
	return &Locatory{
		url: url,
		log: zap.L().With(zap.String("source", string(model.SourceLocatory))),
	}
}

func (l *Locatory) Name() model.Source { return model.SourceLocatory }
func (l *Locatory) URL() string        { return l.url }

// Scrape reads every result card. Cards without a details link or part
// number are skipped.
func (l *Locatory) Scrape(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	body, err := f.Page(ctx, l.url)
	if err != nil {
		return nil, &FetchError{Source: model.SourceLocatory, Err: err}
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, &FetchError{Source: model.SourceLocatory, Err: err}
	}

	results := find(doc, is(atom.Div, "results", "bg-white"))
	if results == nil {
		return nil, &FetchError{Source: model.SourceLocatory, Err: eris.New("locatory: results container not found")}
	}

	items := findAll(results, is(atom.Div, "grid"))
	l.log.Info("found result items", zap.Int("count", len(items)))

	var records []model.RawRecord
	for _, item := range items {
		rec, ok := l.item(item)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *Locatory) item(item *html.Node) (model.RawRecord, bool) {
	link := find(item, is(atom.A, "pointer-events-none"))
	if link == nil {
		l.log.Debug("result item without details link")
		return nil, false
	}

	pnDiv := find(item, is(atom.Div, "text-grey-1"))
	if pnDiv == nil {
		l.log.Debug("result item without part number")
		return nil, false
	}
	pn := text(pnDiv)
	if i := strings.LastIndex(pn, "#"); i >= 0 {
		pn = pn[i+1:]
	}
	pn = strings.TrimSpace(pn)

	rec := model.RawRecord{
		normalize.LocPartNumber: pn,
		normalize.LocLink:       resolve(l.url, attr(link, "href")),
	}
	if title := find(item, is(atom.Div, "text-body-2-mob")); title != nil {
		rec[normalize.LocTitle] = text(title)
	}

	for _, info := range findAll(item, is(atom.Div, "flex", "xl:flex-col", "flex-row", "gap-1", "justify-between", "space-y-2")) {
		label := find(info, is(atom.Div, "text-grey-1", "text-body-5-mob"))
		value := find(info, is(atom.Div, "text-body-4-mob"))
		if label == nil || value == nil {
			continue
		}
		switch lt := text(label); {
		case strings.Contains(lt, "Location"):
			rec[normalize.LocLocation] = text(value)
		case strings.Contains(lt, "Condition"):
			rec[normalize.LocCondition] = text(value)
		case strings.Contains(lt, "Qty"):
			rec[normalize.LocQuantity] = text(value)
		}
	}
	return rec, true
}
