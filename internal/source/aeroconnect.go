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

// Aeroconnect scrapes the engines table and follows each listing that is for
// sale and available now to its detail page.
type Aeroconnect struct {
	url string
	log *zap.Logger
}

// NewAeroconnect creates the Aeroconnect source for the given listing page.
func NewAeroconnect(url string) *Aeroconnect {
	return &Aeroconnect{
		url: url,
		log: zap.L().With(zap.String("source", string(model.SourceAeroconnect))),
	}
}

func (a *Aeroconnect) Name() model.Source { return model.SourceAeroconnect }
func (a *Aeroconnect) URL() string        { return a.url }

// Scrape fetches the listing table, then every qualifying detail page.
func (a *Aeroconnect) Scrape(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	body, err := f.Page(ctx, a.url)
	if err != nil {
		return nil, &FetchError{Source: model.SourceAeroconnect, Err: err}
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, &FetchError{Source: model.SourceAeroconnect, Err: err}
	}

	links, err := a.detailLinks(doc)
	if err != nil {
		return nil, &FetchError{Source: model.SourceAeroconnect, Err: err}
	}
	a.log.Info("extracted engine links for sale and available now", zap.Int("count", len(links)))

	var records []model.RawRecord
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Source: model.SourceAeroconnect, Err: err}
		}
		rec, err := a.detail(ctx, f, link)
		if err != nil {
			a.log.Warn("skipping engine detail page", zap.String("url", link), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// detailLinks returns the absolute detail URLs of rows whose fifth column is
// "sale" and sixth is "now".
func (a *Aeroconnect) detailLinks(doc *html.Node) ([]string, error) {
	table := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Table && attr(n, "id") == "engines_table"
	})
	if table == nil {
		return nil, eris.New("aeroconnect: engines table not found")
	}
	tbody := find(table, func(n *html.Node) bool { return n.DataAtom == atom.Tbody })
	if tbody == nil {
		return nil, eris.New("aeroconnect: engines table has no body")
	}

	var links []string
	for _, row := range findAll(tbody, func(n *html.Node) bool { return n.DataAtom == atom.Tr }) {
		cells := findAll(row, func(n *html.Node) bool { return n.DataAtom == atom.Td })
		if len(cells) < 6 {
			continue
		}
		if !strings.EqualFold(text(cells[4]), "sale") || !strings.EqualFold(text(cells[5]), "now") {
			continue
		}
		btn := find(row, is(atom.A, "vw_btn"))
		if btn == nil {
			continue
		}
		if href := attr(btn, "href"); href != "" {
			links = append(links, resolve(a.url, href))
		}
	}
	return links, nil
}

func (a *Aeroconnect) detail(ctx context.Context, f fetcher.Fetcher, link string) (model.RawRecord, error) {
	body, err := f.Page(ctx, link)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	rec := model.RawRecord{}
	for k, v := range labeledSection(doc, "Owner Info", true) {
		rec[k] = v
	}
	for k, v := range labeledSection(doc, "Engine Description", false) {
		if v != "" {
			rec[k] = v
		}
	}
	rec[normalize.AeroURL] = link
	return rec, nil
}

// labeledSection reads the label/value column pair of the page section whose
// heading contains title. Phone values prefer the tel: link target.
func labeledSection(doc *html.Node, title string, phones bool) map[string]string {
	out := map[string]string{}

	heading := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div &&
			hasClass(n, "elementor-widget-container") &&
			find(n, is(atom.Div, "elementor-widget-container")) == nil &&
			strings.Contains(text(n), title)
	})
	if heading == nil {
		return out
	}
	section := ancestor(heading, is(atom.Section, "elementor-section"))
	if section == nil {
		return out
	}
	labelsCol := find(section, is(atom.Div, "line1"))
	valuesCol := find(section, is(atom.Div, "line2"))
	if labelsCol == nil || valuesCol == nil {
		return out
	}

	labels := findAll(labelsCol, is(atom.Div, "elementor-widget-container"))
	values := findAll(valuesCol, is(atom.Div, "elementor-widget-container"))
	for i := 0; i < len(labels) && i < len(values); i++ {
		key := text(labels[i])
		if key == "" {
			continue
		}
		val := text(values[i])
		if phones && (key == "Phone" || key == "Additional Phone") {
			if link := find(values[i], func(n *html.Node) bool { return n.DataAtom == atom.A }); link != nil {
				if href := attr(link, "href"); href != "" {
					val = strings.TrimPrefix(href, "tel:")
				}
			}
		}
		out[key] = val
	}
	return out
}
