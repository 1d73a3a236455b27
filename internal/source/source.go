// Package source scrapes raw listing records from the supported marketplaces.
package source

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/engine-watch/internal/config"
	"github.com/sells-group/engine-watch/internal/fetcher"
	"github.com/sells-group/engine-watch/internal/model"
)

// Source scrapes one marketplace.
type Source interface {
	// Name returns the marketplace this source scrapes.
	Name() model.Source

	// URL returns the entry page.
	URL() string

	// Scrape returns the raw records currently listed. A failure to reach or
	// understand the entry page is an error; a failure on one detail page is
	// logged and that record skipped.
	Scrape(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error)
}

// FetchError reports that a source could not be scraped this run.
type FetchError struct {
	Source model.Source
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Registry maps marketplaces to their implementations.
type Registry struct {
	sources map[model.Source]Source
	order   []model.Source // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[model.Source]Source),
	}
}

// Register adds a source, replacing any earlier one with the same name.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name model.Source) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// All returns every registered source in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Names returns the registered source names in registration order.
func (r *Registry) Names() []model.Source {
	return append([]model.Source(nil), r.order...)
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.order)
}

// NewDefaultRegistry registers the sources enabled in cfg, in reporting
// order.
func NewDefaultRegistry(cfg config.SourcesConfig) (*Registry, error) {
	enabled := make(map[model.Source]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		src, err := model.ParseSource(name)
		if err != nil {
			return nil, eris.Wrap(err, "source: enabled")
		}
		enabled[src] = true
	}

	r := NewRegistry()
	if enabled[model.SourceAeroconnect] {
		r.Register(NewAeroconnect(cfg.AeroconnectURL))
	}
	if enabled[model.SourceLocatory] {
		r.Register(NewLocatory(cfg.LocatoryURL))
	}
	if enabled[model.SourceMyAirTrade] {
		r.Register(NewMyAirTrade(cfg.MyAirTradeURL))
	}
	return r, nil
}
