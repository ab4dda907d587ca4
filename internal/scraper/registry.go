package scraper

import (
	"fmt"
	"slices"

	"jobwatch/internal/model"
)

// SourceConfig enables one source and optionally overrides its endpoint.
type SourceConfig struct {
	Source  model.Source
	Enabled bool
	BaseURL string
}

var constructors = map[model.Source]func(base string, client HTTPClient, opts Options) *HTTPScraper{
	model.SourceLinkedIn:       NewLinkedIn,
	model.SourceIndeed:         NewIndeed,
	model.SourceWeWorkRemotely: NewWeWorkRemotely,
}

// KnownSources returns every source a scraper exists for.
func KnownSources() []model.Source {
	out := make([]model.Source, 0, len(constructors))
	for s := range constructors {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Registry maps sources to their enabled scrapers. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	scrapers map[model.Source]Scraper
	order    []model.Source
}

// NewRegistry instantiates a scraper for every enabled source. Disabled
// sources are never constructed.
func NewRegistry(sources []SourceConfig, client HTTPClient, opts Options) (*Registry, error) {
	var scrapers []Scraper
	for _, sc := range sources {
		build, ok := constructors[sc.Source]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", sc.Source)
		}
		if !sc.Enabled {
			continue
		}
		scrapers = append(scrapers, build(sc.BaseURL, client, opts))
	}
	return NewRegistryFrom(scrapers...), nil
}

// NewRegistryFrom creates a Registry from ready-made scrapers.
func NewRegistryFrom(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[model.Source]Scraper, len(scrapers))}
	for _, s := range scrapers {
		if _, dup := r.scrapers[s.Source()]; dup {
			continue
		}
		r.scrapers[s.Source()] = s
		r.order = append(r.order, s.Source())
	}
	return r
}

// Get returns the scraper for source, if it is enabled.
func (r *Registry) Get(source model.Source) (Scraper, bool) {
	s, ok := r.scrapers[source]
	return s, ok
}

// Sources lists enabled sources in configuration order.
func (r *Registry) Sources() []model.Source {
	return slices.Clone(r.order)
}
