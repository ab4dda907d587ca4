// Package ingest fetches listings from the enabled sources, normalizes them
// and records them in the store, reporting which ones were seen for the
// first time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"jobwatch/internal/model"
	"jobwatch/internal/normalize"
	"jobwatch/internal/scraper"
	"jobwatch/internal/storage"
)

// ErrStoreUnavailable is returned when every upsert of a run failed.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrSourceNotEnabled is reported for requested sources without a scraper.
var ErrSourceNotEnabled = errors.New("source not enabled")

const defaultWorkers = 3

// Store is the part of storage.Storage the engine writes through.
type Store interface {
	UpsertListing(ctx context.Context, l *model.Listing) (storage.UpsertResult, error)
}

// Result is the outcome of one Ingest call.
type Result struct {
	// New holds listings inserted by this call, in source then record order.
	New     []model.Listing
	Sources map[model.Source]model.SourceStats
}

// Engine runs fetch, normalize and upsert for one criteria set at a time.
type Engine struct {
	registry *scraper.Registry
	norm     *normalize.Normalizer
	store    Store
	workers  int
	log      *slog.Logger
}

// New creates an Engine. At most workers sources are fetched at once.
func New(registry *scraper.Registry, norm *normalize.Normalizer, store Store, workers int, log *slog.Logger) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		registry: registry,
		norm:     norm,
		store:    store,
		workers:  workers,
		log:      log,
	}
}

type fetched struct {
	source  model.Source
	records []model.RawRecord
	err     error
}

// Ingest fetches criteria from sources, or from every enabled source when
// sources is empty. A failing source is recorded in its stats and does not
// stop the others. Cancellation is honoured between listings; an upsert
// that has started always completes so that its outcome is never lost.
func (e *Engine) Ingest(ctx context.Context, criteria model.SearchCriteria, sources []model.Source) (Result, error) {
	res := Result{Sources: make(map[model.Source]model.SourceStats)}

	targets := e.resolve(sources, res.Sources)
	batches := e.fetchAll(ctx, criteria, targets)

	attempted, failed := 0, 0
	var lastErr error
	for _, b := range batches {
		st := res.Sources[b.source]
		if b.err != nil {
			st.Error = b.err.Error()
			res.Sources[b.source] = st
			e.log.Warn("source failed", "source", b.source, "error", b.err)
			continue
		}
		st.Fetched = len(b.records)

		for _, raw := range b.records {
			if ctx.Err() != nil {
				break
			}
			listing, err := e.norm.Normalize(raw, b.source)
			if err != nil {
				st.Dropped++
				e.log.Debug("drop record", "source", b.source, "error", err)
				continue
			}

			attempted++
			outcome, err := e.store.UpsertListing(context.WithoutCancel(ctx), &listing)
			if err != nil {
				failed++
				lastErr = err
				st.StoreErrors++
				e.log.Error("upsert listing", "source", b.source, "external_id", listing.ExternalID, "error", err)
				continue
			}
			if outcome == storage.Inserted {
				st.New++
				res.New = append(res.New, listing)
			} else {
				st.Duplicate++
			}
		}
		res.Sources[b.source] = st
		e.log.Debug("source ingested", "source", b.source, "fetched", st.Fetched, "new", st.New,
			"duplicate", st.Duplicate, "dropped", st.Dropped)
	}

	if attempted > 0 && failed == attempted {
		return res, fmt.Errorf("%w: %w", ErrStoreUnavailable, lastErr)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// resolve picks the scrapers to run. Requested sources that are unknown or
// disabled get an error entry in stats.
func (e *Engine) resolve(sources []model.Source, stats map[model.Source]model.SourceStats) []scraper.Scraper {
	if len(sources) == 0 {
		sources = e.registry.Sources()
	}

	var targets []scraper.Scraper
	seen := make(map[model.Source]bool, len(sources))
	for _, src := range sources {
		if seen[src] {
			continue
		}
		seen[src] = true
		s, ok := e.registry.Get(src)
		if !ok {
			stats[src] = model.SourceStats{Error: ErrSourceNotEnabled.Error()}
			continue
		}
		targets = append(targets, s)
	}
	return targets
}

// fetchAll runs the scrapers with at most e.workers in flight and waits for
// all of them before returning.
func (e *Engine) fetchAll(ctx context.Context, criteria model.SearchCriteria, targets []scraper.Scraper) []fetched {
	out := make([]fetched, len(targets))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, s := range targets {
		g.Go(func() error {
			records, err := s.Fetch(ctx, criteria)
			out[i] = fetched{source: s.Source(), records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
