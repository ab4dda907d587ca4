// Package scheduler drives the ingest, match and dispatch pipeline on a
// fixed interval and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobwatch/internal/ingest"
	"jobwatch/internal/match"
	"jobwatch/internal/model"
	"jobwatch/internal/stats"
)

const defaultInterval = 30 * time.Minute

// Ingester runs one ingestion for a criteria set.
type Ingester interface {
	Ingest(ctx context.Context, criteria model.SearchCriteria, sources []model.Source) (ingest.Result, error)
}

// Dispatcher delivers notifications for matches.
type Dispatcher interface {
	Dispatch(ctx context.Context, matches []model.Match) model.DispatchStats
}

// Store is the part of storage.Storage the scheduler reads and prunes.
type Store interface {
	ListActiveProfiles(ctx context.Context) ([]model.ActiveProfile, error)
	PruneListings(ctx context.Context, before time.Time) (int64, error)
	PruneNotifications(ctx context.Context, before time.Time) (int64, error)
}

// Config holds scheduler settings.
type Config struct {
	Interval time.Duration
	// DefaultCriteria is scraped when no active profile exists.
	DefaultCriteria *model.SearchCriteria
	// Retention windows; zero keeps rows forever.
	ListingRetention      time.Duration
	NotificationRetention time.Duration
}

// Scheduler periodically runs the pipeline and accepts manual runs.
type Scheduler struct {
	ingester   Ingester
	dispatcher Dispatcher
	store      Store
	recorder   stats.Recorder
	state      *State
	cfg        Config
	log        *slog.Logger
	now        func() time.Time

	// jobs is cancelled by Close. wg tracks Run and background runs; mu
	// orders wg.Add against Close.
	jobs       context.Context
	cancelJobs context.CancelFunc
	mu         sync.Mutex
	closed     bool
	wg         sync.WaitGroup
}

// ErrClosed is returned for runs requested after Close.
var ErrClosed = errors.New("scheduler closed")

// New creates a Scheduler. The state is shared with the API and the bot.
func New(ing Ingester, disp Dispatcher, store Store, rec stats.Recorder, state *State, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if state == nil {
		state = NewState(cfg.Interval)
	}
	jobs, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ingester:   ing,
		dispatcher: disp,
		store:      store,
		recorder:   rec,
		state:      state,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		jobs:       jobs,
		cancelJobs: cancel,
	}
}

// State returns the shared scheduler state.
func (s *Scheduler) State() *State {
	return s.state
}

// Run starts the scheduler loop, blocking until ctx is cancelled or Close is
// called. The first tick runs immediately. A tick in progress when ctx ends
// stops fetching but still stores and dispatches what it already has; Close
// waits for it.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.track() {
		return
	}
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.jobs, cancel)
	defer stop()

	stopRetention := s.startRetention(ctx)
	defer stopRetention()

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.state.setNextTick(s.now().Add(s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			s.state.setNextTick(s.now().Add(s.cfg.Interval))
		}
	}
}

// Close stops the loop and background runs, then waits for the tick or runs
// in progress to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancelJobs()
	s.wg.Wait()
}

// track registers a goroutine with wg unless Close has been called.
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.state.begin() {
		s.log.Debug("tick skipped", "phase", s.state.Phase())
		return
	}
	run := s.execute(ctx, uuid.NewString(), model.TriggerScheduled, nil, nil)
	s.state.end(run)
}

// Trigger runs one pipeline cycle synchronously. Empty criteria means the
// criteria of every active profile.
func (s *Scheduler) Trigger(ctx context.Context, criteria []model.SearchCriteria, sources []model.Source) (model.RunStats, error) {
	criteria, err := validate(criteria)
	if err != nil {
		return model.RunStats{}, err
	}
	return s.execute(ctx, uuid.NewString(), model.TriggerManual, criteria, sources), nil
}

// TriggerAsync starts a pipeline cycle in the background and returns its run
// id. Progress is visible through the stats recorder.
func (s *Scheduler) TriggerAsync(ctx context.Context, criteria []model.SearchCriteria, sources []model.Source) (string, error) {
	criteria, err := validate(criteria)
	if err != nil {
		return "", err
	}
	if !s.track() {
		return "", ErrClosed
	}
	id := uuid.NewString()
	s.record(ctx, model.RunStats{
		ID:        id,
		Trigger:   model.TriggerManual,
		Status:    model.RunRunning,
		StartedAt: s.now().UTC(),
	})

	go func() {
		defer s.wg.Done()
		s.execute(s.jobs, id, model.TriggerManual, criteria, sources)
	}()
	return id, nil
}

func validate(criteria []model.SearchCriteria) ([]model.SearchCriteria, error) {
	out := make([]model.SearchCriteria, 0, len(criteria))
	for _, c := range criteria {
		c = c.WithDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid criteria: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// execute runs ingest for every criteria set, matches the new listings
// against all active profiles and dispatches the matches.
func (s *Scheduler) execute(ctx context.Context, id string, trigger model.RunTrigger, criteria []model.SearchCriteria, sources []model.Source) model.RunStats {
	log := s.log.With("run_id", id, "trigger", trigger)
	run := model.RunStats{
		ID:        id,
		Trigger:   trigger,
		Status:    model.RunRunning,
		StartedAt: s.now().UTC(),
		Sources:   make(map[model.Source]model.SourceStats),
	}
	s.record(ctx, run)

	finish := func(status model.RunStatus, err error) model.RunStats {
		run.Status = status
		if err != nil {
			run.Error = err.Error()
		}
		run.FinishedAt = s.now().UTC()
		run.Elapsed = run.FinishedAt.Sub(run.StartedAt)
		s.record(ctx, run)
		log.Info("run finished", "status", run.Status, "criteria", run.Criteria, "new", run.NewCount(),
			"matches", run.Matches, "sent", run.Notifications.Sent, "failed", run.Notifications.Failed,
			"elapsed", run.Elapsed)
		return run
	}

	profiles, err := s.store.ListActiveProfiles(ctx)
	if err != nil {
		log.Error("list active profiles", "error", err)
		return finish(model.RunFailed, fmt.Errorf("list active profiles: %w", err))
	}
	if len(criteria) == 0 {
		criteria = collectCriteria(profiles, s.cfg.DefaultCriteria)
	}
	run.Criteria = len(criteria)
	if len(criteria) == 0 {
		log.Debug("nothing to scrape")
		return finish(model.RunCompleted, nil)
	}

	var fresh []model.Listing
	var runErr error
	for _, c := range criteria {
		res, err := s.ingester.Ingest(ctx, c, sources)
		for src, st := range res.Sources {
			acc := run.Sources[src]
			acc.Add(st)
			run.Sources[src] = acc
		}
		fresh = append(fresh, res.New...)
		if err != nil {
			log.Error("ingest", "keywords", c.Keywords, "error", err)
			runErr = err
			if errors.Is(err, ingest.ErrStoreUnavailable) || ctx.Err() != nil {
				break
			}
		}
	}

	// Listings already inserted are matched and dispatched even when the
	// run is being cancelled, so no new listing goes unnotified.
	matches := match.MatchAll(fresh, profiles)
	run.Matches = len(matches)
	if len(matches) > 0 {
		run.Notifications = s.dispatcher.Dispatch(context.WithoutCancel(ctx), matches)
	}

	switch {
	case errors.Is(runErr, ingest.ErrStoreUnavailable), ctx.Err() != nil:
		return finish(model.RunFailed, runErr)
	case runErr != nil || hasSourceErrors(run.Sources):
		return finish(model.RunPartial, runErr)
	}
	return finish(model.RunCompleted, nil)
}

func (s *Scheduler) record(ctx context.Context, run model.RunStats) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		s.log.Warn("record run", "run_id", run.ID, "error", err)
	}
}

// collectCriteria returns the distinct effective criteria of profiles, or
// fallback when there are none.
func collectCriteria(profiles []model.ActiveProfile, fallback *model.SearchCriteria) []model.SearchCriteria {
	seen := make(map[string]bool)
	var out []model.SearchCriteria
	for _, p := range profiles {
		c := p.Profile.Criteria.WithDefaults()
		key := c.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	if len(out) == 0 && fallback != nil {
		out = append(out, fallback.WithDefaults())
	}
	return out
}

func hasSourceErrors(sources map[model.Source]model.SourceStats) bool {
	for _, st := range sources {
		if st.Error != "" || st.StoreErrors > 0 {
			return true
		}
	}
	return false
}
