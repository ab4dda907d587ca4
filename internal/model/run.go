package model

import "time"

// RunTrigger says what started a pipeline run.
type RunTrigger string

// Run triggers.
const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
)

// RunStatus is the outcome of a pipeline run.
type RunStatus string

// Run statuses. A partial run had at least one source or store failure but
// still processed the rest.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// SourceStats counts what one source produced during a run.
type SourceStats struct {
	Fetched     int    `json:"fetched"`
	New         int    `json:"new"`
	Duplicate   int    `json:"duplicate"`
	Dropped     int    `json:"dropped"`
	StoreErrors int    `json:"store_errors"`
	Error       string `json:"error,omitempty"`
}

// Add accumulates other into s, keeping the first error seen.
func (s *SourceStats) Add(other SourceStats) {
	s.Fetched += other.Fetched
	s.New += other.New
	s.Duplicate += other.Duplicate
	s.Dropped += other.Dropped
	s.StoreErrors += other.StoreErrors
	if s.Error == "" {
		s.Error = other.Error
	}
}

// DispatchStats counts notification outcomes.
type DispatchStats struct {
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
	AlreadyExists int `json:"already_exists"`
	StoreErrors   int `json:"store_errors"`
}

// Add accumulates other into s.
func (s *DispatchStats) Add(other DispatchStats) {
	s.Sent += other.Sent
	s.Failed += other.Failed
	s.AlreadyExists += other.AlreadyExists
	s.StoreErrors += other.StoreErrors
}

// RunStats describes one execution of the ingest, match and dispatch pipeline.
type RunStats struct {
	ID            string                 `json:"id"`
	Trigger       RunTrigger             `json:"trigger"`
	Status        RunStatus              `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at,omitzero"`
	Elapsed       time.Duration          `json:"elapsed"`
	Criteria      int                    `json:"criteria"`
	Sources       map[Source]SourceStats `json:"sources"`
	Matches       int                    `json:"matches"`
	Notifications DispatchStats          `json:"notifications"`
	Error         string                 `json:"error,omitempty"`
}

// NewCount returns the number of newly inserted listings across sources.
func (r RunStats) NewCount() int {
	n := 0
	for _, s := range r.Sources {
		n += s.New
	}
	return n
}
