// Package stats keeps the history of pipeline runs.
package stats

import (
	"context"
	"errors"
	"slices"
	"sync"

	"jobwatch/internal/model"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// DefaultCapacity is how many runs a recorder keeps.
const DefaultCapacity = 100

// Recorder stores RunStats keyed by run id. Recording a run again replaces
// the previous snapshot, so a run can be recorded when it starts and again
// when it finishes.
type Recorder interface {
	Record(ctx context.Context, run model.RunStats) error
	Get(ctx context.Context, id string) (model.RunStats, error)
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]model.RunStats, error)
}

// Memory is an in-process Recorder that forgets the oldest runs once full.
type Memory struct {
	mu    sync.Mutex
	cap   int
	runs  map[string]model.RunStats
	order []string // oldest first
}

var _ Recorder = (*Memory)(nil)

// NewMemory creates a Memory recorder keeping at most capacity runs.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{cap: capacity, runs: make(map[string]model.RunStats)}
}

// Record stores run.
func (m *Memory) Record(_ context.Context, run model.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		m.order = append(m.order, run.ID)
	}
	m.runs[run.ID] = run
	for len(m.order) > m.cap {
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Get returns the run with the given id.
func (m *Memory) Get(_ context.Context, id string) (model.RunStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return model.RunStats{}, ErrNotFound
	}
	return run, nil
}

// Recent returns up to limit runs, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]model.RunStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]model.RunStats, 0, limit)
	for _, id := range slices.Backward(m.order) {
		if len(out) == limit {
			break
		}
		out = append(out, m.runs[id])
	}
	return out, nil
}
