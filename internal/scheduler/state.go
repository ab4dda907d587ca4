package scheduler

import (
	"sync"
	"time"

	"jobwatch/internal/model"
)

// Phase is the lifecycle position of the scheduled loop.
type Phase string

// Scheduler phases.
const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
)

// State is the process-wide scheduler state shared by the loop, the HTTP
// API and the bot. Manual runs do not touch it.
type State struct {
	mu       sync.Mutex
	running  bool
	stopped  bool
	interval time.Duration
	lastRun  *model.RunStats
	nextTick time.Time
}

// NewState creates a State for a loop ticking every interval.
func NewState(interval time.Duration) *State {
	return &State{interval: interval}
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Phase    Phase           `json:"phase"`
	Interval string          `json:"interval"`
	NextTick time.Time       `json:"next_tick,omitzero"`
	LastRun  *model.RunStats `json:"last_run,omitempty"`
}

// Phase reports the current phase. A stop requested during a tick reports
// Stopped straight away.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase()
}

func (s *State) phase() Phase {
	switch {
	case s.stopped:
		return PhaseStopped
	case s.running:
		return PhaseRunning
	default:
		return PhaseIdle
	}
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Phase:    s.phase(),
		Interval: s.interval.String(),
		NextTick: s.nextTick,
	}
	if s.lastRun != nil {
		run := *s.lastRun
		snap.LastRun = &run
	}
	return snap
}

// Stop makes the loop skip ticks until Start is called. It reports whether
// the phase changed.
func (s *State) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	return true
}

// Start resumes ticking after Stop. It reports whether the phase changed.
func (s *State) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		return false
	}
	s.stopped = false
	return true
}

// begin moves Idle to Running. It fails while stopped or mid-tick.
func (s *State) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.running {
		return false
	}
	s.running = true
	return true
}

// end leaves Running and remembers run as the last scheduled run.
func (s *State) end(run model.RunStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = &run
}

func (s *State) setNextTick(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTick = t
}
