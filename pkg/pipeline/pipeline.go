// Package pipeline tracks the process-wide CI/CD pipeline status. This is
// deliberately a singleton shared across all sessions, since it reflects
// the deployment provider rather than any one tenant's data. It is injected into
// the components that read or advance it. Writers are the deploy manager
// and the provider webhook only; everything else reads.
package pipeline

import (
	"sync"
	"time"
)

// State values for the pipeline status.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Snapshot is a point-in-time read of the pipeline status.
type Snapshot struct {
	State     string    `json:"state"`
	Service   string    `json:"service,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the shared pipeline state object. Safe for concurrent use.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatus creates a Status in the idle state.
func NewStatus() *Status {
	return &Status{snap: Snapshot{State: StateIdle, UpdatedAt: time.Now()}}
}

// SetRunning marks a deployment of service as in flight.
func (s *Status) SetRunning(service string) {
	s.set(StateRunning, service)
}

// SetSucceeded marks the last deployment of service as succeeded.
func (s *Status) SetSucceeded(service string) {
	s.set(StateSucceeded, service)
}

// SetFailed marks the last deployment of service as failed.
func (s *Status) SetFailed(service string) {
	s.set(StateFailed, service)
}

// Get returns the current snapshot.
func (s *Status) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Status) set(state, service string) {
	s.mu.Lock()
	s.snap = Snapshot{State: state, Service: service, UpdatedAt: time.Now()}
	s.mu.Unlock()
}
