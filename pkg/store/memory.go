package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements TenantStore using in-memory slices. It backs the
// guest dataset and is useful as a test double. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	targets     []Target
	healthLog   []HealthLogEntry
	deployments []Deployment
}

// NewMemoryStore creates an empty in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// ListTargets returns all registered targets ordered by name.
func (s *MemoryStore) ListTargets(_ context.Context) ([]Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Target, len(s.targets))
	copy(out, s.targets)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddTarget registers a target. Returns ErrTargetExists if the name is taken.
func (s *MemoryStore) AddTarget(_ context.Context, t Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.targets {
		if existing.Name == t.Name {
			return ErrTargetExists
		}
	}
	if t.Status == "" {
		t.Status = StatusUnknown
	}
	s.targets = append(s.targets, t)
	return nil
}

// RemoveTarget unregisters the named target.
func (s *MemoryStore) RemoveTarget(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.targets {
		if t.Name == name {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return nil
		}
	}
	return ErrTargetNotFound
}

// SetTargetStatus records the latest probe outcome for a target.
func (s *MemoryStore) SetTargetStatus(_ context.Context, name string, status TargetStatus, reason string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.targets {
		if s.targets[i].Name == name {
			s.targets[i].Status = status
			s.targets[i].Reason = reason
			s.targets[i].CheckedAt = checkedAt
			return nil
		}
	}
	return ErrTargetNotFound
}

// AppendHealthLog appends one health check run.
func (s *MemoryStore) AppendHealthLog(_ context.Context, e HealthLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.healthLog = append(s.healthLog, e)
	return nil
}

// ListHealthLog returns up to limit entries, most recent first.
func (s *MemoryStore) ListHealthLog(_ context.Context, limit int) ([]HealthLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HealthLogEntry, len(s.healthLog))
	copy(out, s.healthLog)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClearHealthLog removes all health log entries.
func (s *MemoryStore) ClearHealthLog(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.healthLog = nil
	return nil
}

// AppendDeployment records a deployment event.
func (s *MemoryStore) AppendDeployment(_ context.Context, d Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deployments = append(s.deployments, d)
	return nil
}

// ListDeployments returns up to limit deployments, most recent first.
func (s *MemoryStore) ListDeployments(_ context.Context, limit int) ([]Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Deployment, len(s.deployments))
	copy(out, s.deployments)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetDeploymentStatus advances a deployment's state machine.
func (s *MemoryStore) SetDeploymentStatus(_ context.Context, id string, status DeploymentStatus, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.deployments {
		if s.deployments[i].ID == id {
			s.deployments[i].Status = status
			s.deployments[i].FinishedAt = finishedAt
			return nil
		}
	}
	return nil
}

// Verify interface compliance.
var _ TenantStore = (*MemoryStore)(nil)
