// Package guest provides per-session in-memory sample datasets for sessions
// running without credentials. Each session gets its own copy of the seed
// snapshot; mutations in one guest session are never visible to another.
// Nothing here is durable: datasets live for the session and die with it.
package guest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsboard/opsboard/pkg/store"
)

// Dataset is one session's private copy of the sample data. It satisfies
// store.TenantStore so the health check engine and read paths are agnostic
// to guest mode. Tenant-write routes never reach it; they are rejected with
// a guest-forbidden classification upstream.
type Dataset = store.MemoryStore

// Store holds guest datasets keyed by session identity. Safe for concurrent
// use from multiple tabs of the same session.
type Store struct {
	mu       sync.Mutex
	datasets map[string]*Dataset
}

// NewStore creates an empty guest dataset store.
func NewStore() *Store {
	return &Store{datasets: make(map[string]*Dataset)}
}

// Get returns the session's dataset, materializing a fresh copy of the seed
// snapshot on first access for that identity.
func (s *Store) Get(sessionID string) *Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[sessionID]
	if !ok {
		ds = seedDataset()
		s.datasets[sessionID] = ds
	}
	return ds
}

// Discard removes the session's dataset. Idempotent.
func (s *Store) Discard(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.datasets, sessionID)
}

// Len returns the number of materialized datasets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datasets)
}

// seedDataset builds a fresh copy of the demo snapshot: two targets (one up,
// one down), a sample health check run, and a pair of deployment records.
// Built from scratch on every call so no slice or map is shared between
// sessions.
func seedDataset() *Dataset {
	ds := store.NewMemoryStore()
	ctx := context.Background()

	checked := time.Now().Add(-5 * time.Minute)
	_ = ds.AddTarget(ctx, store.Target{
		Name:      "demo-web",
		URL:       "https://demo-web.example.com/health",
		Status:    store.StatusUp,
		Reason:    "OK 200",
		CheckedAt: checked,
	})
	_ = ds.AddTarget(ctx, store.Target{
		Name:      "demo-api",
		URL:       "https://demo-api.example.com/health",
		Status:    store.StatusDown,
		Reason:    "connection refused",
		CheckedAt: checked,
	})

	_ = ds.AppendHealthLog(ctx, store.HealthLogEntry{
		ID:        uuid.NewString(),
		Timestamp: checked,
		Results: map[string]store.CheckResult{
			"demo-web": {Status: store.StatusUp, Reason: "OK 200"},
			"demo-api": {Status: store.StatusDown, Reason: "connection refused"},
		},
	})

	deployed := time.Now().Add(-2 * time.Hour)
	webFinished := deployed.Add(90 * time.Second)
	apiFinished := deployed.Add(31 * time.Minute)
	_ = ds.AppendDeployment(ctx, store.Deployment{
		ID:         uuid.NewString(),
		Service:    "demo-web",
		Status:     store.DeploySuccess,
		Source:     store.SourceWebhook,
		StartedAt:  deployed,
		FinishedAt: &webFinished,
	})
	_ = ds.AppendDeployment(ctx, store.Deployment{
		ID:         uuid.NewString(),
		Service:    "demo-api",
		Status:     store.DeployFailed,
		Source:     store.SourceManual,
		StartedAt:  deployed.Add(30 * time.Minute),
		FinishedAt: &apiFinished,
	})

	return ds
}
