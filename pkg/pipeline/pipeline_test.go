package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_StartsIdle(t *testing.T) {
	s := NewStatus()

	snap := s.Get()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Service)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestStatus_Transitions(t *testing.T) {
	s := NewStatus()

	s.SetRunning("svc1")
	assert.Equal(t, StateRunning, s.Get().State)
	assert.Equal(t, "svc1", s.Get().Service)

	s.SetSucceeded("svc1")
	assert.Equal(t, StateSucceeded, s.Get().State)

	s.SetFailed("svc2")
	snap := s.Get()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "svc2", snap.Service)
}

func TestStatus_ConcurrentReadsAndWrites(t *testing.T) {
	s := NewStatus()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetRunning("svc")
			s.SetSucceeded("svc")
		}()
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateSucceeded, s.Get().State)
}
