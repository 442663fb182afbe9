package healthcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard/pkg/session"
	"github.com/opsboard/opsboard/pkg/store"
)

const engineTestTimeout = 500 * time.Millisecond

func newEngine() *Engine {
	return New(Config{Timeout: engineTestTimeout})
}

func addTarget(t *testing.T, ts store.TenantStore, name, url string) {
	t.Helper()
	require.NoError(t, ts.AddTarget(context.Background(), store.Target{Name: name, URL: url}))
}

func TestRun_MarksTargetUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := store.NewMemoryStore()
	addTarget(t, ts, "svc1", srv.URL)

	results := newEngine().Run(context.Background(), ts, session.ModeCredentialed)

	require.Contains(t, results, "svc1")
	assert.Equal(t, store.StatusUp, results["svc1"].Status)
	assert.Equal(t, "OK 200", results["svc1"].Reason)
}

func TestRun_RemoteStatusPreferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ts := store.NewMemoryStore()
	addTarget(t, ts, "svc1", srv.URL)

	results := newEngine().Run(context.Background(), ts, session.ModeCredentialed)

	assert.Equal(t, store.StatusDown, results["svc1"].Status)
	assert.Equal(t, "HTTP 503", results["svc1"].Reason)
}

func TestRun_ConnectionFailureClassified(t *testing.T) {
	// A server that is already closed guarantees a refusal.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	ts := store.NewMemoryStore()
	addTarget(t, ts, "svc1", url)

	results := newEngine().Run(context.Background(), ts, session.ModeCredentialed)

	assert.Equal(t, store.StatusDown, results["svc1"].Status)
	assert.NotEmpty(t, results["svc1"].Reason)
	assert.NotContains(t, results["svc1"].Reason, "HTTP ")
}

func TestRun_OneUnreachableTargetDoesNotBlockOthers(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	ts := store.NewMemoryStore()
	addTarget(t, ts, "alive", up.URL)
	addTarget(t, ts, "dead", "http://127.0.0.1:1")

	results := newEngine().Run(context.Background(), ts, session.ModeCredentialed)

	require.Len(t, results, 2)
	assert.Equal(t, store.StatusUp, results["alive"].Status)
	assert.Equal(t, store.StatusDown, results["dead"].Status)
}

func TestRun_PersistsStatusAndLogEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := store.NewMemoryStore()
	addTarget(t, ts, "svc1", srv.URL)
	ctx := context.Background()

	newEngine().Run(ctx, ts, session.ModeCredentialed)

	targets, err := ts.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, store.StatusUp, targets[0].Status)
	assert.False(t, targets[0].CheckedAt.IsZero())

	log, err := ts.ListHealthLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.NotEmpty(t, log[0].ID)
	assert.Equal(t, store.StatusUp, log[0].Results["svc1"].Status)
}

func TestRun_GuestModeSkipsPersistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := store.NewMemoryStore()
	addTarget(t, ts, "svc1", srv.URL)
	ctx := context.Background()

	results := newEngine().Run(ctx, ts, session.ModeGuest)
	require.Len(t, results, 1)

	// Neither status nor log was written.
	targets, err := ts.ListTargets(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnknown, targets[0].Status)

	log, err := ts.ListHealthLog(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, log)
}

// failingStore simulates an unreachable backing store.
type failingStore struct {
	store.TenantStore
}

func (failingStore) ListTargets(context.Context) ([]store.Target, error) {
	return nil, errors.New("store unreachable")
}

func TestRun_StoreFailureYieldsEmptyMapping(t *testing.T) {
	results := newEngine().Run(context.Background(), failingStore{}, session.ModeCredentialed)
	assert.Empty(t, results)
}
