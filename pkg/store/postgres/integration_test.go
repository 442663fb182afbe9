//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opsboard/opsboard/pkg/store"
	pgstore "github.com/opsboard/opsboard/pkg/store/postgres"
)

// TestTenantStore_EndToEnd exercises migration and the full store surface
// against a real PostgreSQL instance.
func TestTenantStore_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("opsboard"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	defer func() { _ = pgContainer.Terminate(ctx) }()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "failed to open database")
	defer db.Close()

	require.NoError(t, pgstore.Migrate(ctx, db), "failed to run migrations")
	// Migrate again: a fresh connection to an already-migrated database
	// must be a no-op.
	require.NoError(t, pgstore.Migrate(ctx, db))

	s := pgstore.New(db)

	// Targets.
	target := store.Target{Name: "svc1", URL: "http://svc1.internal", ExpectStatus: 200, Status: store.StatusUnknown}
	require.NoError(t, s.AddTarget(ctx, target))
	err = s.AddTarget(ctx, target)
	assert.ErrorIs(t, err, store.ErrTargetExists)

	targets, err := s.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "svc1", targets[0].Name)
	assert.Equal(t, store.StatusUnknown, targets[0].Status)

	require.NoError(t, s.SetTargetStatus(ctx, "svc1", store.StatusUp, "OK 200", time.Now()))
	targets, err = s.ListTargets(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUp, targets[0].Status)
	assert.Equal(t, "OK 200", targets[0].Reason)

	err = s.SetTargetStatus(ctx, "ghost", store.StatusUp, "", time.Now())
	assert.ErrorIs(t, err, store.ErrTargetNotFound)

	// Health log.
	entry := store.HealthLogEntry{
		ID:        "run-1",
		Timestamp: time.Now(),
		Results:   map[string]store.CheckResult{"svc1": {Status: store.StatusUp, Reason: "OK 200"}},
	}
	require.NoError(t, s.AppendHealthLog(ctx, entry))

	entries, err := s.ListHealthLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.StatusUp, entries[0].Results["svc1"].Status)

	require.NoError(t, s.ClearHealthLog(ctx))
	entries, err = s.ListHealthLog(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deployments.
	d := store.Deployment{
		ID:        "dep-1",
		Service:   "svc1",
		Status:    store.DeployInProgress,
		Source:    store.SourceManual,
		StartedAt: time.Now(),
	}
	require.NoError(t, s.AppendDeployment(ctx, d))

	finished := time.Now()
	require.NoError(t, s.SetDeploymentStatus(ctx, "dep-1", store.DeploySuccess, &finished))

	deployments, err := s.ListDeployments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, store.DeploySuccess, deployments[0].Status)
	require.NotNil(t, deployments[0].FinishedAt)

	// Target removal.
	require.NoError(t, s.RemoveTarget(ctx, "svc1"))
	err = s.RemoveTarget(ctx, "svc1")
	assert.ErrorIs(t, err, store.ErrTargetNotFound)
}
