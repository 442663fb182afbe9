// Package postgres implements store.TenantStore over a registry-managed
// PostgreSQL connection. Each credentialed session resolves to its own
// Store instance wrapping its own connection; nothing here is shared
// across sessions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/opsboard/opsboard/pkg/store"
)

// uniqueViolation is the PostgreSQL error code for a unique-constraint
// violation, used to classify duplicate target names as conflicts.
const uniqueViolation = "23505"

const defaultListLimit = 50

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// targetColumns lists columns returned by target SELECT queries.
var targetColumns = []string{"name", "url", "expect_status", "status", "reason", "checked_at"}

// Store implements store.TenantStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a Store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListTargets returns all registered targets ordered by name.
func (s *Store) ListTargets(ctx context.Context) ([]store.Target, error) {
	query, args, err := psq.Select(targetColumns...).
		From("targets").
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building target query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []store.Target
	for rows.Next() {
		var t store.Target
		var checkedAt sql.NullTime
		if err := rows.Scan(&t.Name, &t.URL, &t.ExpectStatus, &t.Status, &t.Reason, &checkedAt); err != nil {
			return nil, fmt.Errorf("scanning target row: %w", err)
		}
		if checkedAt.Valid {
			t.CheckedAt = checkedAt.Time
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target rows: %w", err)
	}
	return targets, nil
}

// AddTarget registers a target. A duplicate name maps to store.ErrTargetExists.
func (s *Store) AddTarget(ctx context.Context, t store.Target) error {
	if t.Status == "" {
		t.Status = store.StatusUnknown
	}

	query := `
		INSERT INTO targets (name, url, expect_status, status, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, t.Name, t.URL, t.ExpectStatus, t.Status, t.Reason)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return store.ErrTargetExists
		}
		return fmt.Errorf("inserting target: %w", err)
	}
	return nil
}

// RemoveTarget unregisters the named target.
func (s *Store) RemoveTarget(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting target: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return store.ErrTargetNotFound
	}
	return nil
}

// SetTargetStatus records the latest probe outcome for a target.
func (s *Store) SetTargetStatus(ctx context.Context, name string, status store.TargetStatus, reason string, checkedAt time.Time) error {
	query := `
		UPDATE targets
		SET status = $2, reason = $3, checked_at = $4
		WHERE name = $1
	`
	res, err := s.db.ExecContext(ctx, query, name, status, reason, checkedAt)
	if err != nil {
		return fmt.Errorf("updating target status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return store.ErrTargetNotFound
	}
	return nil
}

// AppendHealthLog appends one health check run.
func (s *Store) AppendHealthLog(ctx context.Context, e store.HealthLogEntry) error {
	results, err := json.Marshal(e.Results)
	if err != nil {
		results = []byte("{}")
	}

	query := `
		INSERT INTO health_log (id, ts, results)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, query, e.ID, e.Timestamp, results); err != nil {
		return fmt.Errorf("inserting health log entry: %w", err)
	}
	return nil
}

// ListHealthLog returns up to limit entries ordered by timestamp
// descending.
func (s *Store) ListHealthLog(ctx context.Context, limit int) ([]store.HealthLogEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query, args, err := psq.Select("id", "ts", "results").
		From("health_log").
		OrderBy("ts DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building health log query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing health log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []store.HealthLogEntry
	for rows.Next() {
		var e store.HealthLogEntry
		var results []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &results); err != nil {
			return nil, fmt.Errorf("scanning health log row: %w", err)
		}
		if err := json.Unmarshal(results, &e.Results); err != nil {
			e.Results = nil
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating health log rows: %w", err)
	}
	return entries, nil
}

// ClearHealthLog removes all health log entries.
func (s *Store) ClearHealthLog(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM health_log`); err != nil {
		return fmt.Errorf("clearing health log: %w", err)
	}
	return nil
}

// AppendDeployment records a deployment event.
func (s *Store) AppendDeployment(ctx context.Context, d store.Deployment) error {
	query := `
		INSERT INTO deployments (id, service, status, source, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, d.ID, d.Service, d.Status, d.Source, d.StartedAt, d.FinishedAt)
	if err != nil {
		return fmt.Errorf("inserting deployment: %w", err)
	}
	return nil
}

// ListDeployments returns up to limit deployments, most recent first.
func (s *Store) ListDeployments(ctx context.Context, limit int) ([]store.Deployment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query, args, err := psq.Select("id", "service", "status", "source", "started_at", "finished_at").
		From("deployments").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building deployment query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deployments []store.Deployment
	for rows.Next() {
		var d store.Deployment
		var finished sql.NullTime
		if err := rows.Scan(&d.ID, &d.Service, &d.Status, &d.Source, &d.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning deployment row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			d.FinishedAt = &t
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployment rows: %w", err)
	}
	return deployments, nil
}

// SetDeploymentStatus advances a deployment's state machine.
func (s *Store) SetDeploymentStatus(ctx context.Context, id string, status store.DeploymentStatus, finishedAt *time.Time) error {
	query := `
		UPDATE deployments
		SET status = $2, finished_at = $3
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, status, finishedAt); err != nil {
		return fmt.Errorf("updating deployment status: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ store.TenantStore = (*Store)(nil)
