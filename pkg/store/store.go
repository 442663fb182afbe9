// Package store defines the domain entities tracked by the dashboard and the
// TenantStore interface every backing store implements. The shapes are the
// same for the Postgres path and the in-memory guest path so the route layer
// never branches on storage mode.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrTargetExists is returned when a target with the same name is already registered.
var ErrTargetExists = errors.New("target already exists")

// ErrTargetNotFound is returned when the named target is not registered.
var ErrTargetNotFound = errors.New("target not found")

// TargetStatus is the last observed health state of a registered target.
type TargetStatus string

// Target status values.
const (
	StatusUnknown TargetStatus = "unknown"
	StatusUp      TargetStatus = "up"
	StatusDown    TargetStatus = "down"
)

// Target is a registered HTTP server whose health is polled.
type Target struct {
	// Name is unique within a tenant's data scope.
	Name string `json:"name"`

	// URL is the probe endpoint.
	URL string `json:"url"`

	// ExpectStatus is the HTTP status code a healthy target returns.
	// Zero means 200.
	ExpectStatus int `json:"expect_status,omitempty"`

	// Status and Reason reflect the most recent health check.
	Status TargetStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`

	// CheckedAt is when Status was last written.
	CheckedAt time.Time `json:"checked_at"`
}

// CheckResult is one target's outcome within a health check run.
type CheckResult struct {
	Status TargetStatus `json:"status"`
	Reason string       `json:"reason"`
}

// HealthLogEntry records the full status mapping of one health check run.
type HealthLogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Results   map[string]CheckResult `json:"results"`
}

// DeploymentStatus is a deployment record's state machine position.
type DeploymentStatus string

// Deployment status values. A deployment moves pending -> in_progress and
// terminates at success or failed; the terminal state is written by a timer
// task or a provider webhook, never by the triggering request.
const (
	DeployPending    DeploymentStatus = "pending"
	DeployInProgress DeploymentStatus = "in_progress"
	DeploySuccess    DeploymentStatus = "success"
	DeployFailed     DeploymentStatus = "failed"
)

// DeploySource values.
const (
	SourceManual  = "manual"
	SourceWebhook = "webhook"
)

// Deployment is one deployment event, manual or webhook-originated.
type Deployment struct {
	ID         string           `json:"id"`
	Service    string           `json:"service"`
	Status     DeploymentStatus `json:"status"`
	Source     string           `json:"source"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// TenantStore is the data access contract for a single tenant's dataset.
// Implementations: postgres.Store over a registry connection, and the
// per-session guest dataset.
type TenantStore interface {
	// ListTargets returns all registered targets ordered by name.
	ListTargets(ctx context.Context) ([]Target, error)

	// AddTarget registers a target. Returns ErrTargetExists if the name is taken.
	AddTarget(ctx context.Context, t Target) error

	// RemoveTarget unregisters the named target. Returns ErrTargetNotFound
	// if it is not registered.
	RemoveTarget(ctx context.Context, name string) error

	// SetTargetStatus records the latest probe outcome for a target.
	SetTargetStatus(ctx context.Context, name string, status TargetStatus, reason string, checkedAt time.Time) error

	// AppendHealthLog appends one health check run.
	AppendHealthLog(ctx context.Context, e HealthLogEntry) error

	// ListHealthLog returns up to limit entries, most recent first. Readers
	// order by the write-time timestamp, not insertion order.
	ListHealthLog(ctx context.Context, limit int) ([]HealthLogEntry, error)

	// ClearHealthLog removes all health log entries.
	ClearHealthLog(ctx context.Context) error

	// AppendDeployment records a deployment event.
	AppendDeployment(ctx context.Context, d Deployment) error

	// ListDeployments returns up to limit deployments, most recent first.
	ListDeployments(ctx context.Context, limit int) ([]Deployment, error)

	// SetDeploymentStatus advances a deployment's state machine.
	SetDeploymentStatus(ctx context.Context, id string, status DeploymentStatus, finishedAt *time.Time) error
}
