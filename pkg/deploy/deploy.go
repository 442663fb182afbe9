// Package deploy records deployment events and advances their state
// machine. A triggered deployment returns immediately as in_progress; a
// timer task writes the terminal state later, so the triggering request
// never blocks on the provider. Webhook-originated events from the
// deployment provider are recorded against the tenant the provider key
// resolves to.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsboard/opsboard/pkg/pipeline"
	"github.com/opsboard/opsboard/pkg/store"
)

// defaultCompletionDelay is how long after triggering the terminal state
// is written when no provider webhook arrives first.
const defaultCompletionDelay = 30 * time.Second

// completionWriteTimeout bounds the deferred terminal-state write.
const completionWriteTimeout = 10 * time.Second

// ErrUnknownStatus is returned for a webhook event whose status is not a
// recognized deployment state.
var ErrUnknownStatus = errors.New("unknown deployment status")

// WebhookEvent is a deployment-provider callback payload.
type WebhookEvent struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

// Manager triggers deployments and applies provider events.
type Manager struct {
	delay    time.Duration
	pipeline *pipeline.Status
}

// Config configures a Manager.
type Config struct {
	// CompletionDelay overrides the timer that writes the terminal state.
	CompletionDelay time.Duration

	// Pipeline receives process-wide status updates. Required.
	Pipeline *pipeline.Status
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.CompletionDelay == 0 {
		cfg.CompletionDelay = defaultCompletionDelay
	}
	return &Manager{delay: cfg.CompletionDelay, pipeline: cfg.Pipeline}
}

// Trigger records a manual deployment as in_progress and schedules the
// terminal write. The returned record carries the ID for later polling.
func (m *Manager) Trigger(ctx context.Context, ts store.TenantStore, service string) (*store.Deployment, error) {
	d := store.Deployment{
		ID:        uuid.NewString(),
		Service:   service,
		Status:    store.DeployInProgress,
		Source:    store.SourceManual,
		StartedAt: time.Now(),
	}
	if err := ts.AppendDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("recording deployment: %w", err)
	}
	m.pipeline.SetRunning(service)

	// The request returns now; the timer advances the state machine.
	time.AfterFunc(m.delay, func() {
		m.complete(ts, d.ID, service)
	})

	return &d, nil
}

// complete writes the terminal state for a timed-out trigger. The request
// context is long gone, so the write runs under its own deadline.
func (m *Manager) complete(ts store.TenantStore, id, service string) {
	ctx, cancel := context.WithTimeout(context.Background(), completionWriteTimeout)
	defer cancel()

	now := time.Now()
	if err := ts.SetDeploymentStatus(ctx, id, store.DeploySuccess, &now); err != nil {
		slog.Error("deploy: writing terminal state", "deployment", id, "error", err)
		m.pipeline.SetFailed(service)
		return
	}
	m.pipeline.SetSucceeded(service)
}

// HandleWebhook records a provider-originated deployment event.
func (m *Manager) HandleWebhook(ctx context.Context, ts store.TenantStore, ev WebhookEvent) (*store.Deployment, error) {
	status, err := parseStatus(ev.Status)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	d := store.Deployment{
		ID:        uuid.NewString(),
		Service:   ev.Service,
		Status:    status,
		Source:    store.SourceWebhook,
		StartedAt: now,
	}
	if status == store.DeploySuccess || status == store.DeployFailed {
		d.FinishedAt = &now
	}

	if err := ts.AppendDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("recording webhook deployment: %w", err)
	}

	switch status {
	case store.DeployInProgress, store.DeployPending:
		m.pipeline.SetRunning(ev.Service)
	case store.DeploySuccess:
		m.pipeline.SetSucceeded(ev.Service)
	case store.DeployFailed:
		m.pipeline.SetFailed(ev.Service)
	}

	return &d, nil
}

func parseStatus(s string) (store.DeploymentStatus, error) {
	switch store.DeploymentStatus(s) {
	case store.DeployPending, store.DeployInProgress, store.DeploySuccess, store.DeployFailed:
		return store.DeploymentStatus(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}
