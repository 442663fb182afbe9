// Package healthcheck probes registered targets and records the results
// against the session's resolved data store. A health check degrades,
// never crashes the serving path: per-target failures are isolated and a
// store failure yields a partial result set.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opsboard/opsboard/pkg/session"
	"github.com/opsboard/opsboard/pkg/store"
)

// defaultProbeTimeout bounds each outbound probe.
const defaultProbeTimeout = 5 * time.Second

// successReasonFormat is the fixed Up reason, e.g. "OK 200".
const successReasonFormat = "OK %d"

// Engine runs health checks. Safe for concurrent use; overlapping runs are
// allowed to complete independently and apply their results in write order.
type Engine struct {
	client  *http.Client
	timeout time.Duration
}

// Config configures an Engine.
type Config struct {
	// Timeout bounds each target probe. Defaults to 5s.
	Timeout time.Duration

	// Client overrides the probe HTTP client. Mainly for tests.
	Client *http.Client
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Engine{client: cfg.Client, timeout: cfg.Timeout}
}

// Run probes every registered target and returns the name -> result
// mapping. For credentialed sessions the per-target statuses and one log
// entry holding the full mapping are persisted; for guest sessions the
// persistence step is a no-op (guest status is illustrative). Errors are
// logged and absorbed.
func (e *Engine) Run(ctx context.Context, ts store.TenantStore, mode session.Mode) map[string]store.CheckResult {
	results := make(map[string]store.CheckResult)

	targets, err := ts.ListTargets(ctx)
	if err != nil {
		slog.Error("healthcheck: listing targets", "error", err)
		return results
	}

	for _, target := range targets {
		results[target.Name] = e.probe(ctx, target)
	}

	if mode == session.ModeGuest {
		return results
	}

	now := time.Now()
	for name, result := range results {
		if err := ts.SetTargetStatus(ctx, name, result.Status, result.Reason, now); err != nil {
			slog.Error("healthcheck: recording target status", "target", name, "error", err)
		}
	}

	entry := store.HealthLogEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Results:   results,
	}
	if err := ts.AppendHealthLog(ctx, entry); err != nil {
		slog.Error("healthcheck: appending log entry", "error", err)
	}

	return results
}

// probe performs one bounded outbound fetch and classifies the outcome.
func (e *Engine) probe(ctx context.Context, target store.Target) store.CheckResult {
	expect := target.ExpectStatus
	if expect == 0 {
		expect = http.StatusOK
	}

	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return store.CheckResult{Status: store.StatusDown, Reason: "invalid target url"}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return store.CheckResult{Status: store.StatusDown, Reason: classifyProbeError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != expect {
		// Remote-reported status takes precedence over any other reason.
		return store.CheckResult{Status: store.StatusDown, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	return store.CheckResult{Status: store.StatusUp, Reason: fmt.Sprintf(successReasonFormat, resp.StatusCode)}
}

// classifyProbeError maps a transport failure to a short reason. Timeouts
// are treated identically to a refusal; preference order is low-level
// connection error, then a generic message.
func classifyProbeError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns lookup failed"
	}

	return "connection failed"
}
