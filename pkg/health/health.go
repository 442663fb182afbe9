// Package health exposes the process's own liveness and readiness state.
// This is about the dashboard server itself, not the tenant targets it
// monitors; those are the healthcheck package's concern.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Readiness states.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks process readiness. Safe for concurrent use.
type Checker struct {
	state   atomic.Int32
	started time.Time
}

// NewChecker creates a Checker in the starting state.
func NewChecker() *Checker {
	return &Checker{started: time.Now()}
}

// SetReady marks the process ready to serve.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining marks the process as shutting down.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady reports whether the process is serving.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

type statusBody struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (c *Checker) body() statusBody {
	return statusBody{
		Status:        c.State(),
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
	}
}

// LivenessHandler always responds 200; wire it to /healthz.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, c.body())
	}
}

// ReadinessHandler responds 200 when ready and 503 otherwise; wire it to
// /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		if !c.IsReady() {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, c.body())
	}
}

func writeStatus(w http.ResponseWriter, code int, body statusBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
