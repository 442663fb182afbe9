// Package api implements the HTTP route layer. Browser-facing routes fail
// by redirecting with a short error code; API routes fail with a structured
// JSON body. Neither path ever surfaces connection strings, keys, or raw
// internal errors. Every protected route passes through the session gate
// before touching data.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opsboard/opsboard/pkg/credentials"
	"github.com/opsboard/opsboard/pkg/deploy"
	"github.com/opsboard/opsboard/pkg/guest"
	"github.com/opsboard/opsboard/pkg/healthcheck"
	"github.com/opsboard/opsboard/pkg/pipeline"
	"github.com/opsboard/opsboard/pkg/registry"
	"github.com/opsboard/opsboard/pkg/session"
	"github.com/opsboard/opsboard/pkg/store"
)

// maxUploadBytes bounds the credential bundle upload.
const maxUploadBytes = 1 << 20

// uploadField is the multipart form field carrying the bundle file.
const uploadField = "config"

// Browser redirect error codes, appended as ?err=<code>.
const (
	errCodeNoFile    = "nofile"
	errCodeBadBundle = "badbundle"
	errCodeNoURI     = "nouri"
	errCodeNoKey     = "nokey"
	errCodeStore     = "store"
	errCodeInternal  = "internal"
)

const recentListLimit = 10

// Config wires a Handler.
type Config struct {
	Sessions *session.Manager
	Cookies  *session.CookieCodec
	Engine   *healthcheck.Engine
	Deploys  *deploy.Manager
	Pipeline *pipeline.Status
	Registry *registry.Registry
	Guests   *guest.Store

	// AdminKeyHash is the bcrypt hash gating operator endpoints; empty
	// disables them.
	AdminKeyHash string
}

// Handler is the HTTP route layer.
type Handler struct {
	mux          *http.ServeMux
	sessions     *session.Manager
	cookies      *session.CookieCodec
	engine       *healthcheck.Engine
	deploys      *deploy.Manager
	pipeline     *pipeline.Status
	registry     *registry.Registry
	guests       *guest.Store
	adminKeyHash []byte
}

// NewHandler creates the route layer.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		mux:          http.NewServeMux(),
		sessions:     cfg.Sessions,
		cookies:      cfg.Cookies,
		engine:       cfg.Engine,
		deploys:      cfg.Deploys,
		pipeline:     cfg.Pipeline,
		registry:     cfg.Registry,
		guests:       cfg.Guests,
		adminKeyHash: []byte(cfg.AdminKeyHash),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	// Browser-facing session routes.
	h.mux.HandleFunc("POST /upload", h.handleUpload)
	h.mux.HandleFunc("POST /guest", h.handleGuest)
	h.mux.HandleFunc("POST /logout", h.handleLogout)

	// Dashboard API.
	h.mux.HandleFunc("GET /api/v1/dashboard", h.handleDashboard)
	h.mux.HandleFunc("GET /api/v1/targets", h.handleListTargets)
	h.mux.HandleFunc("POST /api/v1/targets", h.handleAddTarget)
	h.mux.HandleFunc("DELETE /api/v1/targets/{name}", h.handleRemoveTarget)
	h.mux.HandleFunc("POST /api/v1/checks", h.handleRunChecks)
	h.mux.HandleFunc("GET /api/v1/logs", h.handleListLogs)
	h.mux.HandleFunc("DELETE /api/v1/logs", h.handleClearLogs)
	h.mux.HandleFunc("POST /api/v1/deployments", h.handleTriggerDeploy)
	h.mux.HandleFunc("GET /api/v1/deployments", h.handleListDeployments)
	h.mux.HandleFunc("GET /api/v1/pipeline", h.handlePipeline)

	// Provider callbacks and operator endpoints.
	h.mux.HandleFunc("POST /webhooks/deploy", h.handleDeployWebhook)
	h.mux.HandleFunc("GET /api/v1/admin/stats", h.handleAdminStats)
}

// sessionID extracts the verified session identity from the request
// cookie. Failures are reported as unauthenticated.
func (h *Handler) sessionID(r *http.Request) (string, error) {
	sid, err := h.cookies.Decode(r)
	if err != nil {
		return "", session.ErrUnauthenticated
	}
	return sid, nil
}

// resolve gates the session and returns its data access.
func (h *Handler) resolve(r *http.Request) (store.TenantStore, session.Mode, error) {
	sid, err := h.sessionID(r)
	if err != nil {
		return nil, session.ModeNone, err
	}
	return h.sessions.Resolve(r.Context(), sid)
}

// resolveForWrite is resolve plus the guest-mode write rejection: tenant
// mutations are forbidden before any store is touched.
func (h *Handler) resolveForWrite(r *http.Request) (store.TenantStore, error) {
	sid, err := h.sessionID(r)
	if err != nil {
		return nil, err
	}
	mode, err := h.sessions.RequireAuthenticated(sid)
	if err != nil {
		return nil, err
	}
	if mode == session.ModeGuest {
		return nil, session.ErrGuestForbidden
	}
	ts, _, err := h.sessions.Resolve(r.Context(), sid)
	return ts, err
}

// handleUpload activates credentialed mode from an uploaded bundle file.
// Each failure classification maps to a distinct redirect code.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	sid, err := h.sessionID(r)
	if err != nil {
		if sid, err = session.NewID(); err != nil {
			redirectErr(w, r, errCodeInternal)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		redirectErr(w, r, errCodeNoFile)
		return
	}
	defer func() { _ = file.Close() }()

	blob, err := io.ReadAll(file)
	if err != nil {
		redirectErr(w, r, errCodeNoFile)
		return
	}

	bundle, err := credentials.Parse(blob)
	if err != nil {
		redirectErr(w, r, errCodeBadBundle)
		return
	}

	if err := h.sessions.ActivateCredentialed(r.Context(), sid, bundle); err != nil {
		redirectErr(w, r, classifyActivation(err))
		return
	}

	if err := h.cookies.Issue(w, sid); err != nil {
		slog.Error("api: issuing session cookie", "error", err)
		redirectErr(w, r, errCodeInternal)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleGuest activates guest mode for the session.
func (h *Handler) handleGuest(w http.ResponseWriter, r *http.Request) {
	sid, err := h.sessionID(r)
	if err != nil {
		if sid, err = session.NewID(); err != nil {
			redirectErr(w, r, errCodeInternal)
			return
		}
	}

	h.sessions.ActivateGuest(sid)

	if err := h.cookies.Issue(w, sid); err != nil {
		slog.Error("api: issuing session cookie", "error", err)
		redirectErr(w, r, errCodeInternal)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout destroys the session and its resources. Safe to call
// without a valid session.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid, err := h.sessionID(r); err == nil {
		h.sessions.Logout(sid)
	}
	h.cookies.Clear(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// dashboardResponse is the aggregate status view.
type dashboardResponse struct {
	Mode        session.Mode           `json:"mode"`
	Targets     []store.Target         `json:"targets"`
	HealthLog   []store.HealthLogEntry `json:"health_log"`
	Deployments []store.Deployment     `json:"deployments"`
	Pipeline    pipeline.Snapshot      `json:"pipeline"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ts, mode, err := h.resolve(r)
	if err != nil {
		h.apiError(w, err)
		return
	}
	ctx := r.Context()

	targets, err := ts.ListTargets(ctx)
	if err != nil {
		h.apiError(w, err)
		return
	}
	healthLog, err := ts.ListHealthLog(ctx, recentListLimit)
	if err != nil {
		h.apiError(w, err)
		return
	}
	deployments, err := ts.ListDeployments(ctx, recentListLimit)
	if err != nil {
		h.apiError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Mode:        mode,
		Targets:     orEmptyTargets(targets),
		HealthLog:   orEmptyLog(healthLog),
		Deployments: orEmptyDeployments(deployments),
		Pipeline:    h.pipeline.Get(),
	})
}

func (h *Handler) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, _, err := h.resolve(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	targets, err := ts.ListTargets(r.Context())
	if err != nil {
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmptyTargets(targets))
}

// addTargetRequest is the add-target payload.
type addTargetRequest struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	ExpectStatus int    `json:"expect_status"`
}

func (h *Handler) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	ts, err := h.resolveForWrite(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	var req addTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	target := store.Target{
		Name:         req.Name,
		URL:          req.URL,
		ExpectStatus: req.ExpectStatus,
		Status:       store.StatusUnknown,
	}
	if err := ts.AddTarget(r.Context(), target); err != nil {
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (h *Handler) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	ts, err := h.resolveForWrite(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	if err := ts.RemoveTarget(r.Context(), r.PathValue("name")); err != nil {
		h.apiError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunChecks runs a health check against the session's targets.
// Allowed in guest mode; guest results are not persisted.
func (h *Handler) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	ts, mode, err := h.resolve(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	results := h.engine.Run(r.Context(), ts, mode)
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	ts, _, err := h.resolve(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	entries, err := ts.ListHealthLog(r.Context(), 0)
	if err != nil {
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmptyLog(entries))
}

func (h *Handler) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	ts, err := h.resolveForWrite(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	if err := ts.ClearHealthLog(r.Context()); err != nil {
		h.apiError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// triggerDeployRequest is the manual deployment payload.
type triggerDeployRequest struct {
	Service string `json:"service"`
}

func (h *Handler) handleTriggerDeploy(w http.ResponseWriter, r *http.Request) {
	ts, err := h.resolveForWrite(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	var req triggerDeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Service == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	d, err := h.deploys.Trigger(r.Context(), ts, req.Service)
	if err != nil {
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	ts, _, err := h.resolve(r)
	if err != nil {
		h.apiError(w, err)
		return
	}

	deployments, err := ts.ListDeployments(r.Context(), 0)
	if err != nil {
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmptyDeployments(deployments))
}

func (h *Handler) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.resolve(r); err != nil {
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Get())
}

// handleDeployWebhook ingests a provider callback. The provider key in the
// request resolves the tenant; an unknown key is rejected without hinting
// at which keys exist.
func (h *Handler) handleDeployWebhook(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Provider-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}

	sid, ok := h.sessions.FindByProviderKey(key)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown provider key")
		return
	}

	ts, _, err := h.sessions.Resolve(r.Context(), sid)
	if err != nil {
		h.apiError(w, err)
		return
	}

	var ev deploy.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Service == "" {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	d, err := h.deploys.HandleWebhook(r.Context(), ts, ev)
	if err != nil {
		if errors.Is(err, deploy.ErrUnknownStatus) {
			writeError(w, http.StatusBadRequest, "unknown deployment status")
			return
		}
		h.apiError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

// apiError maps classified failures to JSON responses. Internal detail
// never reaches the client.
func (h *Handler) apiError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, session.ErrGuestForbidden):
		writeError(w, http.StatusForbidden, "forbidden in guest mode")
	case errors.Is(err, store.ErrTargetExists):
		writeError(w, http.StatusConflict, "target name already registered")
	case errors.Is(err, store.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "target not found")
	case errors.Is(err, registry.ErrConnect):
		writeError(w, http.StatusBadGateway, "backing store unreachable")
	default:
		slog.Error("api: unexpected failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// classifyActivation maps activation failures to redirect codes.
func classifyActivation(err error) string {
	switch {
	case errors.Is(err, credentials.ErrMissingStoreURI):
		return errCodeNoURI
	case errors.Is(err, credentials.ErrMissingAccessKey):
		return errCodeNoKey
	case errors.Is(err, registry.ErrConnect):
		return errCodeStore
	default:
		return errCodeInternal
	}
}

// redirectErr redirects a browser route back to the root with a short
// error code.
func redirectErr(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/?err="+code, http.StatusSeeOther)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func orEmptyTargets(in []store.Target) []store.Target {
	if in == nil {
		return []store.Target{}
	}
	return in
}

func orEmptyLog(in []store.HealthLogEntry) []store.HealthLogEntry {
	if in == nil {
		return []store.HealthLogEntry{}
	}
	return in
}

func orEmptyDeployments(in []store.Deployment) []store.Deployment {
	if in == nil {
		return []store.Deployment{}
	}
	return in
}
