package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// adminStats is the operator view of process-wide resource usage. It
// carries counts only, never session identities, addresses, or keys.
type adminStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	RegistryEntries int    `json:"registry_entries"`
	GuestDatasets   int    `json:"guest_datasets"`
	PipelineState   string `json:"pipeline_state"`
}

// handleAdminStats serves operator statistics, gated by the configured
// admin key.
func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin key required")
		return
	}

	writeJSON(w, http.StatusOK, adminStats{
		ActiveSessions:  h.sessions.Count(),
		RegistryEntries: h.registry.Len(),
		GuestDatasets:   h.guests.Len(),
		PipelineState:   h.pipeline.Get().State,
	})
}

// authorizeAdmin verifies the bearer key against the configured bcrypt
// hash. No hash configured means the endpoint is disabled.
func (h *Handler) authorizeAdmin(r *http.Request) bool {
	if len(h.adminKeyHash) == 0 {
		return false
	}

	auth := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || key == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword(h.adminKeyHash, []byte(key)) == nil
}
