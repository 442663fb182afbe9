// Package session binds each browser session to its mode, its credential
// bundle, and the per-tenant resources derived from them. The Manager is
// the single entry point for activation, the authentication gate, and
// logout; mode branching lives here and in the two storage paths rather
// than in every route.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opsboard/opsboard/pkg/credentials"
	"github.com/opsboard/opsboard/pkg/guest"
	"github.com/opsboard/opsboard/pkg/registry"
	"github.com/opsboard/opsboard/pkg/store"
)

// DefaultIdleTTL is the inactivity window after which a session is treated
// as logged out.
const DefaultIdleTTL = 30 * time.Minute

// sessionIDBytes is the number of random bytes in a session identity.
const sessionIDBytes = 16

// ErrUnauthenticated is returned when a session has neither guest mode nor
// a valid credential bundle. The route layer translates it into a redirect
// to the upload page.
var ErrUnauthenticated = errors.New("session not authenticated")

// ErrGuestForbidden is returned when a guest session attempts a
// tenant-write operation.
var ErrGuestForbidden = errors.New("operation forbidden in guest mode")

// Mode is the session's tenant mode. Exactly two authenticated cases exist.
type Mode string

// Mode values.
const (
	ModeNone         Mode = ""
	ModeGuest        Mode = "guest"
	ModeCredentialed Mode = "credentialed"
)

// guestDefaults is the shared bundle attached to guest sessions. It is
// never tenant-supplied and never reaches the connection registry.
var guestDefaults = credentials.Bundle{
	StoreURI:  "memory://guest",
	AccessKey: "guest",
}

// Session is one browser session's server-side record.
type Session struct {
	// ID is the opaque, server-issued session identity.
	ID string

	// Mode is guest or credentialed; ModeNone means unauthenticated.
	Mode Mode

	// Bundle is the tenant credential set. Non-nil and valid iff Mode is
	// ModeCredentialed; the shared guest defaults for ModeGuest.
	Bundle *credentials.Bundle

	// CreatedAt is when the session was first activated.
	CreatedAt time.Time

	// LastActiveAt is the most recent authenticated request.
	LastActiveAt time.Time
}

// StoreFactory wraps a registry connection in a tenant data store.
type StoreFactory func(db *sql.DB) store.TenantStore

// Config configures a Manager.
type Config struct {
	Registry *registry.Registry
	Guests   *guest.Store

	// StoreFactory builds the credentialed data access path. Required.
	StoreFactory StoreFactory

	// IdleTTL defaults to DefaultIdleTTL.
	IdleTTL time.Duration
}

// Manager owns the session records and the guest/credentialed branching.
// Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	reg     *registry.Registry
	guests  *guest.Store
	factory StoreFactory
	idleTTL time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		reg:      cfg.Registry,
		guests:   cfg.Guests,
		factory:  cfg.StoreFactory,
		idleTTL:  cfg.IdleTTL,
	}
}

// NewID generates an unguessable session identity.
func NewID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ActivateCredentialed validates the bundle, eagerly establishes the
// backing-store connection to fail fast on bad credentials, and only then
// commits mode and bundle. On failure the session stays unauthenticated,
// never half-committed.
//
// A re-upload over an existing session is treated as logout followed by
// activation, so a bundle change never reuses a stale registry entry.
func (m *Manager) ActivateCredentialed(ctx context.Context, id string, bundle *credentials.Bundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}

	if existing := m.get(id); existing != nil {
		m.Logout(id)
	}

	if _, err := m.reg.Acquire(ctx, id, bundle.StoreURI); err != nil {
		return err
	}

	now := time.Now()
	m.mu.Lock()
	m.sessions[id] = &Session{
		ID:           id,
		Mode:         ModeCredentialed,
		Bundle:       bundle,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.mu.Unlock()
	return nil
}

// ActivateGuest commits guest mode and materializes the session's sample
// dataset.
func (m *Manager) ActivateGuest(id string) {
	m.guests.Get(id)

	now := time.Now()
	m.mu.Lock()
	m.sessions[id] = &Session{
		ID:           id,
		Mode:         ModeGuest,
		Bundle:       &guestDefaults,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.mu.Unlock()
}

// RequireAuthenticated is the gate every protected operation calls first.
// It succeeds iff the session is guest or credentialed with a present
// bundle, and touches the activity timestamp. A session idle past the TTL
// is lazily logged out and reported unauthenticated even though its record
// nominally existed.
func (m *Manager) RequireAuthenticated(id string) (Mode, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ModeNone, ErrUnauthenticated
	}

	if time.Since(sess.LastActiveAt) > m.idleTTL {
		m.mu.Unlock()
		m.Logout(id)
		return ModeNone, ErrUnauthenticated
	}

	switch sess.Mode {
	case ModeGuest:
	case ModeCredentialed:
		if sess.Bundle == nil {
			m.mu.Unlock()
			return ModeNone, ErrUnauthenticated
		}
	default:
		m.mu.Unlock()
		return ModeNone, ErrUnauthenticated
	}

	mode := sess.Mode
	sess.LastActiveAt = time.Now()
	m.mu.Unlock()
	return mode, nil
}

// Resolve gates the session and returns its data access: the guest dataset
// for guest mode, or a tenant store over the registry connection for
// credentialed mode.
func (m *Manager) Resolve(ctx context.Context, id string) (store.TenantStore, Mode, error) {
	mode, err := m.RequireAuthenticated(id)
	if err != nil {
		return nil, ModeNone, err
	}

	if mode == ModeGuest {
		return m.guests.Get(id), ModeGuest, nil
	}

	sess := m.get(id)
	if sess == nil || sess.Bundle == nil {
		return nil, ModeNone, ErrUnauthenticated
	}
	db, err := m.reg.Acquire(ctx, id, sess.Bundle.StoreURI)
	if err != nil {
		return nil, ModeNone, err
	}
	return m.factory(db), ModeCredentialed, nil
}

// Logout releases the session's registry connections and guest dataset
// unconditionally, then destroys the record. Both cleanups run regardless
// of mode so a bookkeeping inconsistency cannot leak a resource.
// Idempotent.
func (m *Manager) Logout(id string) {
	m.reg.Release(id)
	m.guests.Discard(id)

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// FindByProviderKey returns the ID of the credentialed session whose bundle
// carries the given external-provider key. Used to attribute incoming
// provider webhooks to a tenant.
func (m *Manager) FindByProviderKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if sess.Mode != ModeCredentialed || sess.Bundle == nil {
			continue
		}
		if sess.Bundle.ProviderKey == key && time.Since(sess.LastActiveAt) <= m.idleTTL {
			return id, true
		}
	}
	return "", false
}

// Count returns the number of session records, expired or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartCleanup runs a background loop that logs out idle-expired sessions
// on the given interval until Close is called.
func (m *Manager) StartCleanup(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()
}

// cleanup logs out every session idle past the TTL.
func (m *Manager) cleanup() {
	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if time.Since(sess.LastActiveAt) > m.idleTTL {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.Logout(id)
	}
}

// Close stops the cleanup goroutine. Safe to call when StartCleanup was
// never called.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

func (m *Manager) get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}
