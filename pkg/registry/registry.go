// Package registry caches live backing-store connections keyed by session
// identity and store address. It is the per-tenant isolation boundary: two
// sessions never share a connection, even when they point at the same
// address. Entries are created lazily, reused while live, and reclaimed by
// logout or the background sweep.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq" // postgres driver for the default dial
	"golang.org/x/sync/singleflight"
)

// keySeparator joins session identity and store address into a composite
// key. The unit separator is not valid in either component.
const keySeparator = "\x1f"

const (
	defaultDialTimeout = 10 * time.Second
	pingTimeout        = 3 * time.Second
)

// ErrConnect is returned when a backing-store connection cannot be
// established. Callers match it with errors.Is to classify the failure.
var ErrConnect = errors.New("backing store unreachable")

// DialFunc opens a connection to the backing store at uri. The returned
// handle must be ready for a liveness ping.
type DialFunc func(ctx context.Context, uri string) (*sql.DB, error)

// Config configures a Registry.
type Config struct {
	// Dial opens connections. Defaults to a lib/pq sql.Open.
	Dial DialFunc

	// DialTimeout bounds connection establishment. Defaults to 10s.
	DialTimeout time.Duration

	// OnConnect runs once against each freshly established connection
	// before it is cached (e.g. tenant schema migrations).
	OnConnect func(ctx context.Context, db *sql.DB) error
}

// Registry is the per-tenant connection cache. Safe for concurrent use;
// map mutations are serialized so a request never acquires a handle the
// sweep is concurrently closing.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*sql.DB

	dial        DialFunc
	dialTimeout time.Duration
	onConnect   func(ctx context.Context, db *sql.DB) error
	flight      singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Registry.
func New(cfg Config) *Registry {
	if cfg.Dial == nil {
		cfg.Dial = dialPostgres
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Registry{
		conns:       make(map[string]*sql.DB),
		dial:        cfg.Dial,
		dialTimeout: cfg.DialTimeout,
		onConnect:   cfg.OnConnect,
	}
}

// dialPostgres is the default DialFunc.
func dialPostgres(_ context.Context, uri string) (*sql.DB, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func compositeKey(sessionID, uri string) string {
	return sessionID + keySeparator + uri
}

// Acquire returns a live connection for (sessionID, uri). A cached entry
// whose liveness check passes is returned unchanged; otherwise any stale
// entry is evicted and a fresh connection is established, cached, and
// returned. Establishment failures are classified ErrConnect and nothing
// is cached. Concurrent acquires for the same key are single-flighted so
// at most one connection is created.
func (r *Registry) Acquire(ctx context.Context, sessionID, uri string) (*sql.DB, error) {
	key := compositeKey(sessionID, uri)

	if db, ok := r.lookup(key); ok {
		if alive(ctx, db) {
			return db, nil
		}
		r.evict(key, db)
	}

	v, err, _ := r.flight.Do(key, func() (any, error) {
		// A racing acquire may have cached a connection while this call
		// waited on the flight.
		if db, ok := r.lookup(key); ok && alive(ctx, db) {
			return db, nil
		}
		return r.connect(ctx, key, uri)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (r *Registry) connect(ctx context.Context, key, uri string) (*sql.DB, error) {
	dctx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()

	db, err := r.dial(dctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if err := db.PingContext(dctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if r.onConnect != nil {
		if err := r.onConnect(dctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("preparing backing store: %w", err)
		}
	}

	r.mu.Lock()
	r.conns[key] = db
	r.mu.Unlock()
	return db, nil
}

// Release synchronously closes and removes every entry belonging to
// sessionID, regardless of address. Idempotent.
func (r *Registry) Release(sessionID string) {
	prefix := sessionID + keySeparator

	r.mu.Lock()
	var closing []*sql.DB
	for key, db := range r.conns {
		if strings.HasPrefix(key, prefix) {
			closing = append(closing, db)
			delete(r.conns, key)
		}
	}
	r.mu.Unlock()

	for _, db := range closing {
		if err := db.Close(); err != nil {
			slog.Warn("registry: closing released connection", "error", err)
		}
	}
}

// Len returns the number of cached entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sweep checks liveness of every cached entry and evicts dead ones. A
// failure on one entry never aborts the sweep for the rest.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[string]*sql.DB, len(r.conns))
	for key, db := range r.conns {
		snapshot[key] = db
	}
	r.mu.Unlock()

	for key, db := range snapshot {
		if alive(ctx, db) {
			continue
		}
		r.evict(key, db)
		slog.Info("registry: swept dead connection")
	}
}

// StartSweep runs Sweep on the given interval until Close is called.
func (r *Registry) StartSweep(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Close stops the sweep goroutine and closes all cached connections.
// Safe to call when StartSweep was never called.
func (r *Registry) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*sql.DB)
	r.mu.Unlock()

	for _, db := range conns {
		_ = db.Close()
	}
	return nil
}

func (r *Registry) lookup(key string) (*sql.DB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.conns[key]
	return db, ok
}

// evict removes key only if it still maps to the same handle, then closes
// it. The identity check keeps a concurrent re-acquire's fresh connection
// from being torn down.
func (r *Registry) evict(key string, db *sql.DB) {
	r.mu.Lock()
	if cur, ok := r.conns[key]; ok && cur == db {
		delete(r.conns, key)
	}
	r.mu.Unlock()
	_ = db.Close()
}

// alive is the liveness check: a bounded ping against the handle.
func alive(ctx context.Context, db *sql.DB) bool {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(pctx) == nil
}
