package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Tracker owns the per-client mutex table and last-activity timestamps, and
// drives idle eviction against the history Store. At most one request may
// hold a given client's lock at a time; a second request for the same key
// blocks until the first releases.
type Tracker struct {
	store   Store
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	lastSeen map[string]time.Time
	onEvict  []func(clientID string)
}

// NewTracker creates a Tracker evicting clients idle for longer than timeout.
func NewTracker(store Store, timeout time.Duration) *Tracker {
	return &Tracker{
		store:    store,
		timeout:  timeout,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		lastSeen: make(map[string]time.Time),
	}
}

// WithClock overrides the time source for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// OnEvict registers a hook invoked with each evicted client ID, after the
// session state is gone. Components holding their own per-client state (rate
// windows, duplicate-suppression caches) use this to stay in sync.
func (t *Tracker) OnEvict(hook func(clientID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvict = append(t.onEvict, hook)
}

// Store exposes the underlying history store.
func (t *Tracker) Store() Store {
	return t.store
}

// Lock returns the mutex for clientID, creating it on first use. The caller
// locks and unlocks the returned mutex; the Tracker only manages its
// lifetime, which is tied to the client's session.
func (t *Tracker) Lock(clientID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, exists := t.locks[clientID]
	if !exists {
		lock = &sync.Mutex{}
		t.locks[clientID] = lock
	}
	return lock
}

// Acquire blocks until it holds the lock currently registered for clientID.
// A sweep can evict an idle client between the mutex lookup and the lock
// acquisition; re-checking identity after locking means a turn never proceeds
// holding a stale generation of the client's mutex while another turn holds
// the fresh one.
func (t *Tracker) Acquire(clientID string) *sync.Mutex {
	for {
		lock := t.Lock(clientID)
		lock.Lock()

		t.mu.Lock()
		current := t.locks[clientID]
		t.mu.Unlock()

		if current == lock {
			return lock
		}
		lock.Unlock()
	}
}

// Touch records activity for clientID, deferring its eviction.
func (t *Tracker) Touch(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[clientID] = t.now()
}

// EvictIdle removes every client whose last activity is older than the idle
// timeout: lock, timestamp, and stored history go together so no request can
// observe a half-evicted session. Clients whose lock is currently held are
// skipped and retried on a later sweep. Returns the evicted client IDs.
func (t *Tracker) EvictIdle(ctx context.Context) []string {
	t.mu.Lock()

	cutoff := t.now().Add(-t.timeout)
	var evicted []string
	for clientID, seen := range t.lastSeen {
		if seen.After(cutoff) {
			continue
		}
		// An in-flight request holds the lock; leave the session alone.
		if lock := t.locks[clientID]; lock != nil {
			if !lock.TryLock() {
				continue
			}
			// Release the orphaned mutex so a racing request that already
			// fetched the pointer is not blocked forever.
			lock.Unlock()
		}
		delete(t.locks, clientID)
		delete(t.lastSeen, clientID)
		evicted = append(evicted, clientID)
	}
	hooks := make([]func(string), len(t.onEvict))
	copy(hooks, t.onEvict)
	t.mu.Unlock()

	for _, clientID := range evicted {
		if err := t.store.Delete(ctx, clientID); err != nil {
			slog.Warn("failed to delete evicted session history", "client_id", clientID, "error", err)
		}
		for _, hook := range hooks {
			hook(clientID)
		}
		slog.Debug("evicted idle session", "client_id", clientID)
	}
	return evicted
}

// ActiveClients reports how many clients currently have session state.
func (t *Tracker) ActiveClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}

// StartSweeper runs EvictIdle on a fixed interval until ctx is cancelled.
// This complements the opportunistic eviction check at the end of each
// request: clients that stop sending requests entirely are still cleaned up.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval, "idle_timeout", t.timeout)

		for {
			select {
			case <-ticker.C:
				if evicted := t.EvictIdle(ctx); len(evicted) > 0 {
					slog.Info("session sweeper evicted idle clients", "count", len(evicted))
				}
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
