package wecom

import (
	"strings"
	"sync"
	"time"
)

// lockEntry is one live execution lock: whichever msg_id currently owns a
// given execution_scope, and when that ownership lapses absent an explicit
// release.
type lockEntry struct {
	ownerMsgID string
	streamID   string
	expiresAt  time.Time
}

// LockTable serialises turns within a single execution_scope: for a fixed
// scope, at most one turn runs at a time. Acquisition is CAS-like — it
// succeeds only when no live lock is held.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	timeout time.Duration
}

// NewLockTable builds a LockTable whose locks expire after timeout, clamped
// to a minimum of 30s per the gateway's concurrency invariant.
func NewLockTable(timeout time.Duration) *LockTable {
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	return &LockTable{entries: make(map[string]*lockEntry), timeout: timeout}
}

// TryAcquire prunes every expired entry, then inserts a new lock for scope
// iff none is currently held. Returns false when the scope is already busy.
func (t *LockTable) TryAcquire(scope, msgID, streamID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.pruneLocked(now)

	if _, busy := t.entries[scope]; busy {
		return false
	}

	t.entries[scope] = &lockEntry{
		ownerMsgID: msgID,
		streamID:   streamID,
		expiresAt:  now.Add(t.timeout),
	}
	return true
}

// Release removes scope's lock, but only if msgID is the current owner —
// a late release from a superseded task must not clobber a newer lock.
func (t *LockTable) Release(scope, msgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[scope]; ok && e.ownerMsgID == msgID {
		delete(t.entries, scope)
	}
}

// ForceRelease removes scope's lock unconditionally. Used by the "stop"
// signal path, where the existing owner is being aborted, not completing
// normally.
func (t *LockTable) ForceRelease(scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, scope)
}

// Owner reports the current lock holder for scope, if any.
func (t *LockTable) Owner(scope string) (msgID, streamID string, held bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(time.Now())
	e, ok := t.entries[scope]
	if !ok {
		return "", "", false
	}
	return e.ownerMsgID, e.streamID, true
}

// Sweep prunes expired locks; called from the periodic cleanup cadence.
func (t *LockTable) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(time.Now())
}

func (t *LockTable) pruneLocked(now time.Time) {
	for scope, e := range t.entries {
		if !e.expiresAt.After(now) {
			delete(t.entries, scope)
		}
	}
}

// InflightTask is a live turn's cancellation handle, kept alongside the
// execution lock so a "stop" signal can abort the running task before
// force-releasing the lock.
type InflightTask struct {
	OwnerMsgID string
	StreamID   string
	ExpiresAt  time.Time
	Cancel     func()
}

// InflightRegistry maps execution_scope to the InflightTask currently
// running for it, if any.
type InflightRegistry struct {
	mu    sync.Mutex
	tasks map[string]*InflightTask
}

// NewInflightRegistry builds an empty registry.
func NewInflightRegistry() *InflightRegistry {
	return &InflightRegistry{tasks: make(map[string]*InflightTask)}
}

// Start registers a new inflight task for scope, replacing any stale entry.
func (r *InflightRegistry) Start(scope, msgID, streamID string, ttl time.Duration, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[scope] = &InflightTask{
		OwnerMsgID: msgID,
		StreamID:   streamID,
		ExpiresAt:  time.Now().Add(ttl),
		Cancel:     cancel,
	}
}

// Stop cancels and removes scope's inflight task, if any. The cancel
// function is invoked outside the lock so a slow cancellation callback
// never blocks other scopes.
func (r *InflightRegistry) Stop(scope string) bool {
	r.mu.Lock()
	task, ok := r.tasks[scope]
	if ok {
		delete(r.tasks, scope)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if task.Cancel != nil {
		task.Cancel()
	}
	return true
}

// Finish removes scope's inflight task without cancelling it — the normal
// completion path, where the task already finished on its own.
func (r *InflightRegistry) Finish(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, scope)
}

// Sweep drops inflight entries past their TTL without cancelling them —
// a stuck task is better surfaced by its own timeout than silently killed
// by the sweeper.
func (r *InflightRegistry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for scope, task := range r.tasks {
		if !task.ExpiresAt.After(now) {
			delete(r.tasks, scope)
		}
	}
}

// IsStopSignal reports whether text carries WeCom's stop keyword, either the
// Chinese "停止" or a case-insensitive "stop".
func IsStopSignal(text string) bool {
	return strings.Contains(text, "停止") || strings.Contains(strings.ToLower(text), "stop")
}
