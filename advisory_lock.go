package pgcdc

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// defaultLockDuration is applied when a lock request carries no duration or
// a non-positive one.
const defaultLockDuration = 10 * time.Second

// ErrLockNotAcquired is reported to OnReject when another session already
// holds the requested advisory lock.
var ErrLockNotAcquired = NewError(ErrCodeDatabase, "advisory lock is held by another session")

// LockRequest describes one advisory-lock attempt.
type LockRequest struct {
	// Key names the lock. It is hashed to a 31-bit integer with HashKey
	// before being handed to pg_try_advisory_lock.
	Key string

	// Duration is how long the lock is held before the timed release fires.
	// Non-positive or missing durations fall back to 10 seconds.
	Duration time.Duration

	// OnAccept runs after the lock is acquired and the release scheduled.
	// Failures inside OnAccept are not caught here.
	OnAccept func()

	// OnReject, when supplied, receives the acquisition or database error.
	OnReject func(err error)
}

// heldLock is one acquired advisory lock pinned to its own connection.
// Session-level advisory locks must be released on the session that took
// them, so the connection stays checked out until the release fires.
type heldLock struct {
	conn  *sql.Conn
	timer *time.Timer
}

// AdvisoryLocker provides best-effort single-holder locks across instances
// using session-level advisory locks with timed release.
//
// Each acquired lock checks out a dedicated connection from the pool and
// schedules a release after the requested duration. Re-acquiring a key this
// process already holds cancels the pending release and schedules a new one
// instead of taking the lock again.
//
// Thread safety: safe for concurrent use.
type AdvisoryLocker struct {
	db     *sql.DB
	logger Logger

	mu   sync.Mutex
	held map[string]*heldLock
}

// NewAdvisoryLocker creates an advisory locker on the given pool.
func NewAdvisoryLocker(db *sql.DB, logger Logger) *AdvisoryLocker {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &AdvisoryLocker{
		db:     db,
		logger: logger,
		held:   make(map[string]*heldLock),
	}
}

// TryLock attempts a non-blocking advisory lock identified by the hashed
// request key. On acquisition the timed release is scheduled first, then
// OnAccept is invoked. On contention or database error OnReject is invoked
// (when supplied) and TryLock returns normally.
func (l *AdvisoryLocker) TryLock(ctx context.Context, req LockRequest) {
	duration := req.Duration
	if duration <= 0 {
		duration = defaultLockDuration
	}

	l.mu.Lock()
	if existing, ok := l.held[req.Key]; ok {
		// Already held by this process: extend instead of re-acquiring,
		// the session-level lock would block a second connection.
		existing.timer.Stop()
		existing.timer = time.AfterFunc(duration, func() { l.release(req.Key) })
		l.mu.Unlock()
		if req.OnAccept != nil {
			req.OnAccept()
		}
		return
	}
	l.mu.Unlock()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		l.reject(req, NewErrorWithCause(ErrCodeDatabase, "failed to acquire lock connection", err))
		return
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", HashKey(req.Key)).Scan(&acquired); err != nil {
		_ = conn.Close()
		l.reject(req, NewErrorWithCause(ErrCodeDatabase, "advisory lock query failed", err))
		return
	}
	if !acquired {
		_ = conn.Close()
		l.reject(req, ErrLockNotAcquired)
		return
	}

	l.mu.Lock()
	l.held[req.Key] = &heldLock{
		conn:  conn,
		timer: time.AfterFunc(duration, func() { l.release(req.Key) }),
	}
	l.mu.Unlock()

	if req.OnAccept != nil {
		req.OnAccept()
	}
}

// reject invokes req.OnReject with err when a callback was supplied.
func (l *AdvisoryLocker) reject(req LockRequest, err error) {
	if req.OnReject != nil {
		req.OnReject(err)
	}
}

// release unlocks and returns the connection for a held key. Lost
// connections only surface as warnings here.
func (l *AdvisoryLocker) release(key string) {
	l.mu.Lock()
	lock, ok := l.held[key]
	if ok {
		delete(l.held, key)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	lock.timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var released bool
	if err := lock.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", HashKey(key)).Scan(&released); err != nil {
		l.logger.Warnf("Failed to release advisory lock %q: %v", key, err)
	} else if !released {
		l.logger.Warnf("Advisory lock %q was not held at release time", key)
	}

	if err := lock.conn.Close(); err != nil {
		l.logger.Warnf("Failed to return advisory lock connection for %q: %v", key, err)
	}
}

// Close releases every lock still held by this process. Call during
// teardown.
func (l *AdvisoryLocker) Close() {
	l.mu.Lock()
	keys := make([]string, 0, len(l.held))
	for key := range l.held {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	for _, key := range keys {
		l.release(key)
	}
}
