// Package locker makes concurrent multi-account mutation deadlock-free.
//
// Each account has one exclusive row lock. The Coordinator acquires locks in
// ascending account-id order regardless of transfer direction, so two
// transfers touching the same pair in opposite directions request their locks
// in the same physical order and no cycle of waiters can form. Transfers on
// disjoint pairs proceed fully concurrently.
package locker

import (
	"context"
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/uow"
)

// DefaultWait is the lock-wait bound used when none is configured, matching
// the lock timeout of the storage engine this design replaced.
const DefaultWait = time.Second

// rowLock is a per-account exclusive lock. The buffered channel form lets an
// acquire honor both a wait bound and context cancellation; sync.Mutex can do
// neither.
type rowLock struct {
	ch chan struct{}
}

func newRowLock() *rowLock {
	return &rowLock{ch: make(chan struct{}, 1)}
}

func (l *rowLock) acquire(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.Errf(domain.KindLockTimeout, "lock not acquired within %s", wait)
	}
}

func (l *rowLock) release() {
	select {
	case <-l.ch:
	default:
		// Releasing an unheld lock is a programming error; make it loud in
		// tests rather than silently corrupting lock state.
		panic("locker: release of unheld row lock")
	}
}

// Table holds the row locks, one per account id, created on first use.
// The map guard is a deadlock-detecting RWMutex so an ordering-rule bypass
// shows up during development instead of hanging in production.
type Table struct {
	mu    deadlock.RWMutex
	locks map[string]*rowLock
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{locks: make(map[string]*rowLock)}
}

func (t *Table) row(id string) *rowLock {
	t.mu.RLock()
	l, ok := t.locks[id]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok = t.locks[id]; ok {
		return l
	}
	l = newRowLock()
	t.locks[id] = l
	return l
}

// Coordinator acquires account locks in canonical order with a bounded wait
// and scopes every acquisition to a unit of work, so release is guaranteed on
// commit, rollback, and panic-unwind paths alike.
type Coordinator struct {
	table *Table
	wait  time.Duration
}

// NewCoordinator builds a coordinator over the given table. A non-positive
// wait falls back to DefaultWait.
func NewCoordinator(table *Table, wait time.Duration) *Coordinator {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Coordinator{table: table, wait: wait}
}

// Wait returns the configured lock-wait bound.
func (c *Coordinator) Wait() time.Duration { return c.wait }

// Acquire takes the exclusive locks for the given account ids in ascending id
// order, deduplicating so a self-transfer takes its single lock exactly once.
// Releases are registered on u and run when the unit of work ends. If any
// acquisition times out or ctx is canceled, locks already taken are released
// before the error returns.
func (c *Coordinator) Acquire(ctx context.Context, u *uow.UnitOfWork, ids ...string) error {
	ordered := canonicalize(ids)

	held := make([]*rowLock, 0, len(ordered))
	for _, id := range ordered {
		l := c.table.row(id)
		if err := l.acquire(ctx, c.wait); err != nil {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].release()
			}
			if ctx.Err() != nil {
				return domain.WrapErr(domain.KindLockTimeout, ctx.Err(), "lock wait on account %s aborted", id)
			}
			return domain.WrapErr(domain.KindLockTimeout, err, "account %s is locked by another operation", id)
		}
		held = append(held, l)
	}

	for _, l := range held {
		u.Defer(l.release)
	}
	return nil
}

// canonicalize sorts ids ascending and drops duplicates. This total order is
// the deadlock-avoidance mechanism.
func canonicalize(ids []string) []string {
	ordered := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}
