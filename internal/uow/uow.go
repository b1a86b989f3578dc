// Package uow demarcates the atomic scope around a balance mutation: every
// write staged inside a unit of work either commits as a whole or is undone,
// and every lock attached to it is released exactly once on every exit path.
package uow

import "sync"

// UnitOfWork collects undo actions for staged writes and release actions for
// held locks. Commit drops the undo log; Rollback replays it in LIFO order.
// Releases run on both paths. Both are idempotent so the engine can
// `defer u.Rollback()` and still commit explicitly.
type UnitOfWork struct {
	mu       sync.Mutex
	undo     []func()
	releases []func()
	done     bool
}

// Begin starts a new unit of work.
func Begin() *UnitOfWork {
	return &UnitOfWork{}
}

// OnRollback registers an undo action for a write staged in this unit of work.
func (u *UnitOfWork) OnRollback(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.undo = append(u.undo, fn)
}

// Defer registers a release action (typically a lock release) that runs on
// commit and rollback alike.
func (u *UnitOfWork) Defer(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.releases = append(u.releases, fn)
}

// Commit ends the unit of work keeping all staged writes, then releases locks.
func (u *UnitOfWork) Commit() {
	u.finish(false)
}

// Rollback undoes all staged writes in reverse order, then releases locks.
// Calling it after Commit is a no-op.
func (u *UnitOfWork) Rollback() {
	u.finish(true)
}

func (u *UnitOfWork) finish(rollback bool) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return
	}
	u.done = true
	undo := u.undo
	releases := u.releases
	u.undo = nil
	u.releases = nil
	u.mu.Unlock()

	if rollback {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
