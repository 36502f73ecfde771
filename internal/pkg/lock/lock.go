// Package lock provides in-process per-user mutual exclusion.
package lock

import (
	"context"
	"sync"
)

// userMutex is a mutex shared by every caller waiting on the same user.
// waiters counts holders plus callers blocked on it, and is guarded by UserLock.mu.
type userMutex struct {
	ch      chan struct{}
	waiters int
}

// UserLock serializes work per user id. Entries are dropped once nobody
// holds or waits on them, so memory tracks active users only.
type UserLock struct {
	mu    sync.Mutex
	locks map[int64]*userMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[int64]*userMutex)}
}

func (ul *UserLock) acquireRef(userID int64) *userMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m, ok := ul.locks[userID]
	if !ok {
		m = &userMutex{ch: make(chan struct{}, 1)}
		ul.locks[userID] = m
	}
	m.waiters++
	return m
}

func (ul *UserLock) releaseRef(userID int64, m *userMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m.waiters--
	if m.waiters == 0 {
		delete(ul.locks, userID)
	}
}

// Lock blocks until the user's lock is held or ctx is done.
func (ul *UserLock) Lock(ctx context.Context, userID int64) error {
	m := ul.acquireRef(userID)

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.releaseRef(userID, m)
		return ctx.Err()
	}
}

// TryLock acquires the user's lock without blocking.
func (ul *UserLock) TryLock(userID int64) bool {
	m := ul.acquireRef(userID)

	select {
	case m.ch <- struct{}{}:
		return true
	default:
		ul.releaseRef(userID, m)
		return false
	}
}

// Unlock releases the user's lock. Unlocking a user that is not locked panics,
// like sync.Mutex.
func (ul *UserLock) Unlock(userID int64) {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked user")
	}

	select {
	case <-m.ch:
	default:
		panic("lock: unlock of unlocked user")
	}
	ul.releaseRef(userID, m)
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(ctx context.Context, userID int64, fn func() error) error {
	if err := ul.Lock(ctx, userID); err != nil {
		return err
	}
	defer ul.Unlock(userID)
	return fn()
}

// Len returns the number of users with a holder or waiter.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
