// Package lock provides keyed in-process locking. The court queue uses it
// to serialize local mutations on the same game; cross-process safety comes
// from conditional writes in the store, not from these locks.
package lock

import (
	"context"
	"sync"
	"time"
)

// slot is a one-token semaphore shared by every holder and waiter of a key.
// refs counts them so the slot can be dropped once the key goes idle.
type slot struct {
	token chan struct{}
	refs  int
}

// KeyedLock provides one lock per int64 key, typically a game id.
type KeyedLock struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{slots: make(map[int64]*slot)}
}

// acquireRef returns the slot for key and registers the caller on it.
func (kl *KeyedLock) acquireRef(key int64) *slot {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s, ok := kl.slots[key]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		kl.slots[key] = s
	}
	s.refs++
	return s
}

// releaseRef drops the caller's registration and forgets an idle key.
func (kl *KeyedLock) releaseRef(key int64, s *slot) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(kl.slots, key)
	}
}

// Lock acquires the lock for a key.
func (kl *KeyedLock) Lock(key int64) {
	s := kl.acquireRef(key)
	s.token <- struct{}{}
}

// Unlock releases the lock for a key. Unlocking a key that is not held is
// a no-op.
func (kl *KeyedLock) Unlock(key int64) {
	kl.mu.Lock()
	s, ok := kl.slots[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-s.token:
		kl.releaseRef(key, s)
	default:
	}
}

// TryLock acquires the lock only if it is free.
func (kl *KeyedLock) TryLock(key int64) bool {
	s := kl.acquireRef(key)
	select {
	case s.token <- struct{}{}:
		return true
	default:
		kl.releaseRef(key, s)
		return false
	}
}

// LockWithTimeout waits up to timeout, or until ctx is done, for the lock.
func (kl *KeyedLock) LockWithTimeout(ctx context.Context, key int64, timeout time.Duration) bool {
	s := kl.acquireRef(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.token <- struct{}{}:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	kl.releaseRef(key, s)
	return false
}

// WithLock executes a function while holding the key's lock.
func (kl *KeyedLock) WithLock(key int64, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the key's lock. It fails with
// ErrLockTimeout when the lock is not acquired in time, and with ctx.Err()
// when ctx ends first.
func (kl *KeyedLock) WithLockContext(ctx context.Context, key int64, timeout time.Duration, fn func() error) error {
	if !kl.LockWithTimeout(ctx, key, timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrLockTimeout
	}
	defer kl.Unlock(key)
	return fn()
}

// IsLocked reports whether a key is currently held. The answer may be stale
// by the time the caller acts on it.
func (kl *KeyedLock) IsLocked(key int64) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	s, ok := kl.slots[key]
	return ok && len(s.token) == 1
}

// Keys returns the number of keys currently held or waited on.
func (kl *KeyedLock) Keys() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.slots)
}
