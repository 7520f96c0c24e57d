// Package lock provides keyed in-process locks that serialize work on the same
// match or account. Keys are plain strings such as "match:<id>".
package lock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// keyMutex is a one-slot semaphore with a reference count for cleanup.
type keyMutex struct {
	sem  chan struct{}
	refs int
}

// KeyedLock hands out one mutex per key and forgets keys nobody holds or waits on.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyMutex)}
}

// MatchKey returns the lock key for a match.
func MatchKey(id string) string { return "match:" + id }

// AccountKey returns the lock key for an account.
func AccountKey(id string) string { return "account:" + id }

// acquire registers interest in key and returns its mutex.
func (kl *KeyedLock) acquire(key string) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{sem: make(chan struct{}, 1)}
		kl.locks[key] = m
	}
	m.refs++
	return m
}

// release drops interest in key, deleting it once unused.
func (kl *KeyedLock) release(key string, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires the lock for key, blocking until it is free.
func (kl *KeyedLock) Lock(key string) {
	m := kl.acquire(key)
	m.sem <- struct{}{}
}

// Unlock releases the lock for key. Unlocking a key that is not held is a no-op.
func (kl *KeyedLock) Unlock(key string) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-m.sem:
		kl.release(key, m)
	default:
	}
}

// TryLock attempts to acquire the lock without blocking.
func (kl *KeyedLock) TryLock(key string) bool {
	m := kl.acquire(key)
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		kl.release(key, m)
		return false
	}
}

// LockContext acquires the lock for key, giving up when ctx is done or
// timeout elapses. A zero timeout waits for ctx only.
func (kl *KeyedLock) LockContext(ctx context.Context, key string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m := kl.acquire(key)
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		kl.release(key, m)
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLock executes a function while holding the lock for key.
func (kl *KeyedLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the lock for key.
func (kl *KeyedLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	return kl.WithLocks(ctx, []string{key}, timeout, fn)
}

// WithLocks acquires every key in sorted order, runs fn, then releases them.
// Sorting gives all callers the same acquisition order, so two callers that
// share keys cannot deadlock each other.
func (kl *KeyedLock) WithLocks(ctx context.Context, keys []string, timeout time.Duration, fn func() error) error {
	ordered := dedupeSorted(keys)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	held := make([]string, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			kl.Unlock(held[i])
		}
	}()

	for _, key := range ordered {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return ErrLockTimeout
			}
		}
		if err := kl.LockContext(ctx, key, remaining); err != nil {
			return err
		}
		held = append(held, key)
	}

	return fn()
}

// IsLocked checks if key is currently held.
// This is a point-in-time check and may change immediately after.
func (kl *KeyedLock) IsLocked(key string) bool {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return false
	}
	return len(m.sem) == 1
}

// Size returns the number of keys currently tracked.
func (kl *KeyedLock) Size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
