// Package lock provides the per-task lock registry and the daemon process lock.
package lock

import (
	"context"
	"sync"
)

// Registry serializes operations on a per-key basis. Waiters for the same key
// acquire in FIFO order; different keys never block each other. A key with no
// holder and no waiters occupies no memory.
type Registry struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	held    bool
	waiters []chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		keys: make(map[string]*keyState),
	}
}

// Acquire blocks until the key is exclusively held or ctx is done. On success
// the returned release function must be called exactly once.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	ks, ok := r.keys[key]
	if !ok {
		ks = &keyState{}
		r.keys[key] = ks
	}
	if !ks.held {
		ks.held = true
		r.mu.Unlock()
		return func() { r.release(key) }, nil
	}

	grant := make(chan struct{})
	ks.waiters = append(ks.waiters, grant)
	r.mu.Unlock()

	select {
	case <-grant:
		return func() { r.release(key) }, nil
	case <-ctx.Done():
		r.abandon(key, grant)
		return nil, ctx.Err()
	}
}

// WithLock runs fn while exclusively holding key.
func (r *Registry) WithLock(ctx context.Context, key string, fn func() error) error {
	release, err := r.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Len reports how many keys are currently held or waited on.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(key)
}

// releaseLocked hands the key to the oldest waiter, or forgets the key when
// nobody is waiting. Callers must hold r.mu.
func (r *Registry) releaseLocked(key string) {
	ks := r.keys[key]
	if ks == nil {
		return
	}
	if len(ks.waiters) > 0 {
		grant := ks.waiters[0]
		ks.waiters = ks.waiters[1:]
		close(grant)
		return
	}
	delete(r.keys, key)
}

// abandon removes a cancelled waiter. If the grant raced the cancellation the
// waiter already owns the key and must pass it on.
func (r *Registry) abandon(key string, grant chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ks := r.keys[key]
	if ks == nil {
		return
	}
	for i, w := range ks.waiters {
		if w == grant {
			ks.waiters = append(ks.waiters[:i], ks.waiters[i+1:]...)
			return
		}
	}
	r.releaseLocked(key)
}
