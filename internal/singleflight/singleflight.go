package singleflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent calls for the same key K so fn runs at most
// once at a time per key; every caller gets the shared result.
//
// Unlike a plain singleflight, the shared call is cancelable: fn receives a
// context that is canceled once every caller waiting on it has given up.
// A caller whose ctx ends returns ctx.Err() without waiting for fn.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done    chan struct{} // closed when val/err are published
	val     V
	err     error
	waiters int // guarded by Group.mu
	cancel  context.CancelFunc
}

// Do runs fn once for key and returns its result. shared reports whether
// the result was produced for more than one caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	c, ok := g.m[key]
	if !ok {
		// Leader: the work outlives this caller as long as others wait.
		workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call[V]{done: make(chan struct{}), cancel: cancel}
		g.m[key] = c
		go g.run(workCtx, key, c, fn)
	}
	c.waiters++
	g.mu.Unlock()

	select {
	case <-c.done:
		g.mu.Lock()
		shared = c.waiters > 1
		g.mu.Unlock()
		return c.val, shared, c.err
	case <-ctx.Done():
		g.leave(key, c)
		var zero V
		return zero, false, ctx.Err()
	}
}

// Inflight returns the number of keys with a running call.
func (g *Group[K, V]) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *call[V], fn func(context.Context) (V, error)) {
	v, err := fn(ctx)

	// Publish the result and wake waiters; publishing happens-before close.
	c.val, c.err = v, err
	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)
	c.cancel()
}

// leave drops one waiter; the last one out cancels the work and unpublishes
// the key so a later caller starts fresh.
func (g *Group[K, V]) leave(key K, c *call[V]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.waiters--
	if c.waiters > 0 {
		return
	}
	if g.m[key] == c {
		delete(g.m, key)
	}
	c.cancel()
}
