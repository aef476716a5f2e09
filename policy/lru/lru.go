// Package lru implements the least-recently-used ordering policy.
package lru

import "github.com/IvanBrykalov/tilecache/policy"

// lru is the classic move-to-front policy. New tiles and touched tiles go to
// MRU, so the LRU end holds the oldest untouched tile; tiles admitted in the
// same retain call keep their admission order.
type lru[K comparable] struct {
	h policy.Hooks[K]
}

type lruPolicy[K comparable] struct{}

// New returns a Policy factory for LRU instances.
func New[K comparable]() policy.Policy[K] { return lruPolicy[K]{} }

func (lruPolicy[K]) New(h policy.Hooks[K]) policy.Instance[K] {
	return &lru[K]{h: h}
}

// OnAdd places the new tile at MRU. LRU never proposes an eviction itself;
// the pyramid enforces its cache bound.
func (p *lru[K]) OnAdd(n policy.Node[K]) (evict policy.Node[K]) {
	p.h.PushFront(n)
	return nil
}

func (p *lru[K]) OnAccess(n policy.Node[K]) { p.h.MoveToFront(n) }

func (p *lru[K]) OnRemove(n policy.Node[K]) { p.h.Remove(n) }
