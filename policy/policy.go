// Package policy defines how a tile pyramid orders its resident tiles for
// eviction. The pyramid owns the tiles and an intrusive MRU->LRU list; a
// policy only decides where in that list a tile goes when it is admitted or
// touched.
package policy

// Node is the minimal contract a cached entry satisfies for a policy.
type Node[K comparable] interface {
	Key() K
}

// Hooks expose O(1) list operations on the pyramid's MRU->LRU list.
// Hooks manage only the list; the pyramid owns the key->tile map.
type Hooks[K comparable] interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node[K])
	// PushFront inserts the node at MRU (used on admission).
	PushFront(Node[K])
	// Remove detaches the node from the list.
	Remove(Node[K])
	// Back returns the current LRU node (or nil if empty).
	Back() Node[K]
	// Len returns the number of resident nodes.
	Len() int
}

// Instance is a policy bound to one pyramid's hooks.
//
// Semantics:
//   - OnAdd places a newly admitted node. It may return an eviction
//     candidate; the pyramid evicts it only if the candidate is not retained.
//   - OnAccess is called whenever a tile is returned by a lookup or
//     re-retained.
//   - OnRemove notifies the policy that the pyramid dropped the node.
type Instance[K comparable] interface {
	OnAdd(Node[K]) (evict Node[K])
	OnAccess(Node[K])
	OnRemove(Node[K])
}

// Policy is a factory binding a fresh Instance to a pyramid's hooks.
type Policy[K comparable] interface {
	New(Hooks[K]) Instance[K]
}
