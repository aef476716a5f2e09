package pyramid

import "github.com/IvanBrykalov/tilecache/coord"

// Index is the set of tiles a sparse source actually has, keyed by the
// world-0 coordinate id. Requests for missing tiles are redirected to the
// deepest listed ancestor.
type Index map[coord.ID]struct{}

// NewIndex builds an Index from coordinates; their wraps are ignored.
func NewIndex(coords []coord.Coord) Index {
	idx := make(Index, len(coords))
	for _, c := range coords {
		idx[c.Unwrapped().ID()] = struct{}{}
	}
	return idx
}

// Has reports whether the index lists c (in any world copy).
func (idx Index) Has(c coord.Coord) bool {
	_, ok := idx[c.Unwrapped().ID()]
	return ok
}
