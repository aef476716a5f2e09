// Package pyramid implements the tile pyramid: a bounded cache of map tiles
// across zoom levels together with each tile's load lifecycle.
//
// Design
//
//   - Ownership: the pyramid exclusively owns its tiles, keyed by coordinate
//     id. Exactly one tile exists per id; once a tile is Removed the pyramid
//     forgets it and callbacks must not keep it.
//
//   - Retained set: Retain declares the coordinates the viewport needs. Those
//     tiles are never evicted. Everything else cached is surplus, bounded by
//     Options.CacheSize and evicted least recently used first.
//
//   - Lifecycle: Idle -> Loading -> {Loaded, Errored} -> Unloading -> Removed.
//     Loads are started through Callbacks.Load and finished through the
//     Completion handed to it. Only one load per id is ever in flight.
//     Errored tiles stay cached so persistent failures are not refetched.
//
//   - Cancellation: dropping a Loading coordinate from the retained set calls
//     Callbacks.Abort and removes the tile at once. The Completion of the
//     aborted load is bound to the old tile object, so its late result is
//     discarded even if the id has been reassigned to a new tile since.
//
//   - Overscaling: coordinates deeper than MaxZoom are served by their MaxZoom
//     ancestor (unless ReparseOverscaled). TileAt falls back to ancestors and
//     reports the scale factor.
//
//   - Policies: the access order is maintained by a policy.Policy bound to the
//     pyramid's intrusive MRU<->LRU list; LRU is the default.
//
// Basic usage
//
//	p := pyramid.New(pyramid.Options{
//	    MaxZoom: 14,
//	    Callbacks: pyramid.Callbacks{
//	        Load: func(t *pyramid.Tile, c pyramid.Completion) {
//	            go fetch(t.Coord, func(data []byte, err error) {
//	                loop.Post(func() { c.Done(data, err) })
//	            })
//	        },
//	    },
//	})
//	p.Retain([]coord.Coord{coord.New(0, 0, 0, 0)})
//	if r, ok := p.TileAt(coord.Point{Column: 0.5, Row: 0.5}); ok {
//	    _ = r.Tile.Payload
//	}
//
// Thread-safety
//
// A Pyramid is not safe for concurrent use. Drive it, and deliver every
// Completion, from a single goroutine such as a loop.Loop.
package pyramid
