package pyramid

import (
	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/policy"
)

const (
	DefaultCacheSize  = 20
	DefaultTileSize   = 512
	DefaultTileExtent = 4096
)

// Callbacks are the hooks through which the owning source performs tile I/O
// and bookkeeping. They are invoked synchronously on the goroutine that
// drives the pyramid and must not block.
type Callbacks struct {
	// Load starts fetching t. The result must be reported through c.Done
	// on the pyramid's goroutine. Required.
	Load func(t *Tile, c Completion)
	// Abort cancels an in-flight load. The pyramid has already forgotten the
	// tile; whatever the load later reports is discarded.
	Abort func(t *Tile)
	// Unload releases resources of a loaded (or errored) tile being evicted.
	Unload func(t *Tile)
	// Add and Remove are called on admission and removal.
	Add    func(t *Tile)
	Remove func(t *Tile)
	// RedoPlacement re-runs label placement for a tile without refetching.
	RedoPlacement func(t *Tile)
}

// Options configures a Pyramid. Zero values are safe; New applies defaults:
//   - CacheSize == 0   => DefaultCacheSize (negative => no surplus is kept)
//   - TileSize  <= 0   => DefaultTileSize
//   - TileExtent <= 0  => DefaultTileExtent
//   - nil Policy       => LRU
//   - nil Metrics      => NoopMetrics
//   - nil Logger       => logger.Nop()
type Options struct {
	// CacheSize bounds the number of tiles kept beyond the retained set.
	CacheSize int

	// MinZoom and MaxZoom bound the zooms the source has data for.
	// Deeper requests are served by overscaling MaxZoom tiles.
	MinZoom int
	MaxZoom int

	TileSize   int
	TileExtent int

	// RoundZoom rounds fractional query zooms instead of flooring them.
	RoundZoom bool
	// ReparseOverscaled keeps a separate tile per coordinate deeper than
	// MaxZoom instead of sharing the MaxZoom ancestor.
	ReparseOverscaled bool

	// Index, when non-nil, lists the tiles the source actually has.
	Index Index

	Callbacks Callbacks

	Policy  policy.Policy[coord.ID]
	Metrics Metrics
	Logger  logger.Logger
}
