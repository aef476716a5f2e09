package pyramid

import (
	"sync/atomic"

	"github.com/IvanBrykalov/tilecache/coord"
)

// State is a tile's position in its load lifecycle:
//
//	Idle -> Loading -> {Loaded, Errored} -> Unloading -> Removed
//
// Loading tiles that are aborted go straight to Removed.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateErrored
	StateUnloading
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	case StateUnloading:
		return "unloading"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NoWorker is the WorkerID of a tile that has not been assigned a worker.
const NoWorker = -1

// Tile is one cached unit of map data. The pyramid owns it until it is
// Removed; after that nobody else may hold on to it.
//
// Fields other than the intrusive links may be read by callbacks. Load may set
// WorkerID before it returns; Payload, Err and State are written by the
// pyramid when the load completes.
type Tile struct {
	ID         coord.ID
	Coord      coord.Coord
	State      State
	Payload    any
	Err        error
	WorkerID   int
	TileExtent int
	// UID is unique across all pyramids in the process; workers key their
	// per-tile state by it.
	UID uint64

	// Intrusive list links: head is MRU, tail is LRU.
	prev *Tile
	next *Tile
}

// Key implements policy.Node.
func (t *Tile) Key() coord.ID { return t.ID }

// Loaded reports whether the tile holds usable data.
func (t *Tile) Loaded() bool { return t.State == StateLoaded }

var lastUID atomic.Uint64

func nextUID() uint64 { return lastUID.Add(1) }
