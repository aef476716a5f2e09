package pyramid

import (
	"fmt"
	"slices"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/policy"
	"github.com/IvanBrykalov/tilecache/policy/lru"
)

// Pyramid is a bounded cache of tiles across zoom levels for one source.
//
// It keeps every tile of the retained set plus at most CacheSize others,
// evicting the least recently used surplus. A Pyramid is not safe for
// concurrent use: all methods, callbacks and completions run on the one
// goroutine that owns it.
type Pyramid struct {
	opt Options
	cb  Callbacks
	log logger.Logger

	tiles map[coord.ID]*Tile
	head  *Tile // MRU
	tail  *Tile // LRU
	len   int

	pol policy.Instance[coord.ID]

	// retained holds the data ids of the current retained set, in the order
	// they were requested; requested is the deduplicated request itself.
	retained   map[coord.ID]struct{}
	retainedID []coord.ID
	requested  []coord.Coord
}

// New constructs a pyramid. It panics on a nil Load callback or an invalid
// zoom range, both programming errors.
func New(opt Options) *Pyramid {
	if opt.Callbacks.Load == nil {
		panic("pyramid: Callbacks.Load is required")
	}
	if opt.MinZoom < 0 || opt.MinZoom > opt.MaxZoom || opt.MaxZoom > coord.MaxZoom {
		panic(fmt.Sprintf("pyramid: invalid zoom range [%d, %d]", opt.MinZoom, opt.MaxZoom))
	}
	if opt.CacheSize == 0 {
		opt.CacheSize = DefaultCacheSize
	} else if opt.CacheSize < 0 {
		opt.CacheSize = 0
	}
	if opt.TileSize <= 0 {
		opt.TileSize = DefaultTileSize
	}
	if opt.TileExtent <= 0 {
		opt.TileExtent = DefaultTileExtent
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[coord.ID]()
	}

	p := &Pyramid{
		opt:      opt,
		cb:       opt.Callbacks,
		log:      logger.OrNop(opt.Logger),
		tiles:    make(map[coord.ID]*Tile),
		retained: make(map[coord.ID]struct{}),
	}
	p.pol = opt.Policy.New(listHooks{p: p})
	return p
}

// Options returns the effective options (defaults applied).
func (p *Pyramid) Options() Options { return p.opt }

// Retain declares the coordinates currently needed.
//
// Newly needed coordinates that are not cached get a Loading tile and a
// load callback; in-flight loads no longer needed are aborted and removed
// at once; loaded tiles that drop out of the set stay cached, subject to
// the CacheSize bound on the non-retained surplus. Deeper-than-MaxZoom
// coordinates are served by their MaxZoom ancestor unless ReparseOverscaled
// is set. Calling Retain twice with the same set issues no callbacks.
func (p *Pyramid) Retain(coords []coord.Coord) {
	want := make(map[coord.ID]struct{}, len(coords))
	order := make([]coord.ID, 0, len(coords))
	requested := make([]coord.Coord, 0, len(coords))
	seen := make(map[coord.Coord]struct{}, len(coords))

	for _, c := range coords {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}

		d, ok := p.dataCoord(c)
		if !ok {
			p.log.Debug("pyramid: coordinate has no data", "coord", c.String())
			continue
		}
		requested = append(requested, c)
		id := d.ID()
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		order = append(order, id)
	}

	// Abort loads that are no longer wanted, in the order they were retained.
	for _, id := range p.retainedID {
		if _, ok := want[id]; ok {
			continue
		}
		if t := p.tiles[id]; t != nil && t.State == StateLoading {
			p.abort(t)
		}
	}

	// The new set is in place before admitting so a policy cannot evict a
	// tile this call asked for.
	p.retained = want
	p.retainedID = order
	p.requested = requested

	for _, id := range order {
		if t, ok := p.tiles[id]; ok {
			p.pol.OnAccess(t)
			continue
		}
		p.admit(id.Coord())
	}

	p.enforceLimit()
}

// Tile returns the tile cached under id, or nil. A hit counts as a use.
func (p *Pyramid) Tile(id coord.ID) *Tile {
	t, ok := p.tiles[id]
	if !ok {
		p.opt.Metrics.Miss()
		return nil
	}
	p.pol.OnAccess(t)
	p.opt.Metrics.Hit()
	return t
}

// Len returns the number of cached tiles, retained or not.
func (p *Pyramid) Len() int { return p.len }

// RetainedLen returns the number of tiles in the retained set.
func (p *Pyramid) RetainedLen() int { return len(p.retained) }

// IsRetained reports whether id belongs to the retained set.
func (p *Pyramid) IsRetained(id coord.ID) bool {
	_, ok := p.retained[id]
	return ok
}

// OrderedIDs returns every cached tile id, least recently used first.
func (p *Pyramid) OrderedIDs() []coord.ID {
	ids := make([]coord.ID, 0, p.len)
	for t := p.tail; t != nil; t = t.prev {
		ids = append(ids, t.ID)
	}
	return ids
}

// RenderedIDs returns the loaded tiles that serve the retained set, either
// exactly or as an overscale (or index) ancestor, in ascending id order,
// which puts shallower zooms first.
func (p *Pyramid) RenderedIDs() []coord.ID {
	ids := make([]coord.ID, 0, len(p.retainedID))
	for _, id := range p.retainedID {
		if t := p.tiles[id]; t != nil && t.State == StateLoaded {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Requested returns the coordinates of the last Retain call that the
// pyramid could serve.
func (p *Pyramid) Requested() []coord.Coord { return slices.Clone(p.requested) }

// RedoPlacement calls the RedoPlacement callback for every cached tile in
// OrderedIDs order. It never refetches and is a no-op without a callback.
func (p *Pyramid) RedoPlacement() {
	if p.cb.RedoPlacement == nil {
		return
	}
	for _, id := range p.OrderedIDs() {
		if t := p.tiles[id]; t != nil {
			p.cb.RedoPlacement(t)
		}
	}
}

// Clear drops every tile: in-flight loads are aborted, the rest unloaded.
func (p *Pyramid) Clear() {
	for _, id := range p.OrderedIDs() {
		t := p.tiles[id]
		if t.State == StateLoading {
			p.abort(t)
			continue
		}
		p.evict(t, EvictClear)
	}
	p.retained = make(map[coord.ID]struct{})
	p.retainedID = nil
	p.requested = nil
	p.opt.Metrics.Size(p.len, 0)
}

// -------------------- internals --------------------

// dataCoord maps a requested coordinate to the coordinate whose tile holds
// its data.
func (p *Pyramid) dataCoord(c coord.Coord) (coord.Coord, bool) {
	if !c.Valid() || c.Z < p.opt.MinZoom {
		return coord.Coord{}, false
	}
	if !p.opt.ReparseOverscaled {
		c = coord.OverscaleAncestor(c, p.opt.MaxZoom)
	}
	if p.opt.Index == nil {
		return c, true
	}
	for a := c; a.Z >= p.opt.MinZoom; a = a.Parent() {
		if p.opt.Index.Has(a.Ancestor(min(a.Z, p.opt.MaxZoom))) {
			return a, true
		}
		if a.Z == 0 {
			break
		}
	}
	return coord.Coord{}, false
}

// admit creates a Loading tile for c and starts its load.
func (p *Pyramid) admit(c coord.Coord) {
	t := &Tile{
		ID:         c.ID(),
		Coord:      c,
		State:      StateLoading,
		WorkerID:   NoWorker,
		TileExtent: p.opt.TileExtent,
		UID:        nextUID(),
	}
	p.tiles[t.ID] = t
	if ev := p.pol.OnAdd(t); ev != nil {
		if victim := ev.(*Tile); victim != t && !p.IsRetained(victim.ID) {
			p.evict(victim, EvictCapacity)
		}
	}

	p.log.Debug("pyramid: loading tile", "coord", c.String(), "uid", t.UID)
	p.opt.Metrics.LoadStarted()
	p.cb.Load(t, Completion{p: p, tile: t})
	if p.cb.Add != nil {
		p.cb.Add(t)
	}
}

// abort cancels an in-flight load and forgets the tile immediately.
func (p *Pyramid) abort(t *Tile) {
	p.log.Debug("pyramid: aborting tile", "coord", t.Coord.String(), "uid", t.UID)
	if p.cb.Abort != nil {
		p.cb.Abort(t)
	}
	t.State = StateRemoved
	p.drop(t)
	if p.cb.Remove != nil {
		p.cb.Remove(t)
	}
	p.opt.Metrics.Evict(EvictAbort)
}

// evict unloads a loaded or errored tile and forgets it.
func (p *Pyramid) evict(t *Tile, reason EvictReason) {
	p.log.Debug("pyramid: evicting tile", "coord", t.Coord.String(), "uid", t.UID, "reason", reason.String())
	t.State = StateUnloading
	if p.cb.Unload != nil {
		p.cb.Unload(t)
	}
	t.State = StateRemoved
	p.drop(t)
	if p.cb.Remove != nil {
		p.cb.Remove(t)
	}
	p.opt.Metrics.Evict(reason)
}

func (p *Pyramid) drop(t *Tile) {
	p.pol.OnRemove(t)
	delete(p.tiles, t.ID)
}

// enforceLimit evicts least recently used non-retained tiles until the
// surplus fits CacheSize. Retained tiles are never evicted.
func (p *Pyramid) enforceLimit() {
	for p.len-len(p.retained) > p.opt.CacheSize {
		victim := p.tail
		for victim != nil && p.IsRetained(victim.ID) {
			victim = victim.prev
		}
		if victim == nil {
			break
		}
		p.evict(victim, EvictCapacity)
	}
	p.opt.Metrics.Size(p.len, len(p.retained))
}
