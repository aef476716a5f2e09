package pyramid

import (
	"errors"
	"testing"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/policy"
	"github.com/google/go-cmp/cmp"
)

// recorder captures every callback invocation.
type recorder struct {
	loads    []*Tile
	pending  map[coord.ID]Completion
	aborts   []coord.ID
	unloads  []coord.ID
	adds     []coord.ID
	removes  []coord.ID
	replaced []coord.ID
}

func newRecorder() *recorder {
	return &recorder{pending: make(map[coord.ID]Completion)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Load: func(t *Tile, c Completion) {
			r.loads = append(r.loads, t)
			r.pending[t.ID] = c
		},
		Abort:         func(t *Tile) { r.aborts = append(r.aborts, t.ID) },
		Unload:        func(t *Tile) { r.unloads = append(r.unloads, t.ID) },
		Add:           func(t *Tile) { r.adds = append(r.adds, t.ID) },
		Remove:        func(t *Tile) { r.removes = append(r.removes, t.ID) },
		RedoPlacement: func(t *Tile) { r.replaced = append(r.replaced, t.ID) },
	}
}

func (r *recorder) calls() int {
	return len(r.loads) + len(r.aborts) + len(r.unloads) + len(r.adds) + len(r.removes)
}

// complete finishes the pending load of c.
func (r *recorder) complete(t *testing.T, c coord.Coord, payload any, err error) {
	t.Helper()
	comp, ok := r.pending[c.ID()]
	if !ok {
		t.Fatalf("no pending load for %v", c)
	}
	delete(r.pending, c.ID())
	if !comp.Done(payload, err) {
		t.Fatalf("completion for %v was not applied", c)
	}
}

func newTestPyramid(t *testing.T, opt Options) (*Pyramid, *recorder) {
	t.Helper()
	r := newRecorder()
	opt.Callbacks = r.callbacks()
	if opt.MaxZoom == 0 {
		opt.MaxZoom = 14
	}
	return New(opt), r
}

func TestRetain_LoadsNewCoordinates(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	a, b := coord.New(1, 0, 0, 0), coord.New(1, 1, 0, 0)
	p.Retain([]coord.Coord{a, b, a})

	if len(r.loads) != 2 || len(r.adds) != 2 {
		t.Fatalf("want 2 loads and 2 adds, got %d and %d", len(r.loads), len(r.adds))
	}
	for _, tile := range r.loads {
		if tile.State != StateLoading {
			t.Errorf("tile %v state = %v, want loading", tile.Coord, tile.State)
		}
		if tile.WorkerID != NoWorker || tile.TileExtent != DefaultTileExtent || tile.UID == 0 {
			t.Errorf("tile %v not initialised: %+v", tile.Coord, tile)
		}
	}
	if r.loads[0].UID == r.loads[1].UID {
		t.Error("tiles must get distinct UIDs")
	}
	if got := p.Tile(a.ID()); got != r.loads[0] {
		t.Errorf("Tile(a) = %v, want the loading tile", got)
	}
}

func TestRetain_Idempotent(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: 1})
	set := []coord.Coord{coord.New(2, 1, 1, 0), coord.New(2, 2, 1, 0), coord.New(20, 5, 5, 0)}

	p.Retain(set)
	r.complete(t, coord.New(2, 1, 1, 0), "a", nil)
	before := r.calls()

	p.Retain(set)
	if got := r.calls(); got != before {
		t.Fatalf("second Retain with the same set issued %d callbacks", got-before)
	}
}

func TestRetain_CoalescesLoads(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c, d := coord.New(3, 2, 2, 0), coord.New(3, 3, 2, 0)

	p.Retain([]coord.Coord{c})
	p.Retain([]coord.Coord{c, d})
	p.Retain([]coord.Coord{d, c})

	n := 0
	for _, tile := range r.loads {
		if tile.Coord == c {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("load for %v issued %d times, want 1", c, n)
	}
}

func TestRetain_AbortsUnneededLoads(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c := coord.New(4, 3, 3, 0)

	p.Retain([]coord.Coord{c})
	tile := r.loads[0]
	p.Retain(nil)

	if diff := cmp.Diff([]coord.ID{c.ID()}, r.aborts); diff != "" {
		t.Errorf("aborts mismatch (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]coord.ID{c.ID()}, r.removes); diff != "" {
		t.Errorf("removes mismatch (-want +got):\n%v", diff)
	}
	if len(r.unloads) != 0 {
		t.Errorf("aborted tile must not be unloaded, got %v", r.unloads)
	}
	if tile.State != StateRemoved {
		t.Errorf("aborted tile state = %v, want removed", tile.State)
	}
	if p.Len() != 0 || p.Tile(c.ID()) != nil {
		t.Errorf("aborted tile must be gone, Len = %d", p.Len())
	}

	if r.pending[c.ID()].Done("late", nil) {
		t.Error("completion of an aborted load must be discarded")
	}
}

func TestCompletion_StaleAfterReassignment(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c := coord.New(5, 10, 10, 0)

	p.Retain([]coord.Coord{c})
	stale := r.pending[c.ID()]
	p.Retain(nil)
	p.Retain([]coord.Coord{c})
	fresh := r.pending[c.ID()]

	if stale.Tile() == fresh.Tile() {
		t.Fatal("re-retaining must create a new tile object")
	}
	if stale.Done("old", nil) {
		t.Fatal("stale completion must not be applied")
	}
	current := p.Tile(c.ID())
	if current.State != StateLoading || current.Payload != nil {
		t.Fatalf("current tile mutated by stale completion: state=%v payload=%v", current.State, current.Payload)
	}

	if !fresh.Done("new", nil) {
		t.Fatal("fresh completion must be applied")
	}
	if current.State != StateLoaded || current.Payload != "new" {
		t.Fatalf("state=%v payload=%v, want loaded/new", current.State, current.Payload)
	}
	if fresh.Done("again", nil) {
		t.Fatal("a completion applies at most once")
	}
}

func TestCache_BoundAndLRUOrder(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: 2})
	coords := []coord.Coord{
		coord.New(3, 0, 0, 0),
		coord.New(3, 1, 0, 0),
		coord.New(3, 2, 0, 0),
		coord.New(3, 3, 0, 0),
		coord.New(3, 4, 0, 0),
	}
	for _, c := range coords {
		p.Retain([]coord.Coord{c})
		r.complete(t, c, c.String(), nil)
		if surplus := p.Len() - p.RetainedLen(); surplus > 2 {
			t.Fatalf("surplus %d exceeds cache size after retaining %v", surplus, c)
		}
	}

	// Only the two most recently released tiles survive besides the retained one.
	want := []coord.ID{coords[2].ID(), coords[3].ID(), coords[4].ID()}
	if diff := cmp.Diff(want, p.OrderedIDs()); diff != "" {
		t.Errorf("OrderedIDs mismatch (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]coord.ID{coords[0].ID(), coords[1].ID()}, r.unloads); diff != "" {
		t.Errorf("unloads mismatch (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff(r.unloads, r.removes); diff != "" {
		t.Errorf("every unload must be followed by remove (-unloads +removes):\n%v", diff)
	}
}

func TestCache_AccessRefreshesOrder(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: 2})
	a, b, c := coord.New(2, 0, 0, 0), coord.New(2, 1, 0, 0), coord.New(2, 2, 0, 0)
	p.Retain([]coord.Coord{a, b})
	r.complete(t, a, "a", nil)
	r.complete(t, b, "b", nil)
	p.Retain(nil)

	p.Tile(a.ID()) // a becomes MRU, b is now the LRU surplus

	p.Retain([]coord.Coord{c})
	r.complete(t, c, "c", nil)
	p.Retain(nil)
	p.Retain([]coord.Coord{coord.New(2, 3, 0, 0)})

	if p.Tile(b.ID()) != nil {
		t.Error("b must be evicted first")
	}
	if p.Tile(a.ID()) == nil {
		t.Error("a must survive (promoted)")
	}
}

func TestCache_RetainedNeverEvicted(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: -1})
	set := []coord.Coord{coord.New(1, 0, 0, 0), coord.New(1, 1, 0, 0), coord.New(1, 0, 1, 0)}
	p.Retain(set)
	for _, c := range set {
		r.complete(t, c, nil, nil)
	}
	if p.Len() != 3 || len(r.unloads) != 0 {
		t.Fatalf("retained tiles evicted: Len=%d unloads=%v", p.Len(), r.unloads)
	}

	p.Retain(set[:1])
	if p.Len() != 1 {
		t.Fatalf("zero cache size must drop released tiles, Len=%d", p.Len())
	}
}

func TestLoadError_TileStaysCached(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c := coord.New(6, 1, 1, 0)
	boom := errors.New("boom")

	p.Retain([]coord.Coord{c})
	r.complete(t, c, nil, boom)

	tile := p.Tile(c.ID())
	if tile == nil || tile.State != StateErrored || !errors.Is(tile.Err, boom) {
		t.Fatalf("want errored tile, got %+v", tile)
	}

	p.Retain(nil)
	p.Retain([]coord.Coord{c})
	if len(r.loads) != 1 {
		t.Fatalf("errored tile must not be refetched, loads = %d", len(r.loads))
	}
	if len(p.RenderedIDs()) != 0 {
		t.Error("errored tile must not be rendered")
	}
}

func TestOverscale_SharesMaxZoomTile(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{MaxZoom: 2})
	deep := coord.New(4, 5, 6, 0)
	p.Retain([]coord.Coord{deep, coord.New(4, 4, 4, 0)})

	if len(r.loads) != 1 || r.loads[0].Coord != coord.New(2, 1, 1, 0) {
		t.Fatalf("want a single load of 2/1/1, got %d loads", len(r.loads))
	}
	r.complete(t, coord.New(2, 1, 1, 0), "z2", nil)

	if diff := cmp.Diff([]coord.ID{coord.New(2, 1, 1, 0).ID()}, p.RenderedIDs()); diff != "" {
		t.Errorf("RenderedIDs mismatch (-want +got):\n%v", diff)
	}

	res, ok := p.TileAt(coord.Point{Column: 5.5, Row: 6.5, Zoom: 4})
	if !ok {
		t.Fatal("TileAt must resolve to the overscaled ancestor")
	}
	want := PointResult{Tile: r.loads[0], X: 1536, Y: 2560, Scale: 4}
	if diff := cmp.Diff(want, res, cmp.Comparer(func(a, b *Tile) bool { return a == b })); diff != "" {
		t.Errorf("TileAt mismatch (-want +got):\n%v", diff)
	}
}

func TestReparseOverscaled_KeepsDeepTiles(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{MaxZoom: 2, ReparseOverscaled: true})
	deep := coord.New(4, 5, 6, 0)
	p.Retain([]coord.Coord{deep})
	if len(r.loads) != 1 || r.loads[0].Coord != deep {
		t.Fatalf("want the deep tile itself to load, got %v", r.loads[0].Coord)
	}
}

// boundedPolicy keeps LRU order and proposes the LRU tile for eviction
// once more than max tiles are resident.
type boundedPolicy struct{ max int }

func (b boundedPolicy) New(h policy.Hooks[coord.ID]) policy.Instance[coord.ID] {
	return &bounded{h: h, max: b.max}
}

type bounded struct {
	h   policy.Hooks[coord.ID]
	max int
}

func (b *bounded) OnAdd(n policy.Node[coord.ID]) policy.Node[coord.ID] {
	b.h.PushFront(n)
	if b.h.Len() > b.max {
		return b.h.Back()
	}
	return nil
}

func (b *bounded) OnAccess(n policy.Node[coord.ID]) { b.h.MoveToFront(n) }
func (b *bounded) OnRemove(n policy.Node[coord.ID]) { b.h.Remove(n) }

func TestRetain_PolicyEvictsCandidate(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: 10, Policy: boundedPolicy{max: 2}})
	a, b, c, d := coord.New(2, 0, 0, 0), coord.New(2, 1, 0, 0), coord.New(2, 2, 0, 0), coord.New(2, 3, 0, 0)

	p.Retain([]coord.Coord{a})
	r.complete(t, a, "a", nil)
	p.Retain([]coord.Coord{b})
	r.complete(t, b, "b", nil)

	// c overflows the policy; the LRU tile a is no longer retained.
	p.Retain([]coord.Coord{b, c})
	if diff := cmp.Diff([]coord.ID{a.ID()}, r.unloads); diff != "" {
		t.Fatalf("unloads mismatch (-want +got):\n%v", diff)
	}
	if p.Tile(a.ID()) != nil {
		t.Errorf("evicted tile %v still cached", a)
	}

	// The candidate is b, which this call retains again.
	r.complete(t, c, "c", nil)
	p.Retain([]coord.Coord{b, c, d})
	if len(r.unloads) != 1 || p.Len() != 3 {
		t.Errorf("retained candidate evicted: Len=%d unloads=%v", p.Len(), r.unloads)
	}
}

func TestRetain_PolicyCannotEvictSameCallTiles(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: 10, Policy: boundedPolicy{max: 1}})
	a, b := coord.New(1, 0, 0, 0), coord.New(1, 1, 0, 0)
	p.Retain([]coord.Coord{a, b})

	if len(r.aborts) != 0 || len(r.unloads) != 0 || p.Len() != 2 {
		t.Fatalf("tiles of one retain call must survive the policy: Len=%d aborts=%v unloads=%v", p.Len(), r.aborts, r.unloads)
	}
	for _, c := range []coord.Coord{a, b} {
		if !p.IsRetained(c.ID()) {
			t.Errorf("%v not retained", c)
		}
	}
}

func TestTileAt(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	root := coord.New(0, 0, 0, 0)

	if _, ok := p.TileAt(coord.Point{}); ok {
		t.Fatal("empty pyramid must not resolve")
	}

	p.Retain([]coord.Coord{root})
	if _, ok := p.TileAt(coord.Point{}); ok {
		t.Fatal("loading tile must not resolve")
	}
	r.complete(t, root, "world", nil)

	res, ok := p.TileAt(coord.Point{Column: 0, Row: 0, Zoom: 0})
	if !ok || res.Tile.Coord != root || res.Scale != 1 || res.X != 0 || res.Y != 0 {
		t.Fatalf("TileAt(0/0/0) = %+v, %v", res, ok)
	}

	res, ok = p.TileAt(coord.Point{Column: 3, Row: 1, Zoom: 2.4})
	if !ok || res.Tile.Coord != root || res.Scale != 4 {
		t.Fatalf("TileAt at zoom 2.4 = %+v, %v", res, ok)
	}
	if res.X != 3072 || res.Y != 1024 {
		t.Errorf("local offset = (%v, %v), want (3072, 1024)", res.X, res.Y)
	}
}

func TestTileAt_WorldWrap(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c := coord.New(1, 1, 0, 0)
	p.Retain([]coord.Coord{c})
	r.complete(t, c, "east", nil)

	res, ok := p.TileAt(coord.Point{Column: -0.5, Row: 0.25, Zoom: 1})
	if !ok || res.Tile.Coord != c {
		t.Fatalf("wrapped query must fall back to the world-0 tile, got %+v %v", res, ok)
	}
	if res.X != 2048 || res.Y != 1024 {
		t.Errorf("local offset = (%v, %v), want (2048, 1024)", res.X, res.Y)
	}

	// A tile of the exact world copy wins over the canonical one.
	w := coord.New(1, 1, 0, -1)
	p.Retain([]coord.Coord{c, w})
	r.complete(t, w, "east-1", nil)
	res, _ = p.TileAt(coord.Point{Column: -0.5, Row: 0.25, Zoom: 1})
	if res.Tile.Coord != w {
		t.Errorf("TileAt picked %v, want %v", res.Tile.Coord, w)
	}
}

func TestQuery_ScaleBeyondEncodableZoom(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c := coord.New(14, 100, 200, 0)
	p.Retain([]coord.Coord{c})
	r.complete(t, c, "deep", nil)

	const k = 1 << 12 // zoom 26 is 12 levels below c
	res, ok := p.TileAt(coord.Point{Column: 100.5 * k, Row: 200.5 * k, Zoom: 26})
	if !ok || res.Tile.Coord != c {
		t.Fatalf("TileAt at zoom 26 = %+v, %v", res, ok)
	}
	if res.Scale != k || res.X != 2048 || res.Y != 2048 {
		t.Errorf("TileAt = scale %v at (%v, %v), want scale %v at (2048, 2048)", res.Scale, res.X, res.Y, float64(k))
	}

	got := p.TilesIn(coord.Bounds{
		Min: coord.Point{Column: 100.25 * k, Row: 200.25 * k, Zoom: 26},
		Max: coord.Point{Column: 100.75 * k, Row: 200.75 * k, Zoom: 26},
	})
	if len(got) != 1 {
		t.Fatalf("want 1 tile, got %d", len(got))
	}
	if a := got[0]; a.Scale != k || a.MinX != 1024 || a.MaxX != 3072 || a.MinY != 1024 || a.MaxY != 3072 {
		t.Errorf("area result = %+v", a)
	}
}

func TestTilesIn(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	left, right := coord.New(1, 0, 0, 0), coord.New(1, 1, 0, 0)
	p.Retain([]coord.Coord{left, right})
	r.complete(t, left, "l", nil)
	r.complete(t, right, "r", nil)

	if got := p.TilesIn(coord.Bounds{Min: coord.Point{Column: 0, Row: 1.2, Zoom: 1}, Max: coord.Point{Column: 2, Row: 1.8, Zoom: 1}}); len(got) != 0 {
		t.Fatalf("bounds outside cached tiles must give no results, got %d", len(got))
	}

	got := p.TilesIn(coord.Bounds{
		Min: coord.Point{Column: 0.5, Row: 0.25, Zoom: 1},
		Max: coord.Point{Column: 1.5, Row: 0.75, Zoom: 1},
	})
	if len(got) != 2 {
		t.Fatalf("want 2 tiles, got %d", len(got))
	}
	byCoord := map[coord.Coord]AreaResult{}
	for _, res := range got {
		byCoord[res.Tile.Coord] = res
	}
	l, rr := byCoord[left], byCoord[right]
	if l.MinX != 2048 || l.MaxX != 4096 || l.MinY != 1024 || l.MaxY != 3072 || l.Scale != 1 {
		t.Errorf("left overlap = %+v", l)
	}
	if rr.MinX != 0 || rr.MaxX != 2048 || rr.MinY != 1024 || rr.MaxY != 3072 {
		t.Errorf("right overlap = %+v", rr)
	}
}

func TestTilesIn_WorldWrap(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	c := coord.New(1, 1, 0, 0)
	p.Retain([]coord.Coord{c})
	r.complete(t, c, "east", nil)

	west := coord.Bounds{
		Min: coord.Point{Column: -0.75, Row: 0.25, Zoom: 1},
		Max: coord.Point{Column: -0.25, Row: 0.5, Zoom: 1},
	}
	got := p.TilesIn(west)
	if len(got) != 1 || got[0].Tile.Coord != c {
		t.Fatalf("wrapped bounds must match the world-0 tile, got %+v", got)
	}
	res := got[0]
	res.Tile = nil
	want := AreaResult{Coord: coord.New(1, 1, 0, -1), MinX: 1024, MaxX: 3072, MinY: 1024, MaxY: 2048, Scale: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("area result mismatch (-want +got):\n%s", diff)
	}

	// Bounds straddling the antimeridian reach both copies of the tile.
	got = p.TilesIn(coord.Bounds{
		Min: coord.Point{Column: -0.5, Row: 0.25, Zoom: 1},
		Max: coord.Point{Column: 1.5, Row: 0.5, Zoom: 1},
	})
	worlds := map[int]bool{}
	for _, res := range got {
		worlds[res.Coord.W] = true
	}
	if len(got) != 2 || !worlds[-1] || !worlds[0] {
		t.Fatalf("straddling bounds: got %+v", got)
	}

	// A tile of the exact world copy wins over the canonical one.
	w := coord.New(1, 1, 0, -1)
	p.Retain([]coord.Coord{c, w})
	r.complete(t, w, "east-1", nil)
	got = p.TilesIn(west)
	if len(got) != 1 || got[0].Tile.Coord != w || got[0].Coord != w {
		t.Errorf("TilesIn picked %+v, want the tile at %v", got, w)
	}
}

func TestTilesIn_AncestorSubsumesDescendants(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	root, child := coord.New(0, 0, 0, 0), coord.New(1, 0, 0, 0)
	p.Retain([]coord.Coord{root, child})
	r.complete(t, root, "root", nil)
	r.complete(t, child, "child", nil)

	got := p.TilesIn(coord.Bounds{
		Min: coord.Point{Column: 0.1, Row: 0.1, Zoom: 1},
		Max: coord.Point{Column: 0.9, Row: 0.9, Zoom: 1},
	})
	if len(got) != 1 || got[0].Tile.Coord != root {
		t.Fatalf("want only the root tile, got %d results", len(got))
	}
	if got[0].Scale != 2 {
		t.Errorf("scale = %v, want 2", got[0].Scale)
	}
}

func TestRenderedIDs(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{CacheSize: 5})
	a, b, c := coord.New(3, 1, 1, 0), coord.New(2, 0, 0, 0), coord.New(3, 2, 2, 0)
	p.Retain([]coord.Coord{a, b, c})
	r.complete(t, a, "a", nil)
	r.complete(t, b, "b", nil)

	want := []coord.ID{b.ID(), a.ID()}
	if diff := cmp.Diff(want, p.RenderedIDs()); diff != "" {
		t.Errorf("RenderedIDs mismatch (-want +got):\n%v", diff)
	}

	p.Retain([]coord.Coord{a})
	if diff := cmp.Diff([]coord.ID{a.ID()}, p.RenderedIDs()); diff != "" {
		t.Errorf("released tiles must not render (-want +got):\n%v", diff)
	}
}

func TestRedoPlacement(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	a, b := coord.New(1, 0, 0, 0), coord.New(1, 1, 1, 0)
	p.Retain([]coord.Coord{a, b})

	p.RedoPlacement()
	if diff := cmp.Diff(p.OrderedIDs(), r.replaced); diff != "" {
		t.Errorf("RedoPlacement order mismatch (-want +got):\n%v", diff)
	}
	if len(r.loads) != 2 {
		t.Errorf("RedoPlacement must not refetch, loads = %d", len(r.loads))
	}

	quiet := New(Options{MaxZoom: 1, Callbacks: Callbacks{Load: func(*Tile, Completion) {}}})
	quiet.Retain([]coord.Coord{a})
	quiet.RedoPlacement() // no callback: must not panic
}

func TestIndex_RedirectsToDeepestListedAncestor(t *testing.T) {
	t.Parallel()

	idx := NewIndex([]coord.Coord{coord.New(0, 0, 0, 0), coord.New(1, 0, 0, 0)})
	p, r := newTestPyramid(t, Options{Index: idx})

	p.Retain([]coord.Coord{coord.New(3, 1, 1, 2)})
	if got, want := r.loads[0].Coord, coord.New(1, 0, 0, 2); got != want {
		t.Errorf("sparse tile loaded %v, want %v", got, want)
	}

	p.Retain([]coord.Coord{coord.New(3, 7, 7, 0)})
	if got, want := r.loads[1].Coord, coord.New(0, 0, 0, 0); got != want {
		t.Errorf("sparse tile loaded %v, want %v", got, want)
	}

	empty, er := newTestPyramid(t, Options{MinZoom: 1, Index: NewIndex(nil)})
	empty.Retain([]coord.Coord{coord.New(2, 0, 0, 0)})
	if len(er.loads) != 0 {
		t.Errorf("coordinates absent from the index must be skipped")
	}
}

func TestRetain_SkipsBelowMinZoom(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{MinZoom: 3})
	p.Retain([]coord.Coord{coord.New(2, 0, 0, 0), coord.New(3, 0, 0, 0)})
	if len(r.loads) != 1 || p.RetainedLen() != 1 {
		t.Fatalf("loads=%d retained=%d, want 1/1", len(r.loads), p.RetainedLen())
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	p, r := newTestPyramid(t, Options{})
	a, b := coord.New(1, 0, 0, 0), coord.New(1, 1, 0, 0)
	p.Retain([]coord.Coord{a, b})
	r.complete(t, a, "a", nil)

	p.Clear()
	if p.Len() != 0 || p.RetainedLen() != 0 {
		t.Fatalf("Clear left Len=%d retained=%d", p.Len(), p.RetainedLen())
	}
	if diff := cmp.Diff([]coord.ID{b.ID()}, r.aborts); diff != "" {
		t.Errorf("aborts mismatch (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]coord.ID{a.ID()}, r.unloads); diff != "" {
		t.Errorf("unloads mismatch (-want +got):\n%v", diff)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	for name, opt := range map[string]Options{
		"no load":        {MaxZoom: 2},
		"inverted zooms": {MinZoom: 5, MaxZoom: 2, Callbacks: Callbacks{Load: func(*Tile, Completion) {}}},
		"too deep":       {MaxZoom: coord.MaxZoom + 1, Callbacks: Callbacks{Load: func(*Tile, Completion) {}}},
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: New must panic", name)
				}
			}()
			New(opt)
		}()
	}

	p := New(Options{MaxZoom: 3, Callbacks: Callbacks{Load: func(*Tile, Completion) {}}})
	got := p.Options()
	if got.CacheSize != DefaultCacheSize || got.TileSize != DefaultTileSize || got.TileExtent != DefaultTileExtent {
		t.Errorf("defaults not applied: %+v", got)
	}
}
