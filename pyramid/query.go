package pyramid

import (
	"math"

	"github.com/IvanBrykalov/tilecache/coord"
)

// PointResult locates a query point inside a cached tile. X and Y are in
// tile extent units; Scale is 2^k when the tile is k zooms shallower than
// the query (overscaling).
type PointResult struct {
	Tile  *Tile
	X, Y  float64
	Scale float64
}

// AreaResult is a cached tile intersecting a query rectangle, with the
// overlap expressed in tile extent units and clamped to the tile. Coord is
// the world copy the overlap was measured in; it differs from Tile.Coord
// when a world-0 tile stands in for a wrapped copy that is not cached.
type AreaResult struct {
	Tile       *Tile
	Coord      coord.Coord
	MinX, MaxX float64
	MinY, MaxY float64
	Scale      float64
}

// TileAt returns the loaded tile covering pt. It tries the query zoom
// first and then each shallower zoom down to MinZoom, so an ancestor serves
// when the exact tile is not cached. For every zoom the tile of pt's own
// world copy is preferred over the world-0 copy. It reports false when no
// covering tile is loaded.
func (p *Pyramid) TileAt(pt coord.Point) (PointResult, bool) {
	z := p.queryZoom(pt)
	for tz := min(z, coord.MaxZoom); tz >= p.opt.MinZoom; tz-- {
		if tz > p.opt.MaxZoom && !p.opt.ReparseOverscaled {
			continue
		}
		c := pt.Coord(tz)
		if !c.Valid() {
			continue
		}
		t := p.loadedAt(c)
		if t == nil && c.W != 0 {
			t = p.loadedAt(c.Unwrapped())
		}
		if t == nil {
			continue
		}

		q := pt.ZoomTo(float64(tz))
		extent := float64(t.TileExtent)
		p.pol.OnAccess(t)
		p.opt.Metrics.Hit()
		return PointResult{
			Tile:  t,
			X:     (q.Column - float64(c.UnwrappedX())) * extent,
			Y:     (q.Row - float64(c.Y)) * extent,
			Scale: math.Exp2(float64(z - tz)),
		}, true
	}
	p.opt.Metrics.Miss()
	return PointResult{}, false
}

// TilesIn returns every loaded tile intersecting b. Bounds crossing the
// antimeridian match world-0 tiles in each world copy they span, unless
// the exact copy is loaded itself. When a tile and one of its ancestors
// both intersect, only the ancestor is returned: it already covers the
// descendant's area, and querying both would count features twice.
// Results follow OrderedIDs order; the slice is empty if nothing
// intersects.
func (p *Pyramid) TilesIn(b coord.Bounds) []AreaResult {
	z := p.queryZoom(b.Min)

	var hits []AreaResult
	found := make(map[coord.ID]struct{})
	for t := p.tail; t != nil; t = t.prev {
		if t.State != StateLoaded {
			continue
		}
		tz := t.Coord.Z
		lo, hi := b.Min.ZoomTo(float64(tz)), b.Max.ZoomTo(float64(tz))
		wLo, wHi := t.Coord.W, t.Coord.W
		if t.Coord.W == 0 {
			wLo = max(coord.MinWrap, coord.Wrapped(tz, int(math.Floor(lo.Column)), 0).W)
			wHi = min(coord.MaxWrap, coord.Wrapped(tz, int(math.Floor(hi.Column)), 0).W)
		}
		for w := wLo; w <= wHi; w++ {
			c := coord.New(tz, t.Coord.X, t.Coord.Y, w)
			if w != t.Coord.W && p.loadedAt(c) != nil {
				continue
			}
			r, ok := overlap(t, c, lo, hi)
			if !ok {
				continue
			}
			r.Scale = math.Exp2(float64(z - tz))
			hits = append(hits, r)
			found[c.ID()] = struct{}{}
		}
	}

	results := make([]AreaResult, 0, len(hits))
	for _, r := range hits {
		if p.hasAncestorIn(r.Coord, found) {
			continue
		}
		results = append(results, r)
	}
	for _, r := range results {
		p.pol.OnAccess(r.Tile)
	}
	return results
}

// overlap measures the rectangle lo..hi against t placed at c.
func overlap(t *Tile, c coord.Coord, lo, hi coord.Point) (AreaResult, bool) {
	extent := float64(t.TileExtent)
	ux := float64(c.UnwrappedX())
	minX := (lo.Column - ux) * extent
	maxX := (hi.Column - ux) * extent
	minY := (lo.Row - float64(c.Y)) * extent
	maxY := (hi.Row - float64(c.Y)) * extent
	if minX >= extent || minY >= extent || maxX < 0 || maxY < 0 {
		return AreaResult{}, false
	}
	return AreaResult{
		Tile:  t,
		Coord: c,
		MinX:  clamp(minX, 0, extent),
		MaxX:  clamp(maxX, 0, extent),
		MinY:  clamp(minY, 0, extent),
		MaxY:  clamp(maxY, 0, extent),
	}, true
}

func (p *Pyramid) loadedAt(c coord.Coord) *Tile {
	if t := p.tiles[c.ID()]; t != nil && t.State == StateLoaded {
		return t
	}
	return nil
}

func (p *Pyramid) hasAncestorIn(c coord.Coord, ids map[coord.ID]struct{}) bool {
	for a := c; a.Z > 0; {
		a = a.Parent()
		if _, ok := ids[a.ID()]; ok {
			return true
		}
	}
	return false
}

// queryZoom turns a fractional query zoom into an integer zoom no
// shallower than MinZoom. It may exceed coord.MaxZoom: the search starts
// at the deepest encodable zoom, but scales are measured from the query.
func (p *Pyramid) queryZoom(pt coord.Point) int {
	return max(p.opt.MinZoom, pt.IntZoom(p.opt.RoundZoom))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
