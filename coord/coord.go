// Package coord defines tile coordinates: a (zoom, x, y, wrap) cell of the
// web-mercator tile grid together with its scalar cache id.
package coord

import (
	"fmt"
	"math/bits"

	"github.com/google/hilbert"
)

const (
	// MaxZoom is the deepest zoom level whose coordinates can be encoded.
	MaxZoom = 24

	// wrapBits is the number of low id bits reserved for the zigzag-encoded wrap.
	wrapBits = 12
	wrapMask = 1<<wrapBits - 1

	// MinWrap and MaxWrap bound the world copy index.
	MinWrap = -(1 << (wrapBits - 1))
	MaxWrap = 1<<(wrapBits-1) - 1
)

// ID is the scalar identity of a coordinate, used as the cache key.
type ID uint64

// Coord identifies one tile: zoom Z, column X and row Y within [0, 2^Z),
// and W, the repeated copy of the world the tile belongs to.
type Coord struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
}

// New returns the coordinate (z, x, y) in world copy w.
func New(z, x, y, w int) Coord { return Coord{Z: z, X: x, Y: y, W: w} }

// Wrapped builds a coordinate from an unwrapped column: x may lie outside
// [0, 2^z), in which case it is folded back and the world copy recorded in W.
func Wrapped(z, x, y int) Coord {
	dim := 1 << z
	w := floorDiv(x, dim)
	return Coord{Z: z, X: x - w*dim, Y: y, W: w}
}

// Valid reports whether c can be encoded.
func (c Coord) Valid() bool {
	if c.Z < 0 || c.Z > MaxZoom {
		return false
	}
	dim := 1 << c.Z
	return c.X >= 0 && c.X < dim && c.Y >= 0 && c.Y < dim && c.W >= MinWrap && c.W <= MaxWrap
}

// ID encodes c. The tile part is the PMTiles Hilbert tile code (tiles of all
// shallower zooms come first), the low bits carry the wrap.
// Encoding an invalid coordinate is a programming error and panics.
func (c Coord) ID() ID {
	if !c.Valid() {
		panic(fmt.Sprintf("coord: cannot encode invalid coordinate %v", c))
	}
	h, _ := hilbert.NewHilbert(1 << c.Z)
	code, _ := h.MapInverse(c.X, c.Y)
	base := (1<<(2*c.Z) - 1) / 3
	return ID(uint64(base+code)<<wrapBits | zigzag(c.W))
}

// FromID decodes an id produced by Coord.ID.
func FromID(id ID) Coord {
	code := uint64(id) >> wrapBits
	z := (bits.Len64(3*code+1) - 1) / 2
	base := (1<<(2*z) - 1) / 3

	h, _ := hilbert.NewHilbert(1 << z)
	x, y, _ := h.Map(int(code) - base)
	return Coord{Z: z, X: x, Y: y, W: unzigzag(uint64(id) & wrapMask)}
}

// Coord returns the coordinate encoded by id.
func (id ID) Coord() Coord { return FromID(id) }

func (id ID) String() string { return FromID(id).String() }

func (c Coord) String() string {
	if c.W == 0 {
		return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
	}
	return fmt.Sprintf("%d/%d/%d@%d", c.Z, c.X, c.Y, c.W)
}

// Unwrapped returns the canonical copy of c in world 0.
func (c Coord) Unwrapped() Coord {
	c.W = 0
	return c
}

// UnwrappedX returns the column of c counted from the origin of world 0.
func (c Coord) UnwrappedX() int { return c.X + c.W*(1<<c.Z) }

// Parent returns the coordinate one zoom level up that contains c.
// The root tile is its own parent.
func (c Coord) Parent() Coord {
	if c.Z == 0 {
		return c
	}
	return Coord{Z: c.Z - 1, X: c.X >> 1, Y: c.Y >> 1, W: c.W}
}

// Ancestor returns the coordinate at zoom z that contains c.
// For z >= c.Z, c is returned unchanged.
func (c Coord) Ancestor(z int) Coord {
	if z >= c.Z {
		return c
	}
	if z < 0 {
		z = 0
	}
	d := c.Z - z
	return Coord{Z: z, X: c.X >> d, Y: c.Y >> d, W: c.W}
}

// IsAncestorOf reports whether c strictly contains d (same world copy).
func (c Coord) IsAncestorOf(d Coord) bool {
	return c.Z < d.Z && d.Ancestor(c.Z) == c
}

// OverscaleAncestor returns the coordinate at maxzoom whose data serves c.
// For c.Z <= maxzoom this is c itself.
func OverscaleAncestor(c Coord, maxzoom int) Coord {
	if c.Z <= maxzoom {
		return c
	}
	return c.Ancestor(maxzoom)
}

func zigzag(w int) uint64 { return uint64((int64(w) << 1) ^ (int64(w) >> 63)) }

func unzigzag(u uint64) int { return int(u>>1) ^ -int(u&1) }

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
