package coord

import "math"

// Point is a fractional position on the tile grid at a (possibly
// fractional) zoom: Column and Row are measured in tiles of that zoom,
// so the point (0.5, 0.5) at zoom 0 is the centre of the world.
// Column is unwrapped: values outside [0, 2^Zoom) address other world copies.
type Point struct {
	Column float64 `json:"column"`
	Row    float64 `json:"row"`
	Zoom   float64 `json:"zoom"`
}

// ZoomTo returns the same position expressed at zoom z.
func (p Point) ZoomTo(z float64) Point {
	s := math.Exp2(z - p.Zoom)
	return Point{Column: p.Column * s, Row: p.Row * s, Zoom: z}
}

// Coord returns the tile at the integer zoom z that contains p.
func (p Point) Coord(z int) Coord {
	q := p.ZoomTo(float64(z))
	return Wrapped(z, int(math.Floor(q.Column)), int(math.Floor(q.Row)))
}

// IntZoom returns the integer zoom used to look p up: rounded when round
// is set, floored otherwise.
func (p Point) IntZoom(round bool) int {
	if round {
		return int(math.Round(p.Zoom))
	}
	return int(math.Floor(p.Zoom))
}

// Bounds is an axis-aligned query rectangle. Min is the top-left corner and
// Max the bottom-right one; both must share the same zoom.
type Bounds struct {
	Min Point
	Max Point
}
