package tileio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/IvanBrykalov/tilecache/coord"
)

// TileURL expands the template serving c. Templates are spread over tiles
// by (x+y) mod len(templates), so neighbors hit different hosts.
//
// Placeholders: {z}, {x}, {y} and {prefix} (hex digits of x%16 and y%16).
// The world copy is ignored: every copy shares one payload.
func TileURL(templates []string, c coord.Coord) string {
	if len(templates) == 0 {
		return ""
	}
	tpl := templates[(c.X+c.Y)%len(templates)]
	return strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
		"{prefix}", fmt.Sprintf("%x%x", c.X%16, c.Y%16),
	).Replace(tpl)
}
