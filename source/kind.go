package source

import (
	"fmt"
	"strings"
)

// Kind is the closed set of source flavors.
type Kind int

const (
	KindVector Kind = iota
	KindRaster
	KindGeoJSON
	KindVideo
	KindImage
)

var kindNames = [...]string{
	KindVector:  "vector",
	KindRaster:  "raster",
	KindGeoJSON: "geojson",
	KindVideo:   "video",
	KindImage:   "image",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a type name ("vector", "raster", ...) to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown source type %q", ErrInvalidOptions, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
