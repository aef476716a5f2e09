package source

import (
	"errors"
	"fmt"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidOptions wraps every options validation failure.
var ErrInvalidOptions = errors.New("source: invalid options")

const (
	// DefaultMaxZoom applies when neither options nor fetched metadata
	// declare a maxzoom.
	DefaultMaxZoom = 22
	// DefaultRasterTileSize is the raster flavor's tile size.
	DefaultRasterTileSize = 512
)

// Options describe a source. Either URL (a TileJSON endpoint) or Tiles
// (inline metadata) must be given.
type Options struct {
	ID   string `json:"id" validate:"required"`
	Kind Kind   `json:"type"`

	URL string `json:"url,omitempty" validate:"required_without=Tiles,omitempty,url"`

	// Inline metadata, used when URL is empty.
	Tiles        []string      `json:"tiles,omitempty" validate:"required_without=URL,omitempty,dive,required"`
	MinZoom      int           `json:"minzoom,omitempty" validate:"gte=0,lte=24"`
	MaxZoom      *int          `json:"maxzoom,omitempty" validate:"omitempty,gte=0,lte=24"` // nil => DefaultMaxZoom
	Attribution  string        `json:"attribution,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty" validate:"dive"`
	Index        string        `json:"index,omitempty" validate:"omitempty,url"`

	// Pyramid tuning.
	TileSize          int  `json:"tileSize,omitempty" validate:"gte=0"`
	TileExtent        int  `json:"tileExtent,omitempty" validate:"gte=0"`
	CacheSize         int  `json:"cacheSize,omitempty"`
	RoundZoom         bool `json:"roundZoom,omitempty"`
	ReparseOverscaled bool `json:"reparseOverscaled,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks o. Errors wrap ErrInvalidOptions.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if o.MaxZoom != nil && *o.MaxZoom < o.MinZoom {
		return fmt.Errorf("%w: maxzoom %d below minzoom %d", ErrInvalidOptions, *o.MaxZoom, o.MinZoom)
	}
	return nil
}

// inlineMetadata treats the options themselves as resolved metadata.
func (o Options) inlineMetadata() Metadata {
	m := Metadata{
		Tiles:        o.Tiles,
		MinZoom:      o.MinZoom,
		MaxZoom:      DefaultMaxZoom,
		Attribution:  o.Attribution,
		VectorLayers: o.VectorLayers,
		Index:        o.Index,
	}
	if o.MaxZoom != nil {
		m.MaxZoom = *o.MaxZoom
	}
	return m
}

// VectorLayer describes one layer of a vector source.
type VectorLayer struct {
	ID          string            `json:"id" validate:"required"`
	Description string            `json:"description,omitempty"`
	MinZoom     int               `json:"minzoom,omitempty"`
	MaxZoom     int               `json:"maxzoom,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Metadata is the TileJSON subset a source consumes. It is immutable once
// applied.
type Metadata struct {
	Tiles        []string      `json:"tiles" validate:"required,min=1,dive,required"`
	MinZoom      int           `json:"minzoom" validate:"gte=0,lte=24"`
	MaxZoom      int           `json:"maxzoom" validate:"gte=0,lte=24,gtefield=MinZoom"`
	Attribution  string        `json:"attribution,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty"`
	Index        string        `json:"index,omitempty"`
}

func (m Metadata) validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("source: invalid metadata: %w", err)
	}
	return nil
}

// IndexManifest is the document an index URL points to: the list of
// [z, x, y] tiles the source has.
type IndexManifest struct {
	Index [][3]int `json:"index"`
}

// Coords returns the manifest's valid entries and the number dropped.
func (im IndexManifest) Coords() (coords []coord.Coord, dropped int) {
	coords = make([]coord.Coord, 0, len(im.Index))
	for _, e := range im.Index {
		c := coord.New(e[0], e[1], e[2], 0)
		if !c.Valid() {
			dropped++
			continue
		}
		coords = append(coords, c)
	}
	return coords, dropped
}
