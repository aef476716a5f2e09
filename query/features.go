package query

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/samber/lo"
)

// Feature is one feature returned by a query: its properties plus whatever
// the worker adds (layer, geometry type, ...).
type Feature map[string]any

// Params are caller-supplied query parameters, forwarded to the worker.
type Params map[string]any

// PointFeature is a feature anchored at a tile-local position.
type PointFeature struct {
	X, Y       float64
	Layer      string
	Properties map[string]any
}

// FeatureIndex is a worker's parsed view of one tile. Positions are in tile
// extent units.
type FeatureIndex struct {
	Extent   int
	Features []PointFeature
}

type wireFeature struct {
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Layer      string         `json:"layer,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type wireTile struct {
	Extent   int           `json:"extent"`
	Features []wireFeature `json:"features"`
}

// DecodeFeatures parses a JSON feature tile of the form
//
//	{"extent": 4096, "features": [{"x": 1, "y": 2, "layer": "poi", "properties": {...}}]}
//
// into a *FeatureIndex. Empty input decodes to an empty index.
func DecodeFeatures(data []byte) (any, error) {
	ix := &FeatureIndex{Extent: 4096}
	if len(data) == 0 {
		return ix, nil
	}
	var w wireTile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("query: decode feature tile: %w", err)
	}
	if w.Extent > 0 {
		ix.Extent = w.Extent
	}
	ix.Features = make([]PointFeature, len(w.Features))
	for i, f := range w.Features {
		ix.Features[i] = PointFeature{X: f.X, Y: f.Y, Layer: f.Layer, Properties: f.Properties}
	}
	return ix, nil
}

// At returns the features within radius of (x, y), in index order.
func (ix *FeatureIndex) At(x, y, radius float64, layers map[string]struct{}) []Feature {
	out := []Feature{}
	for _, f := range ix.Features {
		if !layerWanted(layers, f.Layer) {
			continue
		}
		if math.Hypot(f.X-x, f.Y-y) <= radius {
			out = append(out, f.feature())
		}
	}
	return out
}

// In returns the features inside the rectangle, in index order.
func (ix *FeatureIndex) In(minX, minY, maxX, maxY float64, layers map[string]struct{}) []Feature {
	out := []Feature{}
	for _, f := range ix.Features {
		if !layerWanted(layers, f.Layer) {
			continue
		}
		if f.X >= minX && f.X <= maxX && f.Y >= minY && f.Y <= maxY {
			out = append(out, f.feature())
		}
	}
	return out
}

func (f PointFeature) feature() Feature {
	out := Feature(lo.Assign(f.Properties))
	if f.Layer != "" {
		out["$layer"] = f.Layer
	}
	return out
}

func layerWanted(layers map[string]struct{}, layer string) bool {
	if len(layers) == 0 {
		return true
	}
	_, ok := layers[layer]
	return ok
}

// Len returns the number of features.
func (ix *FeatureIndex) Len() int { return len(ix.Features) }
