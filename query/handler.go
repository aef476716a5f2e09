package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/IvanBrykalov/tilecache/worker"
	"github.com/samber/lo"
)

// ErrBadQuery is returned by the worker handler for unknown payloads.
var ErrBadQuery = errors.New("query: unexpected job payload")

// DefaultTileSize converts a pixel radius into tile units when the caller
// gives no "tileSize" parameter.
const DefaultTileSize = 512

// Lookup returns the parsed data a worker holds for a tile uid.
type Lookup func(w *worker.Worker, uid uint64) (any, bool)

// Handler returns the worker-side handler for JobQueryFeatures. It answers
// against the *FeatureIndex lookup finds for the tile; a tile the worker no
// longer holds yields no features.
//
// Recognized params: "radius" (pixels, point queries), "tileSize" (pixels)
// and "layers" (list of layer names).
func Handler(lookup Lookup) worker.Handler {
	return func(_ context.Context, w *worker.Worker, payload any) (any, error) {
		switch q := payload.(type) {
		case PointQuery:
			ix, ok := indexFor(lookup, w, q.UID)
			if !ok {
				return []Feature{}, nil
			}
			k := extentRatio(ix, q.TileExtent)
			tileSize := paramFloat(q.Params, "tileSize", DefaultTileSize)
			scale := q.Scale
			if scale <= 0 {
				scale = 1
			}
			radius := paramFloat(q.Params, "radius", 0) * float64(ix.Extent) / tileSize / scale
			return ix.At(q.X*k, q.Y*k, radius, layerSet(q.Params)), nil

		case AreaQuery:
			ix, ok := indexFor(lookup, w, q.UID)
			if !ok {
				return []Feature{}, nil
			}
			k := extentRatio(ix, q.TileExtent)
			return ix.In(q.MinX*k, q.MinY*k, q.MaxX*k, q.MaxY*k, layerSet(q.Params)), nil

		default:
			return nil, fmt.Errorf("%w: %T", ErrBadQuery, payload)
		}
	}
}

func indexFor(lookup Lookup, w *worker.Worker, uid uint64) (*FeatureIndex, bool) {
	v, ok := lookup(w, uid)
	if !ok {
		return nil, false
	}
	ix, ok := v.(*FeatureIndex)
	return ix, ok
}

// extentRatio converts query positions into the index's extent units.
func extentRatio(ix *FeatureIndex, tileExtent int) float64 {
	if tileExtent <= 0 {
		return 1
	}
	return float64(ix.Extent) / float64(tileExtent)
}

func paramFloat(p Params, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return def
}

// layerSet accepts []string or, as decoded from JSON, []any.
func layerSet(p Params) map[string]struct{} {
	var names []string
	switch v := p["layers"].(type) {
	case []string:
		names = v
	case []any:
		names = lo.FilterMap(v, func(x any, _ int) (string, bool) {
			s, ok := x.(string)
			return s, ok
		})
	}
	if len(names) == 0 {
		return nil
	}
	return lo.Keyify(names)
}
