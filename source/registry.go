package source

import (
	"errors"
	"fmt"
)

// ErrUnsupportedKind is returned for kinds without a tiled flavor.
var ErrUnsupportedKind = errors.New("source: unsupported kind")

// Flavor describes how a Kind is built.
type Flavor struct {
	// Defaults fills kind-specific option defaults.
	Defaults func(*Options)
	// Queryable flavors answer feature queries.
	Queryable bool
}

// Registry maps each Kind to its flavor. Build it once at startup and pass
// it to whoever creates sources.
type Registry struct {
	flavors map[Kind]Flavor
}

// NewRegistry returns a registry with the built-in tiled flavors. Video and
// image sources are not tiled and are left unregistered.
func NewRegistry() *Registry {
	r := &Registry{flavors: make(map[Kind]Flavor)}
	r.Register(KindVector, Flavor{
		Defaults:  func(o *Options) { o.ReparseOverscaled = true },
		Queryable: true,
	})
	r.Register(KindRaster, Flavor{
		Defaults: func(o *Options) {
			if o.TileSize == 0 {
				o.TileSize = DefaultRasterTileSize
			}
		},
	})
	r.Register(KindGeoJSON, Flavor{
		Defaults:  func(o *Options) { o.ReparseOverscaled = true },
		Queryable: true,
	})
	return r
}

// Register installs or replaces the flavor for k.
func (r *Registry) Register(k Kind, f Flavor) { r.flavors[k] = f }

// Flavor returns the flavor registered for k.
func (r *Registry) Flavor(k Kind) (Flavor, bool) {
	f, ok := r.flavors[k]
	return f, ok
}

// New applies the flavor defaults for opt.Kind and constructs the source.
func (r *Registry) New(opt Options, deps Deps) (*Source, error) {
	f, ok := r.flavors[opt.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, opt.Kind)
	}
	if f.Defaults != nil {
		f.Defaults(&opt)
	}
	return New(opt, deps)
}

// Queryable reports whether sources of kind k answer feature queries.
func (r *Registry) Queryable(k Kind) bool { return r.flavors[k].Queryable }
