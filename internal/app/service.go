package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/loop"
	"github.com/IvanBrykalov/tilecache/metrics/prom"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/query"
	"github.com/IvanBrykalov/tilecache/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

var (
	ErrSourceExists   = errors.New("app: source already exists")
	ErrSourceNotFound = errors.New("app: source not found")
	ErrNotQueryable   = errors.New("app: source does not answer feature queries")
)

const metricsNamespace = "tilecache"

// Service owns the sources. Every method hops onto the loop, which is the
// only goroutine touching sources and their pyramids.
type Service struct {
	loop     *loop.Loop
	registry *source.Registry
	deps     source.Deps
	disp     *query.Dispatcher
	live     func(sourceID string) int
	reg      prometheus.Registerer
	log      logger.Logger

	// loop-owned
	sources map[string]*source.Source
	metrics map[string]*prom.Adapter
}

// SourceInfo is a snapshot of one source.
type SourceInfo struct {
	ID           string          `json:"id"`
	Kind         source.Kind     `json:"type"`
	Loaded       bool            `json:"loaded"`
	Queryable    bool            `json:"queryable"`
	Tiles        int             `json:"tiles"`
	Retained     int             `json:"retained"`
	VectorLayers []string        `json:"vector_layers,omitempty"`
	Metadata     source.Metadata `json:"metadata"`
}

// TilesInfo describes the tiles a source holds.
type TilesInfo struct {
	Visible []coord.Coord `json:"visible"`
	Cached  []coord.Coord `json:"cached"`
	Live    int           `json:"live"`
}

func newService(l *loop.Loop, registry *source.Registry, deps source.Deps, disp *query.Dispatcher,
	live func(string) int, reg prometheus.Registerer, log logger.Logger) *Service {
	return &Service{
		loop:     l,
		registry: registry,
		deps:     deps,
		disp:     disp,
		live:     live,
		reg:      reg,
		log:      logger.OrNop(log),
		sources:  make(map[string]*source.Source),
		metrics:  make(map[string]*prom.Adapter),
	}
}

// AddSource creates a source and starts its bootstrap. The returned channel
// carries the source's terminal event.
func (s *Service) AddSource(ctx context.Context, opt source.Options) (<-chan source.Event, error) {
	var (
		src *source.Source
		err error
	)
	if doErr := s.loop.Do(ctx, func() {
		if _, ok := s.sources[opt.ID]; ok {
			err = fmt.Errorf("%w: %q", ErrSourceExists, opt.ID)
			return
		}
		deps := s.deps
		deps.Metrics = s.metricsFor(opt.ID)
		if src, err = s.registry.New(opt, deps); err != nil {
			return
		}
		s.sources[opt.ID] = src
		// The bootstrap outlives the request that created the source.
		src.Load(context.WithoutCancel(ctx))
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}

	events := make(chan source.Event, 1)
	go func() {
		ev := <-src.Events()
		if ev.Kind == source.EventError {
			s.log.Error("source failed to load", "source", opt.ID, "error", ev.Err)
		}
		events <- ev
		close(events)
	}()
	return events, nil
}

// metricsFor returns the adapter for id. Adapters outlive their sources so
// a re-added id does not register its collectors twice.
func (s *Service) metricsFor(id string) *prom.Adapter {
	m, ok := s.metrics[id]
	if !ok {
		m = prom.New(s.reg, metricsNamespace, "pyramid", prometheus.Labels{"source": id})
		s.metrics[id] = m
	}
	return m
}

// RemoveSource clears and forgets a source.
func (s *Service) RemoveSource(ctx context.Context, id string) error {
	return s.withSource(ctx, id, func(src *source.Source) error {
		src.Clear()
		delete(s.sources, id)
		return nil
	})
}

// Sources lists every source, sorted by id.
func (s *Service) Sources(ctx context.Context) ([]SourceInfo, error) {
	var infos []SourceInfo
	if err := s.loop.Do(ctx, func() {
		infos = lo.MapToSlice(s.sources, func(_ string, src *source.Source) SourceInfo { return s.info(src) })
	}); err != nil {
		// The task may still run on the loop later and write infos.
		return nil, err
	}
	slices.SortFunc(infos, func(a, b SourceInfo) int { return strings.Compare(a.ID, b.ID) })
	return infos, nil
}

// Source returns one source's snapshot.
func (s *Service) Source(ctx context.Context, id string) (SourceInfo, error) {
	var info SourceInfo
	err := s.withSource(ctx, id, func(src *source.Source) error {
		info = s.info(src)
		return nil
	})
	return info, err
}

func (s *Service) info(src *source.Source) SourceInfo {
	info := SourceInfo{
		ID:           src.ID(),
		Kind:         src.Kind(),
		Loaded:       src.Loaded(),
		Queryable:    s.registry.Queryable(src.Kind()),
		VectorLayers: src.VectorLayerIDs(),
		Metadata:     src.Metadata(),
	}
	if p := src.Pyramid(); p != nil {
		info.Tiles = p.Len()
		info.Retained = p.RetainedLen()
	}
	return info
}

// Retain sets the tiles a source must keep.
func (s *Service) Retain(ctx context.Context, id string, coords []coord.Coord) error {
	return s.withSource(ctx, id, func(src *source.Source) error {
		src.Retain(coords)
		return nil
	})
}

// Tiles reports the visible and cached tiles of a source.
func (s *Service) Tiles(ctx context.Context, id string) (TilesInfo, error) {
	var ti TilesInfo
	err := s.withSource(ctx, id, func(src *source.Source) error {
		ti.Visible = src.VisibleCoordinates()
		ti.Cached = []coord.Coord{}
		if p := src.Pyramid(); p != nil {
			ti.Cached = lo.Map(p.OrderedIDs(), func(id coord.ID, _ int) coord.Coord { return id.Coord() })
		}
		ti.Live = s.live(id)
		return nil
	})
	return ti, err
}

// RedoPlacement re-runs placement for every cached tile of a source.
func (s *Service) RedoPlacement(ctx context.Context, id string) error {
	return s.withSource(ctx, id, func(src *source.Source) error {
		src.RedoPlacement()
		return nil
	})
}

// FeaturesAt runs a point query and waits for its result.
func (s *Service) FeaturesAt(ctx context.Context, id string, pt coord.Point, params query.Params) ([]query.Feature, error) {
	return s.query(ctx, id, func(src *source.Source) *query.Future {
		return s.disp.FeaturesAt(ctx, src, pt, params)
	})
}

// FeaturesIn runs an area query and waits for its result.
func (s *Service) FeaturesIn(ctx context.Context, id string, b coord.Bounds, params query.Params) ([]query.Feature, error) {
	return s.query(ctx, id, func(src *source.Source) *query.Future {
		return s.disp.FeaturesIn(ctx, src, b, params)
	})
}

func (s *Service) query(ctx context.Context, id string, start func(*source.Source) *query.Future) ([]query.Feature, error) {
	var f *query.Future
	err := s.withSource(ctx, id, func(src *source.Source) error {
		if !s.registry.Queryable(src.Kind()) {
			return fmt.Errorf("%w: %q is %s", ErrNotQueryable, id, src.Kind())
		}
		f = start(src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Close clears every source. The loop must still be running.
func (s *Service) Close(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		for id, src := range s.sources {
			src.Clear()
			delete(s.sources, id)
		}
	})
}

func (s *Service) withSource(ctx context.Context, id string, fn func(*source.Source) error) error {
	var err error
	if doErr := s.loop.Do(ctx, func() {
		src, ok := s.sources[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrSourceNotFound, id)
			return
		}
		err = fn(src)
	}); doErr != nil {
		return doErr
	}
	return err
}

// decodeTile parses feature tiles; anything that is not a JSON document
// (raster imagery) is kept opaque.
func decodeTile(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data, nil
	}
	return query.DecodeFeatures(trimmed)
}
