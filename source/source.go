// Package source bootstraps a tiled source: it resolves metadata (inline or
// fetched from a TileJSON URL), optionally fetches the sparse tile index,
// and builds the source's tile pyramid. Bootstrap ends in exactly one
// terminal Event.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/pyramid"
	"github.com/samber/lo"
)

// Fetcher retrieves a JSON document. It is called off the owner goroutine.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string, v any) error
}

// Scheduler runs callbacks on the goroutine that owns the source.
type Scheduler interface {
	// Post queues fn; it fails once the scheduler has stopped.
	Post(fn func()) error
	// ScheduleNext defers fn to the next frame.
	ScheduleNext(fn func())
}

// TileIO supplies the tile lifecycle callbacks for a source's pyramid once
// its metadata is known.
type TileIO interface {
	Callbacks(sourceID string, tiles []string) pyramid.Callbacks
}

// Deps are a source's collaborators.
type Deps struct {
	Fetcher   Fetcher
	Scheduler Scheduler
	TileIO    TileIO
	Metrics   pyramid.Metrics
	Logger    logger.Logger
}

// EventKind distinguishes terminal bootstrap events.
type EventKind int

const (
	EventLoad EventKind = iota
	EventError
)

func (k EventKind) String() string {
	if k == EventLoad {
		return "load"
	}
	return "error"
}

// Event is the single terminal outcome of Load.
type Event struct {
	Kind EventKind
	Err  error
}

// Source is one tiled data source. Except for Events and ID it must be used
// from the owner goroutine, the one its Scheduler runs callbacks on.
type Source struct {
	opt  Options
	deps Deps
	log  logger.Logger

	events chan Event
	once   sync.Once
	began  bool

	meta     Metadata
	layerIDs []string
	pyr      *pyramid.Pyramid
}

// New builds an unloaded source from validated options. Call Load to start
// the bootstrap.
func New(opt Options, deps Deps) (*Source, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if deps.Scheduler == nil || deps.TileIO == nil || (opt.URL != "" && deps.Fetcher == nil) {
		return nil, fmt.Errorf("%w: missing collaborator for source %q", ErrInvalidOptions, opt.ID)
	}
	return &Source{
		opt:    opt,
		deps:   deps,
		log:    logger.OrNop(deps.Logger),
		events: make(chan Event, 1),
	}, nil
}

// ID returns the source id carried in query payloads.
func (s *Source) ID() string { return s.opt.ID }

// Kind returns the source flavor.
func (s *Source) Kind() Kind { return s.opt.Kind }

// Events receives exactly one Event after Load and is then closed.
func (s *Source) Events() <-chan Event { return s.events }

// Load starts the bootstrap. Inline metadata is applied on the next frame
// so that inline and remote sources report at a consistent point relative
// to rendering. Calls after the first are ignored.
func (s *Source) Load(ctx context.Context) {
	if s.began {
		return
	}
	s.began = true

	if s.opt.URL == "" {
		meta := s.opt.inlineMetadata()
		s.deps.Scheduler.ScheduleNext(func() { s.loaded(ctx, meta, nil) })
		return
	}

	url := s.opt.URL
	go func() {
		meta := Metadata{MaxZoom: DefaultMaxZoom}
		err := s.deps.Fetcher.FetchJSON(ctx, url, &meta)
		if err != nil {
			err = fmt.Errorf("source %q: fetch metadata: %w", s.opt.ID, err)
		}
		s.post(func() { s.loaded(ctx, meta, err) })
	}()
}

// loaded applies fetched or inline metadata. Runs on the owner goroutine.
func (s *Source) loaded(ctx context.Context, meta Metadata, err error) {
	if err == nil {
		err = meta.validate()
	}
	if err != nil {
		s.fail(err)
		return
	}

	s.meta = meta
	if len(meta.VectorLayers) > 0 {
		s.layerIDs = lo.Map(meta.VectorLayers, func(l VectorLayer, _ int) string { return l.ID })
	}

	if meta.Index == "" {
		s.build(nil)
		return
	}

	indexURL := meta.Index
	go func() {
		var manifest IndexManifest
		err := s.deps.Fetcher.FetchJSON(ctx, indexURL, &manifest)
		s.post(func() {
			if err != nil {
				s.fail(fmt.Errorf("source %q: fetch index: %w", s.opt.ID, err))
				return
			}
			coords, dropped := manifest.Coords()
			if dropped > 0 {
				s.log.Warn("source: dropped invalid index entries", "source", s.opt.ID, "dropped", dropped)
			}
			s.build(pyramid.NewIndex(coords))
		})
	}()
}

func (s *Source) build(index pyramid.Index) {
	s.pyr = pyramid.New(pyramid.Options{
		CacheSize:         s.opt.CacheSize,
		MinZoom:           s.meta.MinZoom,
		MaxZoom:           s.meta.MaxZoom,
		TileSize:          s.opt.TileSize,
		TileExtent:        s.opt.TileExtent,
		RoundZoom:         s.opt.RoundZoom,
		ReparseOverscaled: s.opt.ReparseOverscaled,
		Index:             index,
		Callbacks:         s.deps.TileIO.Callbacks(s.opt.ID, s.meta.Tiles),
		Metrics:           s.deps.Metrics,
		Logger:            s.deps.Logger,
	})
	s.log.Info("source: loaded", "source", s.opt.ID, "kind", s.opt.Kind.String(),
		"minzoom", s.meta.MinZoom, "maxzoom", s.meta.MaxZoom, "indexed", index != nil)
	s.emit(Event{Kind: EventLoad})
}

func (s *Source) fail(err error) {
	s.log.Error("source: bootstrap failed", "source", s.opt.ID, "error", err)
	s.emit(Event{Kind: EventError, Err: err})
}

// emit delivers the terminal event. Later calls are dropped.
func (s *Source) emit(ev Event) {
	s.once.Do(func() {
		s.events <- ev
		close(s.events)
	})
}

// post hands fn to the owner goroutine. If it has stopped, the bootstrap
// can never finish and is reported as failed.
func (s *Source) post(fn func()) {
	if err := s.deps.Scheduler.Post(fn); err != nil {
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("source %q: %w", s.opt.ID, err)})
	}
}

// Loaded reports whether the pyramid has been built.
func (s *Source) Loaded() bool { return s.pyr != nil }

// Pyramid returns the source's pyramid, or nil before a successful load.
func (s *Source) Pyramid() *pyramid.Pyramid { return s.pyr }

// Metadata returns the applied metadata (zero before load).
func (s *Source) Metadata() Metadata { return s.meta }

// VectorLayerIDs returns the ids of the declared vector layers.
func (s *Source) VectorLayerIDs() []string { return s.layerIDs }

// Retain forwards the needed coordinates to the pyramid. Before load it is
// a no-op.
func (s *Source) Retain(coords []coord.Coord) {
	if s.pyr == nil {
		return
	}
	s.pyr.Retain(coords)
}

// Tile returns the cached tile for c, or nil.
func (s *Source) Tile(c coord.Coord) *pyramid.Tile {
	if s.pyr == nil {
		return nil
	}
	return s.pyr.Tile(c.ID())
}

// VisibleCoordinates returns the coordinates of the rendered tiles, empty
// before load.
func (s *Source) VisibleCoordinates() []coord.Coord {
	if s.pyr == nil {
		return []coord.Coord{}
	}
	return lo.Map(s.pyr.RenderedIDs(), func(id coord.ID, _ int) coord.Coord { return id.Coord() })
}

// RedoPlacement re-runs placement for every cached tile without refetching.
func (s *Source) RedoPlacement() {
	if s.pyr == nil {
		return
	}
	s.pyr.RedoPlacement()
}

// Clear drops every cached tile; used on teardown.
func (s *Source) Clear() {
	if s.pyr == nil {
		return
	}
	s.pyr.Clear()
}
