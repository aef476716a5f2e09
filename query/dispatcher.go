// Package query answers point and area feature queries against a source's
// cached tiles. Each covering tile becomes one job sent to the worker that
// holds the tile (tile.WorkerID); area queries join the replies, failing on
// the first error.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/internal/join"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/pyramid"
	"github.com/IvanBrykalov/tilecache/worker"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobQueryFeatures is the worker job name for both query shapes.
const JobQueryFeatures = "query features"

const tracerName = "github.com/IvanBrykalov/tilecache/query"

// ErrBadReply is returned when a worker replies with something other than
// a feature list.
var ErrBadReply = errors.New("query: unexpected worker reply")

// PointQuery is the job payload of a point query.
type PointQuery struct {
	UID        uint64
	Source     string
	X, Y       float64
	TileExtent int
	Scale      float64
	Params     Params
}

// AreaQuery is the job payload of an area query; one per covering tile.
type AreaQuery struct {
	UID        uint64
	Source     string
	MinX, MaxX float64
	MinY, MaxY float64
	TileExtent int
	Scale      float64
	Params     Params
}

// Sender dispatches jobs to workers; *worker.Pool implements it.
type Sender interface {
	Send(ctx context.Context, job worker.Job) <-chan worker.Reply
}

// Source is what the dispatcher needs from a source. Pyramid returns nil
// until the source has loaded.
type Source interface {
	ID() string
	Pyramid() *pyramid.Pyramid
}

// Options configures a Dispatcher.
type Options struct {
	Workers Sender
	Metrics Metrics
	Logger  logger.Logger
	Tracer  trace.Tracer
}

// Dispatcher routes queries to workers.
type Dispatcher struct {
	workers Sender
	metrics Metrics
	log     logger.Logger
	tracer  trace.Tracer
}

// NewDispatcher constructs a Dispatcher. Workers is required.
func NewDispatcher(opt Options) *Dispatcher {
	if opt.Workers == nil {
		panic("query: Options.Workers is required")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Tracer == nil {
		opt.Tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		workers: opt.Workers,
		metrics: opt.Metrics,
		log:     logger.OrNop(opt.Logger),
		tracer:  opt.Tracer,
	}
}

// FeaturesAt queries the features at pt. It reads the pyramid, so it must
// be called on the source's owner goroutine; the returned Future may be
// waited on anywhere. No pyramid or no loaded tile yields an empty result.
func (d *Dispatcher) FeaturesAt(ctx context.Context, src Source, pt coord.Point, params Params) *Future {
	ctx, span := d.tracer.Start(ctx, "query.FeaturesAt", trace.WithAttributes(
		attribute.String("source", src.ID()),
		attribute.Float64("zoom", pt.Zoom),
	))
	d.metrics.QueryStarted(KindPoint)

	p := src.Pyramid()
	if p == nil {
		return d.finish(span, KindPoint, 0, []Feature{}, nil)
	}
	res, ok := p.TileAt(pt)
	if !ok {
		return d.finish(span, KindPoint, 0, []Feature{}, nil)
	}

	job := worker.Job{
		Name:     JobQueryFeatures,
		WorkerID: res.Tile.WorkerID,
		Payload: PointQuery{
			UID:        res.Tile.UID,
			Source:     src.ID(),
			X:          res.X,
			Y:          res.Y,
			TileExtent: res.Tile.TileExtent,
			Scale:      res.Scale,
			Params:     params,
		},
	}
	span.SetAttributes(attribute.String("tile", res.Tile.Coord.String()), attribute.Float64("scale", res.Scale))

	f := newFuture()
	reply := d.workers.Send(ctx, job)
	go func() {
		var r worker.Reply
		select {
		case r = <-reply:
		case <-ctx.Done():
			r = worker.Reply{Err: ctx.Err()}
		}
		features, err := features(r)
		if err != nil {
			d.log.Warn("query: point query failed", "source", src.ID(), "worker", job.WorkerID, "error", err)
		}
		d.settle(f, span, KindPoint, 1, features, err)
	}()
	return f
}

// FeaturesIn queries the features inside b. Like FeaturesAt it must be
// called on the owner goroutine. Every covering tile is queried on its own
// worker in parallel; the first error fails the whole query and discards
// partial results. Features of different tiles are concatenated in no
// particular order.
func (d *Dispatcher) FeaturesIn(ctx context.Context, src Source, b coord.Bounds, params Params) *Future {
	ctx, span := d.tracer.Start(ctx, "query.FeaturesIn", trace.WithAttributes(
		attribute.String("source", src.ID()),
		attribute.Float64("zoom", b.Min.Zoom),
	))
	d.metrics.QueryStarted(KindArea)

	p := src.Pyramid()
	if p == nil {
		return d.finish(span, KindArea, 0, []Feature{}, nil)
	}
	tiles := p.TilesIn(b)
	if len(tiles) == 0 {
		return d.finish(span, KindArea, 0, []Feature{}, nil)
	}
	span.SetAttributes(attribute.Int("tiles", len(tiles)))

	// Cancels outstanding jobs once the barrier fires.
	ctx, cancel := context.WithCancel(ctx)
	barrier := join.New[[]Feature](len(tiles))
	for i, res := range tiles {
		job := worker.Job{
			Name:     JobQueryFeatures,
			WorkerID: res.Tile.WorkerID,
			Payload: AreaQuery{
				UID:        res.Tile.UID,
				Source:     src.ID(),
				MinX:       res.MinX,
				MaxX:       res.MaxX,
				MinY:       res.MinY,
				MaxY:       res.MaxY,
				TileExtent: res.Tile.TileExtent,
				Scale:      res.Scale,
				Params:     params,
			},
		}
		reply := d.workers.Send(ctx, job)
		go func() {
			select {
			case r := <-reply:
				fs, err := features(r)
				if barrier.Deliver(i, fs, err) && err != nil {
					d.log.Warn("query: area query failed", "source", src.ID(), "worker", job.WorkerID, "error", err)
				}
			case <-barrier.Done():
			}
		}()
	}

	f := newFuture()
	go func() {
		defer cancel()
		select {
		case <-barrier.Done():
		case <-ctx.Done():
			barrier.Fail(ctx.Err())
		}
		perTile, err := barrier.Result()
		if err != nil {
			d.settle(f, span, KindArea, len(tiles), nil, err)
			return
		}
		d.settle(f, span, KindArea, len(tiles), lo.Flatten(perTile), nil)
	}()
	return f
}

// finish settles an immediate result.
func (d *Dispatcher) finish(span trace.Span, kind Kind, tiles int, fs []Feature, err error) *Future {
	f := newFuture()
	d.settle(f, span, kind, tiles, fs, err)
	return f
}

func (d *Dispatcher) settle(f *Future, span trace.Span, kind Kind, tiles int, fs []Feature, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fs = nil
	} else {
		span.SetAttributes(attribute.Int("features", len(fs)))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	d.metrics.QueryFinished(kind, tiles, err)
	f.resolve(fs, err)
}

// features validates a worker reply.
func features(r worker.Reply) ([]Feature, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	switch v := r.Value.(type) {
	case []Feature:
		return v, nil
	case nil:
		return []Feature{}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadReply, r.Value)
	}
}
