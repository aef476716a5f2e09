package tileio

import (
	"context"
	"fmt"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/worker"
)

// Worker job names.
const (
	JobLoadTile      = "load tile"
	JobRemoveTile    = "remove tile"
	JobRedoPlacement = "redo placement"
)

// LoadJob carries a fetched payload to the tile's worker.
type LoadJob struct {
	UID    uint64
	Source string
	Coord  coord.Coord
	Data   []byte
}

// TileRef names a tile held by a worker.
type TileRef struct {
	UID uint64
}

// Decoder parses a raw payload into the worker-side representation.
type Decoder func(data []byte) (any, error)

// Handler registers worker job handlers; *worker.Pool implements it.
type Handler interface {
	Handle(name string, h worker.Handler)
}

type entry struct {
	raw     []byte
	decoded any
}

// RegisterHandlers installs the worker side of the tile lifecycle: parsing
// loaded payloads, dropping removed tiles and re-deriving placement.
func RegisterHandlers(h Handler, decode Decoder) {
	h.Handle(JobLoadTile, func(_ context.Context, w *worker.Worker, payload any) (any, error) {
		job, ok := payload.(LoadJob)
		if !ok {
			return nil, fmt.Errorf("tileio: bad %s payload %T", JobLoadTile, payload)
		}
		v, err := decode(job.Data)
		if err != nil {
			return nil, fmt.Errorf("tileio: parse %s %s: %w", job.Source, job.Coord, err)
		}
		w.Put(job.UID, entry{raw: job.Data, decoded: v})
		return featureCount(v), nil
	})

	h.Handle(JobRemoveTile, func(_ context.Context, w *worker.Worker, payload any) (any, error) {
		ref, ok := payload.(TileRef)
		if !ok {
			return nil, fmt.Errorf("tileio: bad %s payload %T", JobRemoveTile, payload)
		}
		w.Delete(ref.UID)
		return nil, nil
	})

	h.Handle(JobRedoPlacement, func(_ context.Context, w *worker.Worker, payload any) (any, error) {
		ref, ok := payload.(TileRef)
		if !ok {
			return nil, fmt.Errorf("tileio: bad %s payload %T", JobRedoPlacement, payload)
		}
		v, ok := w.Get(ref.UID)
		if !ok {
			return nil, nil
		}
		e := v.(entry)
		decoded, err := decode(e.raw)
		if err != nil {
			return nil, err
		}
		w.Put(ref.UID, entry{raw: e.raw, decoded: decoded})
		return featureCount(decoded), nil
	})
}

// Lookup returns the decoded payload worker w holds for uid. It has the
// shape query.Handler expects.
func Lookup(w *worker.Worker, uid uint64) (any, bool) {
	v, ok := w.Get(uid)
	if !ok {
		return nil, false
	}
	return v.(entry).decoded, true
}

func featureCount(v any) int {
	if l, ok := v.(interface{ Len() int }); ok {
		return l.Len()
	}
	return 0
}
