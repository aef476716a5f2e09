// Package tileio performs tile I/O for sources: it fetches payloads over
// HTTP (through an optional payload store), hands them to the tile's
// worker for parsing and reports completions back on the owner loop.
package tileio

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/fetch"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/pyramid"
	"github.com/IvanBrykalov/tilecache/store"
	"github.com/IvanBrykalov/tilecache/worker"
)

// Fetcher downloads a tile payload.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Workers is the worker pool as seen by the loader; *worker.Pool
// implements it.
type Workers interface {
	Send(ctx context.Context, job worker.Job) <-chan worker.Reply
	Next() int
}

// Poster runs a callback on the owner goroutine; *loop.Loop implements it.
type Poster interface {
	Post(fn func()) error
}

// Options configures a Loader. Fetcher, Workers and Loop are required.
type Options struct {
	Fetcher Fetcher
	Workers Workers
	Loop    Poster
	// Store caches raw payloads; nil disables it.
	Store  store.Store
	Logger logger.Logger
}

// Payload is what a loaded tile carries on the owner side. The parsed data
// stays on the worker.
type Payload struct {
	Size     int
	Features int
	// Empty marks a tile the upstream does not have (404).
	Empty bool
	// Cached marks a payload served from the store.
	Cached bool
}

// Loader implements the pyramid callbacks for any number of sources.
// Callbacks run on the owner goroutine; the loader's bookkeeping is
// confined to it.
type Loader struct {
	opt Options
	log logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inflight map[uint64]context.CancelFunc
	live     map[string]int
}

// New constructs a Loader.
func New(opt Options) *Loader {
	if opt.Fetcher == nil || opt.Workers == nil || opt.Loop == nil {
		panic("tileio: Fetcher, Workers and Loop are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		opt:      opt,
		log:      logger.OrNop(opt.Logger),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[uint64]context.CancelFunc),
		live:     make(map[string]int),
	}
}

// Callbacks returns the pyramid callbacks for one source.
func (l *Loader) Callbacks(sourceID string, tiles []string) pyramid.Callbacks {
	return pyramid.Callbacks{
		Load:          func(t *pyramid.Tile, c pyramid.Completion) { l.load(sourceID, tiles, t, c) },
		Abort:         l.abort,
		Unload:        l.release,
		Add:           func(*pyramid.Tile) { l.live[sourceID]++ },
		Remove:        func(*pyramid.Tile) { l.live[sourceID]-- },
		RedoPlacement: l.redoPlacement,
	}
}

// Inflight returns the number of loads in progress.
func (l *Loader) Inflight() int { return len(l.inflight) }

// Live returns the number of tiles sourceID's pyramid currently holds.
func (l *Loader) Live(sourceID string) int { return l.live[sourceID] }

// Close cancels every request in progress.
func (l *Loader) Close() { l.cancel() }

func (l *Loader) load(sourceID string, templates []string, t *pyramid.Tile, done pyramid.Completion) {
	if t.WorkerID == pyramid.NoWorker {
		t.WorkerID = l.opt.Workers.Next()
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.inflight[t.UID] = cancel

	uid, wid, c := t.UID, t.WorkerID, t.Coord
	url := TileURL(templates, c)
	go func() {
		payload, err := l.fetch(ctx, sourceID, url, c)
		if err == nil {
			payload.Features, err = l.parse(ctx, wid, LoadJob{UID: uid, Source: sourceID, Coord: c, Data: payload.data})
		}
		postErr := l.opt.Loop.Post(func() {
			if cancel, ok := l.inflight[uid]; ok {
				cancel()
				delete(l.inflight, uid)
			}
			done.Done(payload.Payload, err)
		})
		if postErr != nil {
			cancel()
		}
	}()
}

type fetched struct {
	Payload
	data []byte
}

func (l *Loader) fetch(ctx context.Context, sourceID, url string, c coord.Coord) (fetched, error) {
	key := store.Key{Source: sourceID, Coord: c}
	if l.opt.Store != nil {
		data, found, err := l.opt.Store.Get(ctx, key)
		switch {
		case err != nil:
			l.log.Warn("tileio: store get failed", "key", key.String(), "error", err)
		case found:
			return fetched{Payload: Payload{Size: len(data), Cached: true}, data: data}, nil
		}
	}

	start := time.Now()
	data, err := l.opt.Fetcher.FetchBytes(ctx, url)
	if err != nil {
		if fetch.StatusCode(err) == http.StatusNotFound {
			return fetched{Payload: Payload{Empty: true}}, nil
		}
		if !errors.Is(err, context.Canceled) {
			l.log.Warn("tileio: fetch failed", "url", url, "error", err)
		}
		return fetched{}, err
	}
	l.log.Debug("tileio: fetched tile", "url", url, "size", len(data), "latency", time.Since(start))

	if l.opt.Store != nil {
		if err := l.opt.Store.Set(ctx, key, data); err != nil {
			l.log.Warn("tileio: store set failed", "key", key.String(), "error", err)
		}
	}
	return fetched{Payload: Payload{Size: len(data)}, data: data}, nil
}

// parse hands the payload to the tile's worker and returns its feature count.
func (l *Loader) parse(ctx context.Context, workerID int, job LoadJob) (int, error) {
	r := <-l.opt.Workers.Send(ctx, worker.Job{Name: JobLoadTile, WorkerID: workerID, Payload: job})
	if r.Err != nil {
		return 0, r.Err
	}
	n, _ := r.Value.(int)
	return n, nil
}

func (l *Loader) abort(t *pyramid.Tile) {
	if cancel, ok := l.inflight[t.UID]; ok {
		cancel()
		delete(l.inflight, t.UID)
	}
	l.release(t)
}

// release frees the tile's state on its worker.
func (l *Loader) release(t *pyramid.Tile) {
	l.tell(t, JobRemoveTile, TileRef{UID: t.UID})
}

func (l *Loader) redoPlacement(t *pyramid.Tile) {
	if t.State != pyramid.StateLoaded {
		return
	}
	l.tell(t, JobRedoPlacement, TileRef{UID: t.UID})
}

// tell sends a job whose reply nobody waits for, without blocking the owner.
func (l *Loader) tell(t *pyramid.Tile, name string, payload any) {
	if t.WorkerID == pyramid.NoWorker {
		return
	}
	job := worker.Job{Name: name, WorkerID: t.WorkerID, Payload: payload}
	go func() {
		if r := <-l.opt.Workers.Send(context.Background(), job); r.Err != nil && !errors.Is(r.Err, worker.ErrClosed) {
			l.log.Warn("tileio: worker job failed", "job", name, "worker", job.WorkerID, "error", r.Err)
		}
	}()
}
