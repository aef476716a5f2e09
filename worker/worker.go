// Package worker implements an in-process pool of tile-affine workers.
//
// Every worker is one goroutine with private state. Jobs name the worker
// that must run them, so all jobs about one tile land on the worker that
// holds its parsed payload. Each Send yields exactly one Reply.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownJob is replied when no handler is registered for a job name.
	ErrUnknownJob = errors.New("worker: unknown job")
	// ErrClosed is replied when the pool is not accepting jobs.
	ErrClosed = errors.New("worker: pool closed")
)

// DefaultQueueSize is the per-worker job buffer.
const DefaultQueueSize = 64

// Job is one unit of work addressed to a worker.
type Job struct {
	Name     string
	WorkerID int
	Payload  any
}

// Reply is the outcome of a Job.
type Reply struct {
	Value any
	Err   error
}

// Handler runs a job on worker w. It is only ever called from w's goroutine,
// so it may use w's state without locking.
type Handler func(ctx context.Context, w *Worker, payload any) (any, error)

// Worker is the private state of one pool goroutine.
type Worker struct {
	ID    int
	tiles map[uint64]any
}

// Put stores v under the tile uid.
func (w *Worker) Put(uid uint64, v any) { w.tiles[uid] = v }

// Get returns the value stored under uid.
func (w *Worker) Get(uid uint64) (any, bool) {
	v, ok := w.tiles[uid]
	return v, ok
}

// Delete forgets uid.
func (w *Worker) Delete(uid uint64) { delete(w.tiles, uid) }

// Len returns the number of stored tiles.
func (w *Worker) Len() int { return len(w.tiles) }

// Options configures a Pool.
type Options struct {
	// Workers is the number of worker goroutines (default GOMAXPROCS).
	Workers int
	// QueueSize bounds each worker's pending jobs.
	QueueSize int
	Logger    logger.Logger
}

type envelope struct {
	ctx   context.Context
	job   Job
	reply chan Reply
}

// Pool is a fixed set of workers. Handlers must be registered before Start.
type Pool struct {
	opt      Options
	log      logger.Logger
	handlers map[string]Handler
	queues   []chan envelope

	mu      sync.RWMutex // guards closed against sends
	closed  bool
	started bool
	g       *errgroup.Group
	ctx     context.Context // workers' context
	cancel  context.CancelFunc

	rr atomic.Uint64
}

// New constructs a pool. Register handlers with Handle, then call Start.
func New(opt Options) *Pool {
	if opt.Workers <= 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize
	}
	p := &Pool{
		opt:      opt,
		log:      logger.OrNop(opt.Logger),
		handlers: make(map[string]Handler),
		queues:   make([]chan envelope, opt.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan envelope, opt.QueueSize)
	}
	return p
}

// Handle registers h for jobs called name. It panics after Start.
func (p *Pool) Handle(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		panic("worker: Handle after Start")
	}
	p.handlers[name] = h
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.queues) }

// Next returns worker ids in round robin order, for assigning new tiles.
func (p *Pool) Next() int {
	return int((p.rr.Add(1) - 1) % uint64(len(p.queues)))
}

// Start launches the workers. They stop when ctx is done or Close is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.g, p.ctx = errgroup.WithContext(ctx)
	ctx = p.ctx
	for i, q := range p.queues {
		w := &Worker{ID: i, tiles: make(map[uint64]any)}
		p.g.Go(func() error { return p.serve(ctx, w, q) })
	}
}

// Send submits job to the worker job.WorkerID selects (modulo the pool
// size). The returned channel receives exactly one Reply.
func (p *Pool) Send(ctx context.Context, job Job) <-chan Reply {
	reply := make(chan Reply, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || !p.started {
		reply <- Reply{Err: ErrClosed}
		return reply
	}
	if _, ok := p.handlers[job.Name]; !ok {
		reply <- Reply{Err: fmt.Errorf("%w: %q", ErrUnknownJob, job.Name)}
		return reply
	}

	q := p.queues[p.route(job.WorkerID)]
	select {
	case q <- envelope{ctx: ctx, job: job, reply: reply}:
	case <-ctx.Done():
		reply <- Reply{Err: ctx.Err()}
	case <-p.ctx.Done():
		reply <- Reply{Err: ErrClosed}
	}
	return reply
}

// Close stops accepting jobs, fails the queued ones with ErrClosed and
// waits for the workers to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	p.cancel()
	err := p.g.Wait()

	for _, q := range p.queues {
		for n := len(q); n > 0; n-- {
			env := <-q
			env.reply <- Reply{Err: ErrClosed}
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) route(workerID int) int {
	n := len(p.queues)
	return ((workerID % n) + n) % n
}

func (p *Pool) serve(ctx context.Context, w *Worker, q <-chan envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-q:
			env.reply <- p.run(w, env)
		}
	}
}

func (p *Pool) run(w *Worker, env envelope) (r Reply) {
	if err := env.ctx.Err(); err != nil {
		return Reply{Err: err}
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("worker: job panicked", "job", env.job.Name, "worker", w.ID, "panic", rec)
			r = Reply{Err: fmt.Errorf("worker: job %q panicked: %v", env.job.Name, rec)}
		}
	}()
	v, err := p.handlers[env.job.Name](env.ctx, w, env.job.Payload)
	return Reply{Value: v, Err: err}
}
