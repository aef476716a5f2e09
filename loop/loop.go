// Package loop provides the single-goroutine event loop that owns pyramid
// and source state. Asynchronous work posts its results back through Post;
// ScheduleNext defers a callback to the next frame.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IvanBrykalov/tilecache/pkg/logger"
)

// Defaults applied by New.
const (
	DefaultFrame     = 16 * time.Millisecond
	DefaultQueueSize = 256
)

// ErrStopped is returned when work is submitted to a loop that is not running.
var ErrStopped = errors.New("loop: stopped")

// Options configures a Loop.
type Options struct {
	// Frame is the tick interval for ScheduleNext callbacks.
	Frame time.Duration
	// QueueSize bounds the number of posted, not yet run tasks.
	QueueSize int
	Logger    logger.Logger
}

// Loop runs posted tasks one at a time on the goroutine that called Run.
type Loop struct {
	frame time.Duration
	tasks chan func()
	stop  chan struct{}
	once  sync.Once
	log   logger.Logger

	mu   sync.Mutex
	next []func()
}

// New constructs a Loop. Call Run to start it.
func New(opt Options) *Loop {
	if opt.Frame <= 0 {
		opt.Frame = DefaultFrame
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize
	}
	return &Loop{
		frame: opt.Frame,
		tasks: make(chan func(), opt.QueueSize),
		stop:  make(chan struct{}),
		log:   logger.OrNop(opt.Logger),
	}
}

// Run executes tasks until ctx is done and returns ctx.Err(). Frame
// callbacks run on every tick, after the tasks queued at that moment.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stop) })

	ticker := time.NewTicker(l.frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		case <-ticker.C:
			for n := len(l.tasks); n > 0; n-- {
				l.run(<-l.tasks)
			}
			l.runFrame()
		}
	}
}

// Post queues fn to run on the loop. It blocks while the queue is full and
// returns ErrStopped once the loop has exited.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.stop:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stop:
		return ErrStopped
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrStopped
	}
}

// ScheduleNext defers fn to the next frame. Safe to call from any goroutine.
func (l *Loop) ScheduleNext(fn func()) {
	l.mu.Lock()
	l.next = append(l.next, fn)
	l.mu.Unlock()
}

func (l *Loop) runFrame() {
	l.mu.Lock()
	batch := l.next
	l.next = nil
	l.mu.Unlock()

	for _, fn := range batch {
		l.run(fn)
	}
}

// run isolates a panicking task so the loop keeps serving.
func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop: task panicked", "panic", r)
		}
	}()
	fn()
}
