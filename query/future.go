package query

import "context"

// Future is the pending result of a query. It resolves exactly once.
type Future struct {
	done     chan struct{}
	features []Feature
	err      error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

// must be called once
func (f *Future) resolve(fs []Feature, err error) {
	f.features, f.err = fs, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the query completes or ctx ends. On success the
// feature list is non-nil (possibly empty); on error it is nil.
func (f *Future) Wait(ctx context.Context) ([]Feature, error) {
	select {
	case <-f.done:
		return f.features, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
