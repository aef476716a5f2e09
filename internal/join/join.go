// Package join provides a fan-in barrier for a fixed number of asynchronous
// results.
package join

import "sync"

// Join collects exactly n results and fires once: after all n arrived, or
// at the first error, whichever comes first. Results delivered after it
// fired are dropped. It is safe for concurrent use.
type Join[T any] struct {
	mu      sync.Mutex
	pending int
	values  []T
	got     []bool
	err     error
	fired   bool
	done    chan struct{}
}

// New returns a barrier expecting n results. A barrier for zero results is
// already fired.
func New[T any](n int) *Join[T] {
	j := &Join[T]{
		pending: n,
		values:  make([]T, max(n, 0)),
		got:     make([]bool, max(n, 0)),
		done:    make(chan struct{}),
	}
	if n <= 0 {
		j.fired = true
		close(j.done)
	}
	return j
}

// Deliver records result i. It reports whether the result was accepted;
// false means the barrier had already fired or i was delivered twice.
func (j *Join[T]) Deliver(i int, v T, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.fired || i < 0 || i >= len(j.got) || j.got[i] {
		return false
	}
	j.got[i] = true
	if err != nil {
		j.err = err
		j.values = nil
		j.fire()
		return true
	}
	j.values[i] = v
	j.pending--
	if j.pending == 0 {
		j.fire()
	}
	return true
}

// Fail fires the barrier with err unless it already fired.
func (j *Join[T]) Fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fired {
		return false
	}
	j.err = err
	j.values = nil
	j.fire()
	return true
}

// must hold j.mu
func (j *Join[T]) fire() {
	j.fired = true
	close(j.done)
}

// Done is closed when the barrier fires.
func (j *Join[T]) Done() <-chan struct{} { return j.done }

// Result returns the results in delivery index order, or the first error.
// It is only meaningful after Done is closed.
func (j *Join[T]) Result() ([]T, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	return j.values, nil
}
