package singleflight

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestGroup_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var eg errgroup.Group
	results := make([]int, 8)
	for i := range results {
		eg.Go(func() error {
			v, _, err := g.Do(context.Background(), "k", fn)
			results[i] = v
			return err
		})
	}
	// Wait until every caller joined the flight.
	for {
		g.mu.Lock()
		c := g.m["k"]
		n := 0
		if c != nil {
			n = c.waiters
		}
		g.mu.Unlock()
		if n == len(results) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("fn ran %d times, want 1", calls.Load())
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("caller %d got %d", i, v)
		}
	}
	if g.Inflight() != 0 {
		t.Errorf("Inflight = %d after completion", g.Inflight())
	}
}

func TestGroup_LastWaiterCancelsWork(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	canceled := make(chan struct{})
	started := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "k", func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			close(canceled)
			return 0, ctx.Err()
		})
		errc <- err
	}()

	<-started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("work was not canceled after its only waiter left")
	}
}

func TestGroup_FollowerLeavingKeepsWork(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	release := make(chan struct{})
	started := make(chan struct{})

	leader := make(chan int, 1)
	go func() {
		v, _, _ := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
			close(started)
			select {
			case <-release:
				return 7, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})
		leader <- v
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Do(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("follower err = %v", err)
	}

	close(release)
	if v := <-leader; v != 7 {
		t.Fatalf("leader got %d, want 7", v)
	}
}
