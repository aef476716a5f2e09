package worker

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"
)

func startPool(t *testing.T, n int, handlers map[string]Handler) *Pool {
	t.Helper()
	p := New(Options{Workers: n})
	for name, h := range handlers {
		p.Handle(name, h)
	}
	p.Start(context.Background())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func whoami(_ context.Context, w *Worker, _ any) (any, error) { return w.ID, nil }

func TestPool_RoutesByWorkerID(t *testing.T) {
	t.Parallel()

	p := startPool(t, 4, map[string]Handler{"whoami": whoami})
	for _, tc := range []struct{ id, want int }{
		{0, 0}, {3, 3}, {4, 0}, {9, 1}, {-1, 3},
	} {
		r := <-p.Send(context.Background(), Job{Name: "whoami", WorkerID: tc.id})
		if r.Err != nil || r.Value != tc.want {
			t.Errorf("worker %d: got %v/%v, want %d", tc.id, r.Value, r.Err, tc.want)
		}
	}
}

func TestPool_UnknownJob(t *testing.T) {
	t.Parallel()

	p := startPool(t, 1, nil)
	r := <-p.Send(context.Background(), Job{Name: "nope"})
	if !errors.Is(r.Err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", r.Err)
	}
}

func TestPool_HandlerErrorAndPanic(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := startPool(t, 2, map[string]Handler{
		"fail":  func(context.Context, *Worker, any) (any, error) { return nil, boom },
		"panic": func(context.Context, *Worker, any) (any, error) { panic("bad") },
	})
	if r := <-p.Send(context.Background(), Job{Name: "fail"}); !errors.Is(r.Err, boom) {
		t.Errorf("fail: err = %v", r.Err)
	}
	if r := <-p.Send(context.Background(), Job{Name: "panic"}); r.Err == nil {
		t.Error("panic: want error reply")
	}
	// The worker survives.
	if r := <-p.Send(context.Background(), Job{Name: "fail", WorkerID: 1}); !errors.Is(r.Err, boom) {
		t.Errorf("after panic: err = %v", r.Err)
	}
}

func TestPool_WorkerStateIsAffine(t *testing.T) {
	t.Parallel()

	p := startPool(t, 3, map[string]Handler{
		"put": func(_ context.Context, w *Worker, v any) (any, error) {
			w.Put(v.(uint64), w.ID)
			return nil, nil
		},
		"get": func(_ context.Context, w *Worker, v any) (any, error) {
			got, ok := w.Get(v.(uint64))
			if !ok {
				return nil, errors.New("missing")
			}
			return got, nil
		},
	})

	var g errgroup.Group
	for uid := range uint64(30) {
		g.Go(func() error {
			wid := int(uid % 3)
			if r := <-p.Send(context.Background(), Job{Name: "put", WorkerID: wid, Payload: uid}); r.Err != nil {
				return r.Err
			}
			r := <-p.Send(context.Background(), Job{Name: "get", WorkerID: wid, Payload: uid})
			if r.Err != nil {
				return r.Err
			}
			if r.Value != wid {
				return errors.New("tile state served by the wrong worker")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestPool_Next(t *testing.T) {
	t.Parallel()

	p := New(Options{Workers: 3})
	for i, want := range []int{0, 1, 2, 0, 1} {
		if got := p.Next(); got != want {
			t.Fatalf("Next #%d = %d, want %d", i, got, want)
		}
	}
}

func TestPool_Closed(t *testing.T) {
	t.Parallel()

	p := New(Options{Workers: 1})
	p.Handle("whoami", whoami)
	if r := <-p.Send(context.Background(), Job{Name: "whoami"}); !errors.Is(r.Err, ErrClosed) {
		t.Fatalf("send before Start: err = %v", r.Err)
	}
	p.Start(context.Background())
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if r := <-p.Send(context.Background(), Job{Name: "whoami"}); !errors.Is(r.Err, ErrClosed) {
		t.Fatalf("send after Close: err = %v", r.Err)
	}
}

func TestPool_CanceledJob(t *testing.T) {
	t.Parallel()

	p := startPool(t, 1, map[string]Handler{"whoami": whoami})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r := <-p.Send(ctx, Job{Name: "whoami"}); !errors.Is(r.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", r.Err)
	}
}
