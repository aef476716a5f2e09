package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc, <-chan error) {
	t.Helper()
	l := New(Options{Frame: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel, errc
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	t.Parallel()

	l, _, _ := startLoop(t)

	var got []int
	for i := range 10 {
		if err := l.Post(func() { got = append(got, i) }); err != nil {
			t.Fatal(err)
		}
	}
	// Do runs after everything posted before it.
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got); diff != "" {
		t.Errorf("task order mismatch (-want +got):\n%v", diff)
	}
}

func TestLoop_ScheduleNextRunsAfterPostedTasks(t *testing.T) {
	t.Parallel()

	l, _, _ := startLoop(t)

	var (
		mu    sync.Mutex
		order []string
		done  = make(chan struct{})
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	err := l.Do(context.Background(), func() {
		l.ScheduleNext(func() {
			record("frame")
			close(done)
		})
		// Queued behind the current task, ahead of the next tick.
		_ = l.Post(func() { record("task") })
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame callback never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"task", "frame"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%v", diff)
	}
}

func TestLoop_SurvivesPanickingTask(t *testing.T) {
	t.Parallel()

	l, _, _ := startLoop(t)
	_ = l.Post(func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("loop stopped after a panicking task")
	}
}

func TestLoop_StopRejectsWork(t *testing.T) {
	t.Parallel()

	l, cancel, errc := startLoop(t)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if err := l.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Post after stop = %v, want ErrStopped", err)
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do after stop = %v, want ErrStopped", err)
	}
}
