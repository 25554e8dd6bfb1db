package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEnqueueExecutesTasks(t *testing.T) {
	q := New("test", 2, nil)
	defer q.Stop()

	var mu sync.Mutex
	executed := make([]string, 0)
	done := make(chan struct{}, 2)

	for _, name := range []string{"first", "second"} {
		name := name
		q.Enqueue(NewFuncTask(name, "local", PriorityNormal, func(ctx context.Context) error {
			mu.Lock()
			executed = append(executed, name)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks to execute")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 2 {
		t.Fatalf("expected 2 executed tasks, got %d", len(executed))
	}
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	// A single worker forces strictly sequential draining so the order the
	// heap hands out tasks is observable.
	q := New("test", 1, nil)
	defer q.Stop()

	var mu sync.Mutex
	order := make([]string, 0, 3)
	done := make(chan struct{}, 3)
	release := make(chan struct{})

	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}
	}

	// Occupy the only worker so the remaining tasks pile up in the heap.
	blocked := make(chan struct{})
	q.Enqueue(NewFuncTask("blocker", "local", PriorityNormal, func(ctx context.Context) error {
		close(blocked)
		<-release
		return nil
	}))
	<-blocked

	q.Enqueue(NewFuncTask("low", "local", PriorityLow, record("low")))
	q.Enqueue(NewFuncTask("critical", "local", PriorityCritical, record("critical")))
	q.Enqueue(NewFuncTask("normal", "local", PriorityNormal, record("normal")))
	close(release)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"critical", "normal", "low"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("expected execution order %v, got %v", want, order)
		}
	}
}

func TestStatsTrackOutcomes(t *testing.T) {
	q := New("test", 1, nil)
	defer q.Stop()

	done := make(chan struct{}, 2)
	q.Enqueue(NewFuncTask("ok", "anilist", PriorityNormal, func(ctx context.Context) error {
		done <- struct{}{}
		return nil
	}))
	q.Enqueue(NewFuncTask("bad", "anilist", PriorityNormal, func(ctx context.Context) error {
		done <- struct{}{}
		return context.DeadlineExceeded
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}

	// Counters are updated after Execute returns, poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s := q.Stats()
		if s.Completed == 1 && s.Failed == 1 && s.Pending == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 1 completed and 1 failed, got %+v", q.Stats())
}
