package task

import (
	"context"
	"testing"
	"time"
)

func immediateTask(id string) Task {
	return Func(id, func(context.Context) (Hint, error) { return HintIdle, nil })
}

func holderDueIn(id string, d time.Duration) *Holder {
	h := NewHolder(immediateTask(id))
	h.SetDelay(d)
	return h
}

func TestDelayQueueOrdersByEligibleTime(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue()
	q.Put(holderDueIn("c", 60*time.Millisecond))
	q.Put(holderDueIn("a", 10*time.Millisecond))
	q.Put(holderDueIn("b", 35*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	want := []string{"a", "b", "c"}
	for i, id := range want {
		h, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		if h.ID() != id {
			t.Fatalf("take %d = %s, want %s", i, h.ID(), id)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: len=%d", q.Len())
	}
}

func TestDelayQueueTakeWaitsForEligibility(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue()
	const delay = 60 * time.Millisecond
	q.Put(holderDueIn("h", delay))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := q.Take(ctx); err != nil {
		t.Fatalf("take: %v", err)
	}
	// Allow a little scheduler skew but never early release.
	if waited := time.Since(start); waited < delay-5*time.Millisecond {
		t.Fatalf("released after %v, want >= %v", waited, delay)
	}
}

func TestDelayQueueTakeWakesOnPut(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		h, err := q.Take(ctx)
		if err != nil {
			t.Errorf("take: %v", err)
			done <- ""
			return
		}
		done <- h.ID()
	}()

	time.Sleep(50 * time.Millisecond)
	q.Put(holderDueIn("woken", 0))

	select {
	case id := <-done:
		if id != "woken" {
			t.Fatalf("took %q, want woken", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked take to wake")
	}
}

func TestDelayQueueNewHeadPreemptsTimer(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue()
	q.Put(holderDueIn("slow", 500*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		h, err := q.Take(ctx)
		if err != nil {
			t.Errorf("take: %v", err)
			done <- ""
			return
		}
		done <- h.ID()
	}()

	// The waiter is parked on the slow holder's timer; an earlier head must
	// release before that timer fires.
	time.Sleep(30 * time.Millisecond)
	q.Put(holderDueIn("fast", 0))

	select {
	case id := <-done:
		if id != "fast" {
			t.Fatalf("took %q, want fast", id)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("earlier head did not preempt the pending timer")
	}
	if q.Len() != 1 {
		t.Fatalf("slow holder should remain queued, len=%d", q.Len())
	}
}

func TestDelayQueueTakeCancel(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	if _, err := q.Take(ctx); err != context.Canceled {
		t.Fatalf("take err = %v, want context.Canceled", err)
	}
}
