package task

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayQueue is a blocking, time-ordered queue of task holders. A holder is
// only retrievable once its eligible time has passed; Take blocks until then.
// Multiple processors may share one queue; take and insert are safe to call
// concurrently.
type DelayQueue struct {
	mu     sync.Mutex
	items  holderHeap
	notify chan struct{}
}

func NewDelayQueue() *DelayQueue {
	return &DelayQueue{notify: make(chan struct{})}
}

// Put inserts a holder and wakes every blocked Take so it can re-evaluate the
// queue head. Put never blocks.
func (q *DelayQueue) Put(h *Holder) {
	if h == nil {
		return
	}
	q.mu.Lock()
	heap.Push(&q.items, h)
	// Closed-channel broadcast: all waiters wake, re-check the head, re-arm.
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
}

// Take blocks until the earliest holder becomes eligible, removes it from the
// queue, and returns it. It returns ctx.Err() if ctx is cancelled first.
func (q *DelayQueue) Take(ctx context.Context) (*Holder, error) {
	for {
		q.mu.Lock()
		var wait time.Duration
		hasHead := false
		if q.items.Len() > 0 {
			d := time.Until(q.items[0].eligibleAt)
			if d <= 0 {
				h := heap.Pop(&q.items).(*Holder)
				q.mu.Unlock()
				return h, nil
			}
			wait = d
			hasHead = true
		}
		notify := q.notify
		q.mu.Unlock()

		if !hasHead {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-notify:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-notify:
			// A new holder may have become the head; re-check.
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len reports the number of queued holders, eligible or not.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// holderHeap orders holders by eligible time. Ties release in unspecified order.
type holderHeap []*Holder

func (h holderHeap) Len() int           { return len(h) }
func (h holderHeap) Less(i, j int) bool { return h[i].eligibleAt.Before(h[j].eligibleAt) }
func (h holderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *holderHeap) Push(x any) { *h = append(*h, x.(*Holder)) }

func (h *holderHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
