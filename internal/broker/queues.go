package broker

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Asitha/message-broker/internal/eventbus"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

var ErrEmptyQueueName = errors.New("queue name is empty")

// Queue tracks one named queue's traffic counters. Counters only grow;
// depth is published minus acked.
type Queue struct {
	name string

	published atomic.Int64
	delivered atomic.Int64
	acked     atomic.Int64
	depth     atomic.Int64
}

func (q *Queue) Name() string { return q.name }

// Publish records n messages entering the queue.
func (q *Queue) Publish(n int64) {
	if n <= 0 {
		return
	}
	q.published.Add(n)
	q.depth.Add(n)
}

// Deliver records n messages handed to a consumer (still unacked).
func (q *Queue) Deliver(n int64) {
	if n <= 0 {
		return
	}
	q.delivered.Add(n)
}

// Ack records n messages settled and gone from the queue.
func (q *Queue) Ack(n int64) {
	if n <= 0 {
		return
	}
	q.acked.Add(n)
	q.depth.Add(-n)
}

func (q *Queue) Depth() int64 { return q.depth.Load() }

// Counters returns a near-point-in-time view. The four loads are not a
// single atomic snapshot; stats readers tolerate that.
func (q *Queue) Counters() QueueCounters {
	return QueueCounters{
		Published: q.published.Load(),
		Delivered: q.delivered.Load(),
		Acked:     q.acked.Load(),
		Depth:     q.depth.Load(),
	}
}

type QueueCounters struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Acked     int64 `json:"acked"`
	Depth     int64 `json:"depth"`
}

// QueueEvent is the bus payload for queue.declared / queue.deleted.
type QueueEvent struct {
	Name string `json:"name"`
}

// QueueInfo is a diagnostics view of one queue.
type QueueInfo struct {
	Name     string        `json:"name"`
	Counters QueueCounters `json:"counters"`
}

// Queues is the registry of declared queues.
type Queues struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.RWMutex
	queues map[string]*Queue
}

func NewQueues(log logx.Logger, bus eventbus.Bus) *Queues {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queues{
		log:    log,
		bus:    bus,
		queues: make(map[string]*Queue),
	}
}

// Declare returns the named queue, creating it on first use. Declaring an
// existing queue is a no-op, AMQP-style.
func (r *Queues) Declare(name string) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyQueueName
	}

	r.mu.Lock()
	q, ok := r.queues[name]
	if !ok {
		q = &Queue{name: name}
		r.queues[name] = q
	}
	r.mu.Unlock()
	if ok {
		return q, nil
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: "queue.declared", Data: QueueEvent{Name: name}})
	}
	r.log.Info("queue declared", logx.String("queue", name))
	return q, nil
}

func (r *Queues) Get(name string) (*Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

func (r *Queues) Delete(name string) bool {
	r.mu.Lock()
	_, ok := r.queues[name]
	if ok {
		delete(r.queues, name)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: "queue.deleted", Data: QueueEvent{Name: name}})
	}
	r.log.Info("queue deleted", logx.String("queue", name))
	return true
}

func (r *Queues) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// Names returns the declared queue names, sorted.
func (r *Queues) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.queues))
	for name := range r.queues {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot lists queues sorted by name.
func (r *Queues) Snapshot() []QueueInfo {
	names := r.Names()
	out := make([]QueueInfo, 0, len(names))
	for _, name := range names {
		q, ok := r.Get(name)
		if !ok {
			continue
		}
		out = append(out, QueueInfo{Name: name, Counters: q.Counters()})
	}
	return out
}
