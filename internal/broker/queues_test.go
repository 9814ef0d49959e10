package broker

import (
	"errors"
	"testing"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

func TestQueuesDeclare(t *testing.T) {
	t.Parallel()
	r := NewQueues(logx.Nop(), nil)

	if _, err := r.Declare("   "); !errors.Is(err, ErrEmptyQueueName) {
		t.Fatalf("blank declare = %v, want ErrEmptyQueueName", err)
	}

	q1, err := r.Declare("orders")
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	q2, err := r.Declare("orders")
	if err != nil {
		t.Fatalf("redeclare: %v", err)
	}
	if q1 != q2 {
		t.Fatal("redeclare returned a different queue")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestQueueCounters(t *testing.T) {
	t.Parallel()
	r := NewQueues(logx.Nop(), nil)
	q, _ := r.Declare("orders")

	q.Publish(10)
	q.Deliver(6)
	q.Ack(4)
	q.Publish(-3) // ignored
	q.Ack(0)      // ignored

	c := q.Counters()
	if c.Published != 10 || c.Delivered != 6 || c.Acked != 4 {
		t.Fatalf("counters = %+v", c)
	}
	if got := q.Depth(); got != 6 {
		t.Fatalf("depth = %d, want 6", got)
	}
}

func TestQueuesNamesAndSnapshot(t *testing.T) {
	t.Parallel()
	r := NewQueues(logx.Nop(), nil)
	for _, name := range []string{"billing", "audit", "orders"} {
		if _, err := r.Declare(name); err != nil {
			t.Fatalf("declare %s: %v", name, err)
		}
	}

	names := r.Names()
	if len(names) != 3 || names[0] != "audit" || names[1] != "billing" || names[2] != "orders" {
		t.Fatalf("names = %v, want sorted", names)
	}

	q, _ := r.Get("orders")
	q.Publish(2)
	snap := r.Snapshot()
	if len(snap) != 3 || snap[2].Name != "orders" || snap[2].Counters.Published != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if !r.Delete("billing") {
		t.Fatal("delete known queue failed")
	}
	if r.Delete("billing") {
		t.Fatal("delete accepted unknown queue")
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}
