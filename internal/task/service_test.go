package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Asitha/message-broker/internal/eventbus"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

func newTestService(t *testing.T, bus eventbus.Bus, handler ExceptionHandler) *Service {
	t.Helper()
	if bus == nil {
		bus = eventbus.New()
	}
	if handler == nil {
		handler = &recordingHandler{}
	}
	return NewService(Config{Workers: 2, IdleWait: 5 * time.Millisecond}, handler, logx.Nop(), bus)
}

func stopService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func awaitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event observed", typ)
		}
	}
}

func TestServiceAddValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, nil)

	if err := svc.Add(nil); !errors.Is(err, ErrNilTask) {
		t.Fatalf("Add(nil) = %v, want ErrNilTask", err)
	}
	if err := svc.Add(&fakeTask{id: "   "}); !errors.Is(err, ErrEmptyTaskID) {
		t.Fatalf("Add(blank id) = %v, want ErrEmptyTaskID", err)
	}

	ft := &fakeTask{id: "stats-flusher"}
	if err := svc.Add(ft); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := ft.added.Load(); n != 1 {
		t.Fatalf("OnAdd calls = %d, want 1", n)
	}
	if err := svc.Add(&fakeTask{id: "stats-flusher"}); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("duplicate Add = %v, want ErrDuplicateTask", err)
	}
	// IDs are compared after trimming.
	if err := svc.Add(&fakeTask{id: "  stats-flusher  "}); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("trimmed duplicate Add = %v, want ErrDuplicateTask", err)
	}

	if err := svc.Remove("no-such-task"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("Remove unknown = %v, want ErrUnknownTask", err)
	}
	if err := svc.Remove("stats-flusher"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := svc.Remove("stats-flusher"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("second Remove = %v, want ErrUnknownTask", err)
	}
}

func TestServiceRunsTasksUntilStopped(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, nil)
	ft1 := &fakeTask{id: "a"}
	ft2 := &fakeTask{id: "b"}
	for _, ft := range []*fakeTask{ft1, ft2} {
		if err := svc.Add(ft); err != nil {
			t.Fatalf("Add(%s): %v", ft.id, err)
		}
	}

	svc.Start(context.Background())
	waitUntil(t, 2*time.Second, func() bool {
		return ft1.execs.Load() >= 2 && ft2.execs.Load() >= 2
	})
	stopService(t, svc)

	// No executions once Stop has returned.
	n1, n2 := ft1.execs.Load(), ft2.execs.Load()
	time.Sleep(30 * time.Millisecond)
	if ft1.execs.Load() != n1 || ft2.execs.Load() != n2 {
		t.Fatal("tasks still executing after Stop returned")
	}
}

func TestServiceRemoveRetiresTask(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, nil)
	ft := &fakeTask{id: "connection-reaper"}
	if err := svc.Add(ft); err != nil {
		t.Fatalf("Add: %v", err)
	}

	svc.Start(context.Background())
	waitUntil(t, 2*time.Second, func() bool { return ft.execs.Load() >= 1 })

	if err := svc.Remove("connection-reaper"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return ft.removed.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if n := ft.removed.Load(); n != 1 {
		t.Fatalf("removal callbacks = %d, want exactly 1", n)
	}

	// The id is free again as soon as Remove returns.
	if err := svc.Add(&fakeTask{id: "connection-reaper"}); err != nil {
		t.Fatalf("re-Add after Remove: %v", err)
	}
	stopService(t, svc)
}

func TestServiceRestart(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, nil)
	ft := &fakeTask{id: "heartbeat"}
	if err := svc.Add(ft); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx) // second Start is a no-op
	waitUntil(t, 2*time.Second, func() bool { return ft.execs.Load() >= 1 })
	stopService(t, svc)

	// Registered tasks survive Stop; a fresh Start resumes them on new
	// processors.
	before := ft.execs.Load()
	svc.Start(ctx)
	waitUntil(t, 2*time.Second, func() bool { return ft.execs.Load() > before })
	stopService(t, svc)
}

func TestServiceApply(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, nil)
	ft := &fakeTask{id: "worker-probe"}
	if err := svc.Add(ft); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx := context.Background()
	svc.Start(ctx)
	waitUntil(t, 2*time.Second, func() bool { return ft.execs.Load() >= 1 })

	// Resizing the pool restarts the workers; the registered task keeps
	// running on the new ones.
	if err := svc.Apply(ctx, Config{Workers: 4, IdleWait: 5 * time.Millisecond}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if snap := svc.Snapshot(); snap.Workers != 4 || !snap.Running {
		t.Fatalf("snapshot after apply = %+v", snap)
	}
	before := ft.execs.Load()
	waitUntil(t, 2*time.Second, func() bool { return ft.execs.Load() > before })

	// Unchanged settings are a no-op.
	if err := svc.Apply(ctx, Config{Workers: 4, IdleWait: 5 * time.Millisecond}); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	stopService(t, svc)
}

func TestServiceSnapshot(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, nil, nil)
	for _, id := range []string{"b", "a"} {
		if err := svc.Add(&fakeTask{id: id}); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	snap := svc.Snapshot()
	if snap.Running {
		t.Fatal("snapshot running before Start")
	}
	if snap.QueueSize != 2 {
		t.Fatalf("queue size = %d, want 2", snap.QueueSize)
	}
	if len(snap.Tasks) != 2 || snap.Tasks[0].ID != "a" || snap.Tasks[1].ID != "b" {
		t.Fatalf("tasks = %+v, want sorted [a b]", snap.Tasks)
	}

	svc.Start(context.Background())
	if !svc.Snapshot().Running {
		t.Fatal("snapshot not running after Start")
	}
	stopService(t, svc)
	if svc.Snapshot().Running {
		t.Fatal("snapshot still running after Stop")
	}
}

func TestServiceBusEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	rec := &recordingHandler{}
	svc := newTestService(t, bus, rec)

	ft := &fakeTask{id: "flaky", run: func(n int) (Hint, error) {
		if n == 1 {
			return HintIdle, errors.New("boom")
		}
		return HintIdle, nil
	}}
	if err := svc.Add(ft); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if e := awaitEvent(t, ch, "task.added"); e.Data.(TaskEvent).ID != "flaky" {
		t.Fatalf("added event = %+v", e)
	}

	svc.Start(context.Background())
	e := awaitEvent(t, ch, "task.failed")
	ev, ok := e.Data.(TaskEvent)
	if !ok || ev.ID != "flaky" || ev.Error != "boom" {
		t.Fatalf("failed event = %+v", e)
	}
	// The wrapped handler still reaches the configured one.
	waitUntil(t, 2*time.Second, func() bool { return len(rec.calls()) >= 1 })
	if ids := rec.calls(); ids[0] != "flaky" {
		t.Fatalf("handler ids = %v, want flaky first", ids)
	}

	if err := svc.Remove("flaky"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if e := awaitEvent(t, ch, "task.removed"); e.Data.(TaskEvent).ID != "flaky" {
		t.Fatalf("removed event = %+v", e)
	}
	stopService(t, svc)
}
