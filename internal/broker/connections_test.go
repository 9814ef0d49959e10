package broker

import (
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

type closeRecorder struct {
	closed atomic.Int32
}

func (c *closeRecorder) Close() error {
	c.closed.Add(1)
	return nil
}

func backdate(c *Conn, by time.Duration) {
	c.lastActive.Store(time.Now().Add(-by).UnixNano())
}

func TestConnectionsRegisterDeregister(t *testing.T) {
	t.Parallel()
	r := NewConnections(time.Minute, logx.Nop(), nil)

	c1 := r.Register("10.0.0.1:51234", nil)
	c2 := r.Register("10.0.0.2:51235", nil)
	if c1.ID() == "" || c1.ID() == c2.ID() {
		t.Fatalf("ids not unique: %q, %q", c1.ID(), c2.ID())
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	if got, ok := r.Get(c1.ID()); !ok || got.Remote() != "10.0.0.1:51234" {
		t.Fatalf("get = (%+v, %v)", got, ok)
	}

	if !r.Deregister(c1.ID()) {
		t.Fatal("deregister known conn failed")
	}
	if r.Deregister(c1.ID()) {
		t.Fatal("deregister accepted unknown conn")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestConnectionsReapIdle(t *testing.T) {
	t.Parallel()
	r := NewConnections(time.Minute, logx.Nop(), nil)

	var closer closeRecorder
	stale := r.Register("10.0.0.1:50001", &closer)
	fresh := r.Register("10.0.0.2:50002", nil)
	backdate(stale, 5*time.Minute)

	reaped := r.ReapIdle(time.Now(), 10)
	if len(reaped) != 1 || reaped[0].ID() != stale.ID() {
		t.Fatalf("reaped %d conns, want just the stale one", len(reaped))
	}
	if closer.closed.Load() != 1 {
		t.Fatalf("closer calls = %d, want 1", closer.closed.Load())
	}
	if _, ok := r.Get(stale.ID()); ok {
		t.Fatal("stale conn still registered")
	}
	if _, ok := r.Get(fresh.ID()); !ok {
		t.Fatal("fresh conn was reaped")
	}
}

func TestConnectionsReapHonorsBatchAndTouch(t *testing.T) {
	t.Parallel()
	r := NewConnections(time.Minute, logx.Nop(), nil)

	conns := make([]*Conn, 0, 5)
	for i := 0; i < 5; i++ {
		c := r.Register("10.0.0.9:5000", nil)
		backdate(c, 10*time.Minute)
		conns = append(conns, c)
	}
	// A touched connection is no longer idle.
	conns[0].Touch()

	if got := len(r.ReapIdle(time.Now(), 2)); got != 2 {
		t.Fatalf("first sweep reaped %d, want 2", got)
	}
	if got := len(r.ReapIdle(time.Now(), 10)); got != 2 {
		t.Fatalf("second sweep reaped %d, want 2", got)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want the touched conn only", r.Len())
	}
}

func TestConnectionsIdleTimeoutReload(t *testing.T) {
	t.Parallel()
	r := NewConnections(time.Hour, logx.Nop(), nil)
	c := r.Register("10.0.0.3:50003", nil)
	backdate(c, 10*time.Minute)

	if got := len(r.ReapIdle(time.Now(), 10)); got != 0 {
		t.Fatalf("reaped %d under the long timeout, want 0", got)
	}

	r.SetIdleTimeout(time.Minute)
	if got := len(r.ReapIdle(time.Now(), 10)); got != 1 {
		t.Fatalf("reaped %d after timeout reload, want 1", got)
	}

	// Non-positive reloads fall back to the default instead of reaping
	// everything instantly.
	r.SetIdleTimeout(0)
	if r.IdleTimeout() != 2*time.Minute {
		t.Fatalf("idle timeout = %v, want 2m default", r.IdleTimeout())
	}
}
