package broker

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Asitha/message-broker/internal/eventbus"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

// Conn is one tracked client connection. The registry owns the id; the
// transport owns the underlying closer.
type Conn struct {
	id       string
	remote   string
	openedAt time.Time

	lastActive atomic.Int64 // unix nanos
	closer     io.Closer
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) Remote() string      { return c.remote }
func (c *Conn) OpenedAt() time.Time { return c.openedAt }

// Touch marks the connection as active now. Called from the transport's
// read/write paths, so it must stay cheap.
func (c *Conn) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

func (c *Conn) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// ConnEvent is the bus payload for connection lifecycle events
// (connection.opened, connection.closed, connection.reaped).
type ConnEvent struct {
	ID     string `json:"id"`
	Remote string `json:"remote"`
	Idle   string `json:"idle,omitempty"` // reaped only
}

// ConnInfo is a diagnostics view of one connection.
type ConnInfo struct {
	ID         string    `json:"id"`
	Remote     string    `json:"remote"`
	OpenedAt   time.Time `json:"opened_at"`
	LastActive time.Time `json:"last_active"`
}

// Connections tracks live connections and decides which ones have gone
// idle. The idle timeout is hot-reloadable.
type Connections struct {
	log logx.Logger
	bus eventbus.Bus

	idleTimeout atomic.Int64 // nanos

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewConnections(idleTimeout time.Duration, log logx.Logger, bus eventbus.Bus) *Connections {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Connections{
		log:   log,
		bus:   bus,
		conns: make(map[string]*Conn),
	}
	r.SetIdleTimeout(idleTimeout)
	return r
}

// SetIdleTimeout replaces the idle threshold. Non-positive values fall back
// to two minutes.
func (r *Connections) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		d = 2 * time.Minute
	}
	r.idleTimeout.Store(int64(d))
}

func (r *Connections) IdleTimeout() time.Duration {
	return time.Duration(r.idleTimeout.Load())
}

// Register admits a connection and assigns it an id. closer may be nil when
// there is nothing to tear down on reap.
func (r *Connections) Register(remote string, closer io.Closer) *Conn {
	now := time.Now()
	c := &Conn{
		id:       uuid.NewString(),
		remote:   remote,
		openedAt: now,
		closer:   closer,
	}
	c.lastActive.Store(now.UnixNano())

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: "connection.opened", Data: ConnEvent{ID: c.id, Remote: c.remote}})
	}
	r.log.Debug("connection registered", logx.String("conn", c.id), logx.String("remote", remote))
	return c
}

// Deregister forgets a connection after an orderly close. The caller keeps
// responsibility for closing the transport.
func (r *Connections) Deregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: "connection.closed", Data: ConnEvent{ID: c.id, Remote: c.remote}})
	}
	r.log.Debug("connection deregistered", logx.String("conn", id))
	return true
}

func (r *Connections) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Connections) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot lists connections sorted by open time (oldest first).
func (r *Connections) Snapshot() []ConnInfo {
	r.mu.RLock()
	out := make([]ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, ConnInfo{
			ID:         c.id,
			Remote:     c.remote,
			OpenedAt:   c.openedAt,
			LastActive: c.LastActive(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ReapIdle removes and closes up to max connections whose last activity is
// older than the idle timeout. It returns the reaped connections.
func (r *Connections) ReapIdle(now time.Time, max int) []*Conn {
	if max <= 0 {
		max = 64
	}
	cutoff := now.Add(-r.IdleTimeout())

	r.mu.Lock()
	victims := make([]*Conn, 0, max)
	for id, c := range r.conns {
		if c.LastActive().After(cutoff) {
			continue
		}
		victims = append(victims, c)
		delete(r.conns, id)
		if len(victims) == max {
			break
		}
	}
	r.mu.Unlock()

	for _, c := range victims {
		idle := now.Sub(c.LastActive()).Round(time.Second)
		if c.closer != nil {
			if err := c.closer.Close(); err != nil {
				r.log.Warn("reaped connection close failed",
					logx.String("conn", c.id), logx.Err(err))
			}
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: "connection.reaped", Data: ConnEvent{ID: c.id, Remote: c.remote, Idle: idle.String()}})
		}
		r.log.Info("idle connection reaped",
			logx.String("conn", c.id),
			logx.String("remote", c.remote),
			logx.Duration("idle", idle))
	}
	return victims
}
