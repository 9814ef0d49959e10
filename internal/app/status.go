package app

import (
	"runtime"
	"strings"
	"time"

	"github.com/Asitha/message-broker/internal/broker"
	rtsup "github.com/Asitha/message-broker/internal/runtime/supervisor"
	"github.com/Asitha/message-broker/internal/task"
)

// statusReport is the /statusz payload.
type statusReport struct {
	Node        string                              `json:"node,omitempty"`
	Go          string                              `json:"go"`
	Uptime      string                              `json:"uptime,omitempty"`
	Storage     string                              `json:"storage"`
	Tasks       task.Snapshot                       `json:"tasks"`
	Connections connectionsStatus                   `json:"connections"`
	Queues      []broker.QueueInfo                  `json:"queues"`
	Supervisors map[string]rtsup.SupervisorCounters `json:"supervisors,omitempty"`
}

type connectionsStatus struct {
	Open        int    `json:"open"`
	IdleTimeout string `json:"idle_timeout"`
}

// status assembles the diagnostics payload served on /statusz. It must stay
// cheap; the ops listener calls it per request.
func (a *App) status() any {
	rep := statusReport{
		Go:      runtime.Version(),
		Storage: "disabled",
		Tasks:   a.tasks.Snapshot(),
		Connections: connectionsStatus{
			Open:        a.conns.Len(),
			IdleTimeout: a.conns.IdleTimeout().String(),
		},
		Queues: a.queues.Snapshot(),
	}
	if cfg := a.cfgm.Get(); cfg != nil {
		rep.Node = strings.TrimSpace(cfg.Node)
		if cfg.Storage != nil && a.store != nil {
			rep.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		}
	}
	if !a.startedAt.IsZero() {
		rep.Uptime = time.Since(a.startedAt).Round(time.Second).String()
	}

	sups := make(map[string]rtsup.SupervisorCounters, 3)
	if sup := a.sup; sup != nil {
		sups["app"] = sup.Counters()
	}
	if sup := a.tasks.Supervisor(); sup != nil {
		sups["tasks"] = sup.Counters()
	}
	if sup := a.ops.Supervisor(); sup != nil {
		sups["ops"] = sup.Counters()
	}
	if len(sups) > 0 {
		rep.Supervisors = sups
	}
	return rep
}
