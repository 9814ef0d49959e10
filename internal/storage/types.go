package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl, rewrite on prune)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// QueueStat records one flushed queue sample: the absolute depth at sample
// time plus counter deltas since the previous flush.
// Keep it compact and schema-stable.
type QueueStat struct {
	At        time.Time `json:"at"`
	Queue     string    `json:"queue"`
	Depth     int64     `json:"depth"`
	Published int64     `json:"published"`
	Delivered int64     `json:"delivered"`
	Acked     int64     `json:"acked"`
}
