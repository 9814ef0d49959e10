package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

// Store is the minimal persistence API used by the broker services.
type Store interface {
	AppendQueueStats(ctx context.Context, rows []QueueStat) error
	RecentQueueStats(ctx context.Context, queue string, limit int) ([]QueueStat, error)
	PruneQueueStats(ctx context.Context, olderThan time.Time) (removed int64, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
