package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.stats.jsonl (append-only JSON Lines)
//
// Recent samples are mirrored in memory so reads never touch disk. Pruning
// rewrites the file through a temp-and-rename pass and reopens the append
// handle.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statsPath string
	statsFile *os.File

	recent []QueueStat
}

// recentCap bounds the in-memory mirror. Older samples fall out of read
// range but stay on disk until pruned.
const recentCap = 4096

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	statsPath := filepath.Join(dir, base) + ".stats.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{log: log, statsPath: statsPath}
	_ = st.replay(statsPath)

	f, err := os.OpenFile(statsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.statsFile = f
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsFile == nil {
		return nil
	}
	err := s.statsFile.Close()
	s.statsFile = nil
	return err
}

func (s *fileStore) AppendQueueStats(ctx context.Context, rows []QueueStat) error {
	_ = ctx
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsFile == nil {
		return errors.New("stats file closed")
	}
	enc := json.NewEncoder(s.statsFile)
	for _, r := range rows {
		if r.At.IsZero() {
			r.At = time.Now()
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
		s.remember(r)
	}
	return nil
}

func (s *fileStore) RecentQueueStats(ctx context.Context, queue string, limit int) ([]QueueStat, error) {
	_ = ctx
	queue = strings.TrimSpace(queue)
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first; queue == "" matches every queue.
	out := make([]QueueStat, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.recent[i]
		if queue != "" && r.Queue != queue {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fileStore) PruneQueueStats(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsFile == nil {
		return 0, errors.New("stats file closed")
	}

	in, err := os.Open(s.statsPath)
	if err != nil {
		return 0, err
	}
	tmp := s.statsPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	// Malformed lines are dropped along with expired rows.
	var removed int64
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		var r QueueStat
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			removed++
			continue
		}
		if r.At.Before(olderThan) {
			removed++
			continue
		}
		if err := enc.Encode(r); err != nil {
			_ = in.Close()
			_ = out.Close()
			return removed, err
		}
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return removed, err
	}
	if err := out.Close(); err != nil {
		return removed, err
	}
	if err := os.Rename(tmp, s.statsPath); err != nil {
		return removed, err
	}

	// The old append handle points at the replaced inode.
	_ = s.statsFile.Close()
	f, err := os.OpenFile(s.statsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.statsFile = nil
		return removed, err
	}
	s.statsFile = f

	kept := s.recent[:0]
	for _, r := range s.recent {
		if !r.At.Before(olderThan) {
			kept = append(kept, r)
		}
	}
	s.recent = kept
	return removed, nil
}

func (s *fileStore) remember(r QueueStat) {
	s.recent = append(s.recent, r)
	if len(s.recent) > recentCap {
		// Keep the newest half to amortize copies.
		keep := recentCap / 2
		s.recent = append(s.recent[:0:0], s.recent[len(s.recent)-keep:]...)
	}
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r QueueStat
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Queue == "" {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}
