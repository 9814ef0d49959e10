package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "broker.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestOpenDispatch(t *testing.T) {
	t.Parallel()
	if st, err := Open(Config{}, logx.Nop()); st != nil || err != nil {
		t.Fatalf("blank driver = (%v, %v), want (nil, nil)", st, err)
	}
	if st, err := Open(Config{Driver: "none"}, logx.Nop()); st != nil || err != nil {
		t.Fatalf("none driver = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver accepted empty path")
	}
}

func TestFileStoreAppendAndRecent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	rows := []QueueStat{
		{At: base, Queue: "orders", Depth: 3, Published: 10, Acked: 7},
		{At: base.Add(time.Second), Queue: "billing", Depth: 1, Published: 4, Delivered: 3},
		{At: base.Add(2 * time.Second), Queue: "orders", Depth: 5, Published: 2, Acked: 0},
	}
	if err := st.AppendQueueStats(ctx, rows); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := st.RecentQueueStats(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].Queue != "orders" || got[0].Depth != 5 {
		t.Fatalf("recent = %+v, want newest orders sample first", got)
	}

	got, err = st.RecentQueueStats(ctx, "billing", 10)
	if err != nil {
		t.Fatalf("recent billing: %v", err)
	}
	if len(got) != 1 || got[0].Queue != "billing" {
		t.Fatalf("billing filter = %+v", got)
	}

	got, err = st.RecentQueueStats(ctx, "orders", 1)
	if err != nil {
		t.Fatalf("recent limited: %v", err)
	}
	if len(got) != 1 || got[0].Depth != 5 {
		t.Fatalf("limit 1 = %+v, want only the newest", got)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	if err := st.AppendQueueStats(ctx, []QueueStat{{At: time.Now(), Queue: "orders", Depth: 2}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st = openTestStore(t, dir)
	defer st.Close()
	got, err := st.RecentQueueStats(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("recent after reopen: %v", err)
	}
	if len(got) != 1 || got[0].Depth != 2 {
		t.Fatalf("replayed rows = %+v", got)
	}
}

func TestFileStorePrune(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	defer st.Close()

	now := time.Now()
	rows := []QueueStat{
		{At: now.Add(-48 * time.Hour), Queue: "orders", Depth: 9},
		{At: now.Add(-36 * time.Hour), Queue: "orders", Depth: 8},
		{At: now.Add(-time.Minute), Queue: "orders", Depth: 1},
	}
	if err := st.AppendQueueStats(ctx, rows); err != nil {
		t.Fatalf("append: %v", err)
	}

	removed, err := st.PruneQueueStats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	got, err := st.RecentQueueStats(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Depth != 1 {
		t.Fatalf("surviving rows = %+v", got)
	}

	// Appends keep working against the rewritten file.
	if err := st.AppendQueueStats(ctx, []QueueStat{{At: now, Queue: "orders", Depth: 4}}); err != nil {
		t.Fatalf("append after prune: %v", err)
	}
	got, err = st.RecentQueueStats(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("recent after prune: %v", err)
	}
	if len(got) != 2 || got[0].Depth != 4 {
		t.Fatalf("rows after prune+append = %+v", got)
	}
}
