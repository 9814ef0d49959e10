package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Asitha/message-broker/internal/storage"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

type pruneRecorder struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
}

func (p *pruneRecorder) AppendQueueStats(ctx context.Context, rows []storage.QueueStat) error {
	return nil
}

func (p *pruneRecorder) RecentQueueStats(ctx context.Context, queue string, limit int) ([]storage.QueueStat, error) {
	return nil, nil
}

func (p *pruneRecorder) PruneQueueStats(ctx context.Context, olderThan time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.cutoffs = append(p.cutoffs, olderThan)
	return 3, nil
}

func (p *pruneRecorder) Close() error { return nil }

func (p *pruneRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	valid := []string{"17 3 * * *", "*/5 * * * *", "@daily", "@every 1h30m"}
	for _, spec := range valid {
		if err := ValidateSpec(spec); err != nil {
			t.Fatalf("ValidateSpec(%q) = %v", spec, err)
		}
	}
	invalid := []string{"", "not a spec", "61 3 * * *", "1 2 3"}
	for _, spec := range invalid {
		if err := ValidateSpec(spec); err == nil {
			t.Fatalf("ValidateSpec(%q) accepted", spec)
		}
	}
}

func TestServiceDisabled(t *testing.T) {
	t.Parallel()
	rec := &pruneRecorder{}
	s := New(Config{Enabled: false, PruneSpec: "@every 10ms"}, rec, logx.Nop(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("disabled service pruned")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServiceBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, PruneSpec: "nope"}, &pruneRecorder{}, logx.Nop(), nil)
	if err := s.Start(); err == nil {
		t.Fatal("bad spec accepted")
	}
}

func TestServiceApply(t *testing.T) {
	t.Parallel()
	rec := &pruneRecorder{}
	s := New(Config{Enabled: false}, rec, logx.Nop(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Enabling through Apply brings the schedule up.
	if err := s.Apply(ctx, Config{Enabled: true, PruneSpec: "@every 50ms", Retention: time.Hour}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("prune never ran after apply")
	}

	// Disabling through Apply tears the schedule down again.
	if err := s.Apply(ctx, Config{Enabled: false, PruneSpec: "@every 50ms", Retention: time.Hour}); err != nil {
		t.Fatalf("apply disable: %v", err)
	}
	n := rec.count()
	time.Sleep(150 * time.Millisecond)
	if rec.count() != n {
		t.Fatal("disabled service kept pruning")
	}
}

func TestServicePrunes(t *testing.T) {
	t.Parallel()
	rec := &pruneRecorder{}
	s := New(Config{Enabled: true, PruneSpec: "@every 50ms", Retention: time.Hour}, rec, logx.Nop(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("prune never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The cutoff honors the configured retention.
	rec.mu.Lock()
	cutoff := rec.cutoffs[0]
	rec.mu.Unlock()
	if age := time.Since(cutoff); age < 55*time.Minute || age > 65*time.Minute {
		t.Fatalf("cutoff age = %v, want about 1h", age)
	}
}
