package maintenance

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
	err    error
}

func (f *fakePruner) PruneEvents(maxAge time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.maxAge = maxAge
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJanitorRunsPruneOnStart(t *testing.T) {
	pruner := &fakePruner{}
	j := NewJanitor(pruner, Config{
		EventsMaxAge:  24 * time.Hour,
		PruneSchedule: "0 3 * * *",
	}, testLogger())

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Stop()

	if pruner.callCount() != 1 {
		t.Errorf("prune calls = %d, want 1", pruner.callCount())
	}
	pruner.mu.Lock()
	maxAge := pruner.maxAge
	pruner.mu.Unlock()
	if maxAge != 24*time.Hour {
		t.Errorf("maxAge = %v, want 24h", maxAge)
	}
}

func TestJanitorDisabledWhenNoMaxAge(t *testing.T) {
	pruner := &fakePruner{}
	j := NewJanitor(pruner, Config{PruneSchedule: "0 3 * * *"}, testLogger())

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Stop()

	if pruner.callCount() != 0 {
		t.Errorf("prune calls = %d, want 0", pruner.callCount())
	}
}

func TestJanitorRegistersMidnightJobs(t *testing.T) {
	j := NewJanitor(&fakePruner{}, Config{}, testLogger())
	j.OnMidnight(func() {})

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	j.Stop()
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	j := NewJanitor(&fakePruner{}, Config{
		EventsMaxAge:  time.Hour,
		PruneSchedule: "not a cron spec",
	}, testLogger())

	if err := j.Start(); err == nil {
		t.Error("Start() succeeded with invalid schedule")
	}
}

func TestJanitorLogsPruneError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db closed")}
	j := NewJanitor(pruner, Config{
		EventsMaxAge:  time.Hour,
		PruneSchedule: "@hourly",
	}, testLogger())

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	j.Stop()

	if pruner.callCount() != 1 {
		t.Errorf("prune calls = %d, want 1", pruner.callCount())
	}
}
