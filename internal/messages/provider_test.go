package messages

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemplates(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProviderLoadsTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.txt")
	writeTemplates(t, path, "# outreach copy\nHi there!\n\nHello, quick question\n")

	p, err := NewProvider(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if p.Count() != 2 {
		t.Fatalf("count = %d, want 2 (comments and blanks skipped)", p.Count())
	}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[p.Pick()] = true
	}
	for msg := range seen {
		if msg != "Hi there!" && msg != "Hello, quick question" {
			t.Errorf("Pick returned unexpected template %q", msg)
		}
	}
}

func TestProviderRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.txt")
	writeTemplates(t, path, "# only comments\n\n")

	if _, err := NewProvider(path, testLogger()); err == nil {
		t.Fatal("expected error for template file with no templates")
	}
}

func TestProviderRejectsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.txt")
	if _, err := NewProvider(path, testLogger()); err == nil {
		t.Fatal("expected error for missing template file")
	}
}

func TestProviderReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.txt")
	writeTemplates(t, path, "first\n")

	p, err := NewProvider(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx)
	}()

	writeTemplates(t, path, "first\nsecond\nthird\n")

	deadline := time.After(3 * time.Second)
	for p.Count() != 3 {
		select {
		case <-deadline:
			t.Fatalf("count = %d after reload, want 3", p.Count())
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on context cancel")
	}
}

func TestProviderKeepsTemplatesOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.txt")
	writeTemplates(t, path, "keep me\n")

	p, err := NewProvider(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Watch(ctx) }()

	// Truncate to nothing; the reload fails and the old set survives.
	writeTemplates(t, path, "")
	time.Sleep(600 * time.Millisecond)

	if p.Count() != 1 || p.Pick() != "keep me" {
		t.Fatalf("templates lost after bad reload: count=%d", p.Count())
	}
}
