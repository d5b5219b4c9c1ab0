package liveedit_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	liveedit "github.com/goliatone/go-live-edit"
)

func TestNewBuildsAccessors(t *testing.T) {
	module, err := liveedit.New(liveedit.DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if module.Documents() == nil {
		t.Fatalf("expected a document store")
	}
	if module.Realtime() == nil {
		t.Fatalf("expected a realtime hub")
	}
	if module.Presence() == nil {
		t.Fatalf("expected a presence service")
	}
	if module.Autosave() == nil {
		t.Fatalf("expected an autosave controller")
	}
	if module.Markdown() == nil {
		t.Fatalf("expected a markdown renderer")
	}
	if module.Watcher() != nil {
		t.Fatalf("watcher must be nil with watching disabled")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := liveedit.DefaultConfig()
	cfg.Timing.Heartbeat = cfg.Timing.Staleness
	if _, err := liveedit.New(cfg); !errors.Is(err, liveedit.ErrHeartbeatNotBelowStaleness) {
		t.Fatalf("expected ErrHeartbeatNotBelowStaleness, got %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	module, err := liveedit.New(liveedit.DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := module.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := module.Start(ctx); !errors.Is(err, liveedit.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted on double start, got %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := module.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := module.Stop(stopCtx); !errors.Is(err, liveedit.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted on double stop, got %v", err)
	}

	// A stopped module can start again without leaking the old loops.
	if err := module.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := module.Stop(stopCtx); err != nil {
		t.Fatalf("stop after restart: %v", err)
	}
}

func TestStopFlushesDirtySessions(t *testing.T) {
	module, err := liveedit.New(liveedit.DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	path := filepath.Join(t.TempDir(), "draft.md")
	if err := os.WriteFile(path, []byte("draft"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ctx := context.Background()
	if err := module.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := module.Documents().Open(ctx, path); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := module.Documents().UpdateRaw(ctx, path, "edited"); err != nil {
		t.Fatalf("update: %v", err)
	}
	module.Documents().MarkDirty(path)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := module.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(onDisk) != "edited" {
		t.Fatalf("expected final flush on stop, disk has %q", onDisk)
	}
}
