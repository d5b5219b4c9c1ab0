package autosave_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-live-edit/internal/autosave"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
)

type fakeStore struct {
	editing  bool
	selfSave bool

	flushCalls int32
	flushErr   error

	updatedPath string
	updatedRaw  string
	updateErr   error
	update      []byte
}

func (f *fakeStore) IsEditing(string) bool { return f.editing }

func (f *fakeStore) IsSelfSave(string) bool {
	was := f.selfSave
	f.selfSave = false
	return was
}

func (f *fakeStore) FlushAll(context.Context) (int, error) {
	atomic.AddInt32(&f.flushCalls, 1)
	return 1, f.flushErr
}

func (f *fakeStore) UpdateRaw(_ context.Context, path, raw string) ([]byte, error) {
	f.updatedPath = path
	f.updatedRaw = raw
	return f.update, f.updateErr
}

type fakeHub struct {
	pushedPath   string
	pushedUpdate []byte
	renderedPath string
	renderErr    error
}

func (f *fakeHub) PushUpdate(path string, update []byte) {
	f.pushedPath = path
	f.pushedUpdate = update
}

func (f *fakeHub) PushRender(_ context.Context, path string) error {
	f.renderedPath = path
	return f.renderErr
}

func newController(store *fakeStore, hub *fakeHub, opts ...autosave.Option) *autosave.Controller {
	return autosave.NewController(store, hub, runtimeconfig.AutosaveConfig{Interval: 2 * time.Second}, opts...)
}

func TestIntervalFloored(t *testing.T) {
	c := autosave.NewController(&fakeStore{}, &fakeHub{}, runtimeconfig.AutosaveConfig{Interval: 10 * time.Millisecond})
	if c.Interval() != runtimeconfig.MinAutosave {
		t.Fatalf("expected interval floored to %v, got %v", runtimeconfig.MinAutosave, c.Interval())
	}
}

func TestSelfSaveSuppressed(t *testing.T) {
	store := &fakeStore{selfSave: true, editing: true}
	c := newController(store, &fakeHub{})

	action, err := c.HandleExternalChange(context.Background(), "docs/guide.md")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if action != autosave.ActionNone {
		t.Fatalf("expected ActionNone for own save, got %v", action)
	}
	if store.updatedPath != "" {
		t.Fatalf("own save must not reset the session")
	}
}

func TestUneditedFileReloads(t *testing.T) {
	c := newController(&fakeStore{}, &fakeHub{})
	action, err := c.HandleExternalChange(context.Background(), "docs/guide.md")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if action != autosave.ActionReload {
		t.Fatalf("expected ActionReload, got %v", action)
	}
}

func TestEditedFileResetsToDiskContent(t *testing.T) {
	store := &fakeStore{editing: true, update: []byte(`{"ops":[]}`)}
	hub := &fakeHub{}
	c := newController(store, hub, autosave.WithReadFile(func(path string) ([]byte, error) {
		if path != "docs/guide.md" {
			t.Fatalf("unexpected read of %q", path)
		}
		return []byte("fresh disk content"), nil
	}))

	action, err := c.HandleExternalChange(context.Background(), "docs/guide.md")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if action != autosave.ActionReset {
		t.Fatalf("expected ActionReset, got %v", action)
	}
	if store.updatedRaw != "fresh disk content" {
		t.Fatalf("session not reset to disk content, got %q", store.updatedRaw)
	}
	if string(hub.pushedUpdate) != `{"ops":[]}` {
		t.Fatalf("convergence update not pushed")
	}
	if hub.renderedPath != "docs/guide.md" {
		t.Fatalf("render not pushed after reset")
	}
}

func TestResetReadFailureSurfaces(t *testing.T) {
	store := &fakeStore{editing: true}
	c := newController(store, &fakeHub{}, autosave.WithReadFile(func(string) ([]byte, error) {
		return nil, errors.New("disk gone")
	}))

	if _, err := c.HandleExternalChange(context.Background(), "docs/guide.md"); err == nil {
		t.Fatalf("expected read error to surface")
	}
	if store.updatedPath != "" {
		t.Fatalf("session must not be reset when the read fails")
	}
}

func TestRunFlushesUntilCancelled(t *testing.T) {
	store := &fakeStore{}
	c := autosave.NewController(store, &fakeHub{}, runtimeconfig.AutosaveConfig{Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&store.flushCalls) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("run never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on cancel")
	}
}
