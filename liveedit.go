package liveedit

import (
	"context"
	"errors"
	"sync"

	"github.com/goliatone/go-live-edit/internal/autosave"
	"github.com/goliatone/go-live-edit/internal/di"
	"github.com/goliatone/go-live-edit/internal/document"
	"github.com/goliatone/go-live-edit/internal/logging"
	"github.com/goliatone/go-live-edit/internal/presence"
	"github.com/goliatone/go-live-edit/internal/realtime"
	"github.com/goliatone/go-live-edit/internal/watcher"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

var (
	// ErrAlreadyStarted is returned by Start when the module is running.
	ErrAlreadyStarted = errors.New("liveedit: already started")
	// ErrNotStarted is returned by Stop when the module never started.
	ErrNotStarted = errors.New("liveedit: not started")
)

// DocumentStore exports the session store for consumers of the liveedit package.
type DocumentStore = document.Store

// Hub exports the realtime channel hub.
type Hub = realtime.Hub

// PresenceService exports the presence roster service.
type PresenceService = presence.Service

// AutosaveController exports the autosave controller.
type AutosaveController = autosave.Controller

// Watcher exports the file watcher.
type Watcher = watcher.Watcher

// Renderer exports the markdown renderer contract.
type Renderer = interfaces.Renderer

// Module is the top level live-edit runtime facade. It owns the background
// loops (autosave flush, presence sweep, file watch) so hosts start and stop
// the engine as one unit; re-initialization can never leak duplicate timers
// because the loops live and die with one Start/Stop pair.
type Module struct {
	container *di.Container

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a live-edit module using the provided configuration and
// optional DI overrides.
func New(cfg Config, opts ...di.Option) (*Module, error) {
	container, err := di.NewContainer(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Module{container: container}, nil
}

// Container exposes the underlying DI container for advanced integrations.
func (m *Module) Container() *di.Container {
	return m.container
}

// Documents returns the session store.
func (m *Module) Documents() *DocumentStore {
	return m.container.Store()
}

// Realtime returns the multiplexed channel hub.
func (m *Module) Realtime() *Hub {
	return m.container.Hub()
}

// Presence returns the roster service.
func (m *Module) Presence() *PresenceService {
	return m.container.Presence()
}

// Autosave returns the autosave controller.
func (m *Module) Autosave() *AutosaveController {
	return m.container.Autosave()
}

// Markdown returns the preview renderer.
func (m *Module) Markdown() Renderer {
	return m.container.Renderer()
}

// Watcher returns the file watcher, nil when watching is disabled.
func (m *Module) Watcher() *Watcher {
	return m.container.Watcher()
}

// Start launches the background loops. Calling Start on a running module is
// an error; the previous loops keep running untouched.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.container.Autosave().Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.container.Presence().Run(runCtx)
	}()

	if w := m.container.Watcher(); w != nil {
		log := logging.WatcherLogger(m.container.LoggerProvider())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(runCtx); err != nil {
				log.Error("file watcher stopped", "error", err)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()
	return nil
}

// Stop cancels the background loops and waits for them to exit, then flushes
// any remaining dirty sessions so no edit is lost on shutdown.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err := m.container.Store().FlushAll(ctx)
	return err
}
