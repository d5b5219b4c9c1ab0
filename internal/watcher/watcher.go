package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goliatone/go-live-edit/internal/autosave"
	"github.com/goliatone/go-live-edit/internal/logging"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

var (
	ErrNoRoots = errors.New("watcher: no roots configured")
)

// ChangeHandler classifies a disk change; the autosave controller is the
// production implementation.
type ChangeHandler interface {
	HandleExternalChange(ctx context.Context, path string) (autosave.Action, error)
}

// ReloadFunc is invoked for files nobody is live-editing; the host typically
// turns it into a browser reload signal.
type ReloadFunc func(path string)

// Watcher turns fsnotify events on the configured roots into handler calls,
// debouncing the event bursts editors and atomic-save tools produce.
type Watcher struct {
	cfg     runtimeconfig.WatchConfig
	handler ChangeHandler
	reload  ReloadFunc
	logger  interfaces.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// Option configures the watcher at construction time.
type Option func(*Watcher)

// WithLogger attaches the watcher module logger.
func WithLogger(provider interfaces.LoggerProvider) Option {
	return func(w *Watcher) {
		w.logger = logging.WatcherLogger(provider)
	}
}

// WithReload sets the callback for plain reload changes.
func WithReload(reload ReloadFunc) Option {
	return func(w *Watcher) {
		w.reload = reload
	}
}

// New creates a watcher over cfg.Roots feeding handler.
func New(cfg runtimeconfig.WatchConfig, handler ChangeHandler, opts ...Option) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, ErrNoRoots
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = runtimeconfig.DefaultConfig().Watch.Debounce
	}
	w := &Watcher{
		cfg:     cfg,
		handler: handler,
		logger:  logging.NoOp(),
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the configured roots until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: start: %w", err)
	}
	defer fw.Close()

	for _, root := range w.cfg.Roots {
		if err := fw.Add(root); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", root, err)
		}
		w.logger.Info("watching root", "root", root)
	}

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if !isMarkdown(event.Name) {
				continue
			}
			w.debounce(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// debounce (re)arms the per-path timer so a burst of writes produces a single
// handler call after the quiet period.
func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.dispatch(ctx, path)
	})
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	action, err := w.handler.HandleExternalChange(ctx, path)
	if err != nil {
		w.logger.Error("external change handling failed", "path", path, "error", err)
		return
	}
	w.logger.Debug("external change handled", "path", path, "action", action.String())
	if action == autosave.ActionReload && w.reload != nil {
		w.reload(path)
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return true
	default:
		return false
	}
}
