package autosave

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-live-edit/internal/logging"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

// Action tells the file-watch layer what an external change means.
type Action int

const (
	// ActionNone: the change was this engine's own flush; nothing to do.
	ActionNone Action = iota
	// ActionReset: the file is being live-edited; the session was reset to
	// the disk content and connected editors converged to it.
	ActionReset
	// ActionReload: nobody is editing the file; the page should reload.
	ActionReload
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReset:
		return "reset"
	case ActionReload:
		return "reload"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// DocumentStore is the slice of the session store the controller drives.
type DocumentStore interface {
	interfaces.EditGuard
	FlushAll(ctx context.Context) (int, error)
	UpdateRaw(ctx context.Context, path, raw string) ([]byte, error)
}

// Broadcaster pushes convergence updates and fresh renders to connected
// editors after a session reset.
type Broadcaster interface {
	PushUpdate(path string, update []byte)
	PushRender(ctx context.Context, path string) error
}

// Controller owns the periodic flush loop and decides how external file
// changes interact with live sessions. Disk is the source of truth: an
// external write to an edited file wins over unsaved in-session state.
type Controller struct {
	store    DocumentStore
	hub      Broadcaster
	interval time.Duration
	logger   interfaces.Logger
	readFile func(string) ([]byte, error)
}

// Option configures the controller at construction time.
type Option func(*Controller)

// WithLogger attaches the autosave module logger.
func WithLogger(provider interfaces.LoggerProvider) Option {
	return func(c *Controller) {
		c.logger = logging.AutosaveLogger(provider)
	}
}

// WithReadFile overrides how disk content is read back after an external
// change.
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(c *Controller) {
		if read != nil {
			c.readFile = read
		}
	}
}

// NewController creates a controller flushing every cfg.Interval.
func NewController(store DocumentStore, hub Broadcaster, cfg runtimeconfig.AutosaveConfig, opts ...Option) *Controller {
	interval := cfg.Interval
	if interval < runtimeconfig.MinAutosave {
		interval = runtimeconfig.MinAutosave
	}
	c := &Controller{
		store:    store,
		hub:      hub,
		interval: interval,
		logger:   logging.NoOp(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval reports the flush cadence.
func (c *Controller) Interval() time.Duration {
	return c.interval
}

// Run flushes dirty sessions on the configured cadence until ctx is
// cancelled. Flush failures are logged and retried on the next tick; they
// never stop the loop.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushed, err := c.store.FlushAll(ctx)
			if err != nil {
				c.logger.Error("autosave flush failed", "flushed", flushed, "error", err)
				continue
			}
			if flushed > 0 {
				c.logger.Debug("autosave flushed sessions", "flushed", flushed)
			}
		}
	}
}

// HandleExternalChange classifies a disk change to path. The engine's own
// flushes are suppressed; a change to a live-edited file resets the session
// to the disk content and converges every connected editor; anything else is
// the watch layer's ordinary reload.
func (c *Controller) HandleExternalChange(ctx context.Context, path string) (Action, error) {
	if c.store.IsSelfSave(path) {
		c.logger.Debug("suppressing echo of own save", "path", path)
		return ActionNone, nil
	}
	if !c.store.IsEditing(path) {
		return ActionReload, nil
	}

	raw, err := c.readFile(path)
	if err != nil {
		return ActionNone, fmt.Errorf("autosave: read changed file %s: %w", path, err)
	}

	c.logger.Warn("external change to live-edited file, resetting session to disk content", "path", path)
	update, err := c.store.UpdateRaw(ctx, path, string(raw))
	if err != nil {
		return ActionNone, fmt.Errorf("autosave: reset session %s: %w", path, err)
	}
	c.hub.PushUpdate(path, update)
	if err := c.hub.PushRender(ctx, path); err != nil {
		c.logger.Error("render push after reset failed", "path", path, "error", err)
	}
	return ActionReset, nil
}
