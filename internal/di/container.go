package di

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-live-edit/internal/autosave"
	"github.com/goliatone/go-live-edit/internal/document"
	"github.com/goliatone/go-live-edit/internal/logging/gologger"
	"github.com/goliatone/go-live-edit/internal/markdown"
	"github.com/goliatone/go-live-edit/internal/presence"
	"github.com/goliatone/go-live-edit/internal/realtime"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
	"github.com/goliatone/go-live-edit/internal/watcher"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

// Container wires the engine's dependencies: logging provider, markdown
// renderer, session store, realtime hub, presence roster, autosave controller
// and the optional file watcher.
type Container struct {
	Config runtimeconfig.Config

	loggerProvider interfaces.LoggerProvider
	renderer       interfaces.Renderer
	replicas       interfaces.ReplicaFactory
	clock          func() time.Time
	reload         watcher.ReloadFunc

	store    *document.Store
	hub      *realtime.Hub
	presence *presence.Service
	autosave *autosave.Controller
	watcher  *watcher.Watcher
}

// Option mutates the container before it is finalised.
type Option func(*Container)

// WithLoggerProvider overrides the default go-logger backed provider.
func WithLoggerProvider(provider interfaces.LoggerProvider) Option {
	return func(c *Container) {
		c.loggerProvider = provider
	}
}

// WithRenderer overrides the default goldmark renderer.
func WithRenderer(renderer interfaces.Renderer) Option {
	return func(c *Container) {
		c.renderer = renderer
	}
}

// WithReplicaFactory overrides the CRDT backing the document sessions.
func WithReplicaFactory(factory interfaces.ReplicaFactory) Option {
	return func(c *Container) {
		c.replicas = factory
	}
}

// WithClock overrides the clock used for liveness and self-save decisions.
func WithClock(clock func() time.Time) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// WithReload sets the callback invoked when a watched file changes and
// nobody is live-editing it.
func WithReload(reload watcher.ReloadFunc) Option {
	return func(c *Container) {
		c.reload = reload
	}
}

// NewContainer validates cfg and builds the service graph.
func NewContainer(cfg runtimeconfig.Config, opts ...Option) (*Container, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{Config: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.loggerProvider == nil && cfg.Logging.Enabled {
		switch strings.ToLower(strings.TrimSpace(cfg.Logging.Provider)) {
		case "noop":
			// Module loggers fall back to no-op when no provider is set.
		case "gologger":
			provider, err := gologger.NewProvider(gologger.Config{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				AddSource: cfg.Logging.AddSource,
				Focus:     cfg.Logging.Focus,
			})
			if err != nil {
				return nil, fmt.Errorf("di: build logger provider: %w", err)
			}
			c.loggerProvider = provider
		default:
			return nil, fmt.Errorf("di: unknown logging provider %q", cfg.Logging.Provider)
		}
	}

	if c.renderer == nil {
		c.renderer = markdown.NewGoldmarkRenderer(cfg.Markdown)
	}

	storeOpts := []document.Option{document.WithLogger(c.loggerProvider)}
	if c.replicas != nil {
		storeOpts = append(storeOpts, document.WithReplicaFactory(c.replicas))
	}
	if c.clock != nil {
		storeOpts = append(storeOpts, document.WithClock(c.clock))
	}
	c.store = document.NewStore(c.renderer, storeOpts...)

	c.hub = realtime.NewHub(c.store, cfg, realtime.WithLogger(c.loggerProvider))

	presenceOpts := []presence.Option{presence.WithLogger(c.loggerProvider)}
	if c.clock != nil {
		presenceOpts = append(presenceOpts, presence.WithClock(c.clock))
	}
	c.presence = presence.NewService(cfg.Timing, presenceOpts...)

	c.autosave = autosave.NewController(c.store, c.hub, cfg.Autosave,
		autosave.WithLogger(c.loggerProvider))

	if cfg.Watch.Enabled {
		w, err := watcher.New(cfg.Watch, c.autosave,
			watcher.WithLogger(c.loggerProvider),
			watcher.WithReload(c.reload))
		if err != nil {
			return nil, err
		}
		c.watcher = w
	}

	return c, nil
}

// LoggerProvider returns the configured provider, nil when logging is off.
func (c *Container) LoggerProvider() interfaces.LoggerProvider {
	return c.loggerProvider
}

// Renderer returns the markdown renderer.
func (c *Container) Renderer() interfaces.Renderer {
	return c.renderer
}

// Store returns the document session store.
func (c *Container) Store() *document.Store {
	return c.store
}

// Hub returns the realtime hub.
func (c *Container) Hub() *realtime.Hub {
	return c.hub
}

// Presence returns the presence roster service.
func (c *Container) Presence() *presence.Service {
	return c.presence
}

// Autosave returns the autosave controller.
func (c *Container) Autosave() *autosave.Controller {
	return c.autosave
}

// Watcher returns the file watcher, nil when watching is disabled.
func (c *Container) Watcher() *watcher.Watcher {
	return c.watcher
}
