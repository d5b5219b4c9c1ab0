package runtimeconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrHeartbeatNotBelowStaleness enforces the protocol rule that liveness can
// always be observed before an entry goes stale.
var ErrHeartbeatNotBelowStaleness = errors.New("liveedit config: heartbeat interval must be strictly less than the staleness threshold")

// ErrIntervalBelowMinimum flags a timing parameter configured under its floor.
var ErrIntervalBelowMinimum = errors.New("liveedit config: interval below enforced minimum")

var ErrWatchRootRequired = errors.New("liveedit config: watch requires at least one content root")
var ErrLoggingProviderRequired = errors.New("liveedit config: logging provider is required when logging is enabled")
var ErrLoggingProviderUnknown = errors.New("liveedit config: logging provider is invalid")
var ErrLoggingLevelInvalid = errors.New("liveedit config: logging level is invalid")
var ErrLoggingFormatInvalid = errors.New("liveedit config: logging format is invalid")

// Enforced minimums. Values below these either destabilise liveness
// detection or hammer the renderer; Validate rejects them outright.
const (
	MinHeartbeat      = time.Second
	MinStaleness      = 3 * time.Second
	MinCursorThrottle = 50 * time.Millisecond
	MinDiffDebounce   = 100 * time.Millisecond
	MinRenderInterval = 250 * time.Millisecond
	MinKeepalive      = 5 * time.Second
	MinReconnectDelay = 500 * time.Millisecond
	MinAutosave       = time.Second
)

// Config aggregates the live-edit engine settings. Fields intentionally use
// simple types so host applications can extend them later.
type Config struct {
	Enabled  bool
	Timing   TimingConfig
	Autosave AutosaveConfig
	Realtime RealtimeConfig
	Markdown MarkdownConfig
	Watch    WatchConfig
	Logging  LoggingConfig
}

// TimingConfig carries the seven protocol intervals delivered to each
// connecting client in the CONFIG frame.
type TimingConfig struct {
	Heartbeat      time.Duration
	Staleness      time.Duration
	CursorThrottle time.Duration
	DiffDebounce   time.Duration
	RenderInterval time.Duration
	Keepalive      time.Duration
	ReconnectDelay time.Duration
}

// AutosaveConfig controls the dirty-session flush cadence.
type AutosaveConfig struct {
	Interval time.Duration
}

// RealtimeConfig bounds per-connection resources.
type RealtimeConfig struct {
	// SendQueueDepth caps a connection's outbound queue; a consumer that
	// falls this far behind is dropped and left to reconnect.
	SendQueueDepth int
	// MaxFrameBytes caps inbound frame size; larger frames are protocol errors.
	MaxFrameBytes int64
}

// MarkdownConfig mirrors the renderer options exposed by the goldmark parser.
type MarkdownConfig struct {
	Extensions []string
	HardWraps  bool
	Unsafe     bool
}

// WatchConfig controls the fsnotify layer that feeds external disk changes
// back into the engine.
type WatchConfig struct {
	Enabled  bool
	Roots    []string
	Debounce time.Duration
}

// LoggingConfig captures provider-specific options for runtime logging.
type LoggingConfig struct {
	Enabled   bool
	Provider  string
	Level     string
	Format    string
	AddSource bool
	Focus     []string
}

// TimingPayload is the wire form of TimingConfig, in milliseconds, pushed to
// clients once per connection.
type TimingPayload struct {
	HeartbeatMS      int64 `json:"heartbeatInterval"`
	StalenessMS      int64 `json:"staleThreshold"`
	CursorThrottleMS int64 `json:"cursorThrottle"`
	DiffDebounceMS   int64 `json:"diffDebounce"`
	RenderIntervalMS int64 `json:"renderInterval"`
	KeepaliveMS      int64 `json:"keepaliveInterval"`
	ReconnectDelayMS int64 `json:"reconnectDelay"`
}

// Payload converts the timing configuration into its client wire form.
func (t TimingConfig) Payload() TimingPayload {
	return TimingPayload{
		HeartbeatMS:      t.Heartbeat.Milliseconds(),
		StalenessMS:      t.Staleness.Milliseconds(),
		CursorThrottleMS: t.CursorThrottle.Milliseconds(),
		DiffDebounceMS:   t.DiffDebounce.Milliseconds(),
		RenderIntervalMS: t.RenderInterval.Milliseconds(),
		KeepaliveMS:      t.Keepalive.Milliseconds(),
		ReconnectDelayMS: t.ReconnectDelay.Milliseconds(),
	}
}

// SweepInterval derives the roster sweep cadence from the staleness
// threshold: one third, so a stale entry is removed within a bounded window.
func (t TimingConfig) SweepInterval() time.Duration {
	return t.Staleness / 3
}

// DefaultConfig returns opinionated defaults suitable for a local docs site.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Timing: TimingConfig{
			Heartbeat:      5 * time.Second,
			Staleness:      15 * time.Second,
			CursorThrottle: 100 * time.Millisecond,
			DiffDebounce:   300 * time.Millisecond,
			RenderInterval: time.Second,
			Keepalive:      30 * time.Second,
			ReconnectDelay: 2 * time.Second,
		},
		Autosave: AutosaveConfig{
			Interval: 2 * time.Second,
		},
		Realtime: RealtimeConfig{
			SendQueueDepth: 256,
			MaxFrameBytes:  1 << 20,
		},
		Markdown: MarkdownConfig{
			Extensions: []string{"gfm", "linkify", "tasklist"},
			Unsafe:     true,
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Provider: "gologger",
			Level:    "info",
			Format:   "console",
		},
	}
}

// Normalized fills zero-valued durations with defaults so hosts can set only
// what they care about. It never lowers an explicitly configured value.
func (cfg Config) Normalized() Config {
	def := DefaultConfig()
	fill := func(dst *time.Duration, fallback time.Duration) {
		if *dst == 0 {
			*dst = fallback
		}
	}
	fill(&cfg.Timing.Heartbeat, def.Timing.Heartbeat)
	fill(&cfg.Timing.Staleness, def.Timing.Staleness)
	fill(&cfg.Timing.CursorThrottle, def.Timing.CursorThrottle)
	fill(&cfg.Timing.DiffDebounce, def.Timing.DiffDebounce)
	fill(&cfg.Timing.RenderInterval, def.Timing.RenderInterval)
	fill(&cfg.Timing.Keepalive, def.Timing.Keepalive)
	fill(&cfg.Timing.ReconnectDelay, def.Timing.ReconnectDelay)
	fill(&cfg.Autosave.Interval, def.Autosave.Interval)
	fill(&cfg.Watch.Debounce, def.Watch.Debounce)
	if cfg.Realtime.SendQueueDepth <= 0 {
		cfg.Realtime.SendQueueDepth = def.Realtime.SendQueueDepth
	}
	if cfg.Realtime.MaxFrameBytes <= 0 {
		cfg.Realtime.MaxFrameBytes = def.Realtime.MaxFrameBytes
	}
	return cfg
}

// Validate performs high-level consistency checks.
func (cfg Config) Validate() error {
	floors := []struct {
		name  string
		value time.Duration
		min   time.Duration
	}{
		{"heartbeat", cfg.Timing.Heartbeat, MinHeartbeat},
		{"staleness", cfg.Timing.Staleness, MinStaleness},
		{"cursor_throttle", cfg.Timing.CursorThrottle, MinCursorThrottle},
		{"diff_debounce", cfg.Timing.DiffDebounce, MinDiffDebounce},
		{"render_interval", cfg.Timing.RenderInterval, MinRenderInterval},
		{"keepalive", cfg.Timing.Keepalive, MinKeepalive},
		{"reconnect_delay", cfg.Timing.ReconnectDelay, MinReconnectDelay},
		{"autosave", cfg.Autosave.Interval, MinAutosave},
	}
	for _, f := range floors {
		if f.value < f.min {
			return fmt.Errorf("%w: %s %s < %s", ErrIntervalBelowMinimum, f.name, f.value, f.min)
		}
	}
	if cfg.Timing.Heartbeat >= cfg.Timing.Staleness {
		return ErrHeartbeatNotBelowStaleness
	}
	if cfg.Watch.Enabled && len(cfg.Watch.Roots) == 0 {
		return ErrWatchRootRequired
	}
	if cfg.Logging.Enabled {
		provider := normalizeProvider(cfg.Logging.Provider)
		if provider == "" {
			return ErrLoggingProviderRequired
		}
		if !isSupportedProvider(provider) {
			return fmt.Errorf("%w: %s", ErrLoggingProviderUnknown, provider)
		}
		if level := strings.TrimSpace(cfg.Logging.Level); level != "" && !isSupportedLevel(level) {
			return fmt.Errorf("%w: %s", ErrLoggingLevelInvalid, level)
		}
		if provider == "gologger" {
			if format := strings.TrimSpace(cfg.Logging.Format); format != "" && !isSupportedFormat(format) {
				return fmt.Errorf("%w: %s", ErrLoggingFormatInvalid, format)
			}
		}
	}
	return nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func isSupportedProvider(provider string) bool {
	switch provider {
	case "gologger", "noop":
		return true
	default:
		return false
	}
}

func isSupportedLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
		return true
	default:
		return false
	}
}

func isSupportedFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "console", "pretty":
		return true
	default:
		return false
	}
}
