package logging

import (
	"context"
	"strings"

	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

const (
	rootModule     = "liveedit"
	documentModule = "liveedit.document"
	replicaModule  = "liveedit.crdt"
	realtimeModule = "liveedit.realtime"
	presenceModule = "liveedit.presence"
	autosaveModule = "liveedit.autosave"
	watcherModule  = "liveedit.watcher"
)

const (
	fieldPath     = "path"
	fieldClientID = "client_id"
	fieldFrameTag = "frame_tag"
)

// ModuleLogger returns a module-scoped logger, defaulting to a no-op
// implementation when no provider is supplied. The returned logger attaches
// the module identifier as structured context so downstream entries can be
// filtered predictably.
func ModuleLogger(provider interfaces.LoggerProvider, module string) interfaces.Logger {
	if module == "" {
		module = rootModule
	}

	logger := NoOp()
	if provider != nil {
		if provided := provider.GetLogger(module); provided != nil {
			logger = provided
		}
	}

	if fieldsLogger, ok := logger.(interfaces.FieldsLogger); ok {
		return fieldsLogger.WithFields(map[string]any{
			"module": module,
		})
	}

	return WithFields(logger, map[string]any{
		"module": module,
	})
}

// DocumentLogger returns the logger namespace reserved for the document store.
func DocumentLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, documentModule)
}

// ReplicaLogger returns the logger namespace reserved for CRDT sessions.
func ReplicaLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, replicaModule)
}

// RealtimeLogger returns the logger namespace reserved for the multiplexed channel.
func RealtimeLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, realtimeModule)
}

// PresenceLogger returns the logger namespace reserved for the presence roster.
func PresenceLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, presenceModule)
}

// AutosaveLogger returns the logger namespace reserved for the autosave controller.
func AutosaveLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, autosaveModule)
}

// WatcherLogger returns the logger namespace reserved for the file watcher.
func WatcherLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, watcherModule)
}

// WithConnectionContext enriches the provided logger with common realtime
// fields such as file path and client identifier. Empty values are ignored.
func WithConnectionContext(logger interfaces.Logger, path, clientID string) interfaces.Logger {
	fields := map[string]any{}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		fields[fieldPath] = trimmed
	}
	if trimmed := strings.TrimSpace(clientID); trimmed != "" {
		fields[fieldClientID] = trimmed
	}
	return WithFields(logger, fields)
}

// WithFrameTag annotates a logger with the frame tag being processed.
func WithFrameTag(logger interfaces.Logger, tag string) interfaces.Logger {
	if strings.TrimSpace(tag) == "" {
		return logger
	}
	return WithFields(logger, map[string]any{fieldFrameTag: tag})
}

// NoOp returns a logger that drops every log entry. It satisfies the Logger
// contract so services can safely operate when logging is disabled.
func NoOp() interfaces.Logger {
	return noopLogger{}
}

type noopLogger struct{}

var _ interfaces.Logger = noopLogger{}

func (noopLogger) Trace(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Fatal(string, ...any) {}

func (n noopLogger) WithFields(map[string]any) interfaces.Logger {
	return n
}

func (n noopLogger) WithContext(context.Context) interfaces.Logger {
	return n
}
