package liveedit

import "github.com/goliatone/go-live-edit/internal/runtimeconfig"

var (
	ErrHeartbeatNotBelowStaleness = runtimeconfig.ErrHeartbeatNotBelowStaleness
	ErrIntervalBelowMinimum       = runtimeconfig.ErrIntervalBelowMinimum
	ErrWatchRootRequired          = runtimeconfig.ErrWatchRootRequired
	ErrLoggingProviderRequired    = runtimeconfig.ErrLoggingProviderRequired
	ErrLoggingProviderUnknown     = runtimeconfig.ErrLoggingProviderUnknown
	ErrLoggingLevelInvalid        = runtimeconfig.ErrLoggingLevelInvalid
	ErrLoggingFormatInvalid       = runtimeconfig.ErrLoggingFormatInvalid
)

type (
	Config         = runtimeconfig.Config
	TimingConfig   = runtimeconfig.TimingConfig
	TimingPayload  = runtimeconfig.TimingPayload
	AutosaveConfig = runtimeconfig.AutosaveConfig
	RealtimeConfig = runtimeconfig.RealtimeConfig
	MarkdownConfig = runtimeconfig.MarkdownConfig
	WatchConfig    = runtimeconfig.WatchConfig
	LoggingConfig  = runtimeconfig.LoggingConfig
)

func DefaultConfig() Config {
	return runtimeconfig.DefaultConfig()
}
