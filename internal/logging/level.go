package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Accepted values for the log level setting
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelWarn    = "warn"
	LevelError   = "error"
	LevelDPanic  = "dpanic"
	LevelPanic   = "panic"
	LevelFatal   = "fatal"
)

// GetZapLogLevel maps a level name to the zap level; unknown names fall back to info
func GetZapLogLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		return zap.DebugLevel
	case LevelInfo:
		return zap.InfoLevel
	case LevelWarning, LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	case LevelDPanic:
		return zap.DPanicLevel
	case LevelPanic:
		return zap.PanicLevel
	case LevelFatal:
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// IsKnownLevel reports whether GetZapLogLevel recognises level
func IsKnownLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug, LevelInfo, LevelWarning, LevelWarn, LevelError, LevelDPanic, LevelPanic, LevelFatal:
		return true
	}
	return false
}
