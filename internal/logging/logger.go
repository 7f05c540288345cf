package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger writing console-encoded lines to output
func New(level, output string) (*zap.Logger, error) {
	if output == "" {
		output = "stdout"
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{output}
	zapConfig.Level = zap.NewAtomicLevelAt(GetZapLogLevel(level))
	zapConfig.Encoding = "console"
	zapConfig.EncoderConfig = encoderConfig

	return zapConfig.Build()
}
