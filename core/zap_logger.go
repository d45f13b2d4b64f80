package core

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds a Logger backed by zap. format is "json" or "console".
func NewZapLogger(level, format string) (*Logger, error) {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(parseZapLevel(level)),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return FromZap(z), nil
}

// FromZap adapts an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	handler := func(level string, msg string, attrs map[string]interface{}) {
		fields := make([]zap.Field, 0, len(attrs))
		for k, v := range attrs {
			if err, ok := v.(error); ok {
				fields = append(fields, zap.NamedError(k, err))
				continue
			}
			fields = append(fields, zap.Any(k, v))
		}
		switch level {
		case "TRACE", "DEBUG":
			z.Debug(msg, fields...)
		case "INFO":
			z.Info(msg, fields...)
		case "WARN":
			z.Warn(msg, fields...)
		case "ERROR":
			z.Error(msg, fields...)
		case "FATAL":
			z.Fatal(msg, fields...)
		default:
			z.Info(msg, fields...)
		}
	}
	l := NewLogger(handler)
	l.syncFunc = z.Sync
	return l
}

func parseZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
