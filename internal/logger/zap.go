package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap's SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
}

// defaultZapLevel is used when an unknown level string is provided.
const defaultZapLevel = zapcore.DebugLevel

func toZapLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultZapLevel
	}
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	if format == FormatJSON {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.TimeKey = ""
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func newCore(level zapcore.Level, format string, w io.Writer) zapcore.Core {
	ws := zapcore.Lock(zapcore.AddSync(w))
	return zapcore.NewCore(newEncoder(format), ws, zap.NewAtomicLevelAt(level))
}

// New builds a standalone logger writing to stdout.
func New(level, format string) *Logger {
	return NewWriter(level, format, os.Stdout)
}

// NewWriter builds a logger writing to w. Used by tests to capture output.
func NewWriter(level, format string, w io.Writer) *Logger {
	core := newCore(toZapLevel(level), format, w)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}
}
