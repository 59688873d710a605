package log

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	current     atomic.Pointer[zap.SugaredLogger]
)

// logger returns the active sugared logger, building a production logger
// on first use so packages can log before Setup runs.
func logger() *zap.SugaredLogger {
	if l := current.Load(); l != nil {
		return l
	}
	l, err := build(false)
	if err != nil {
		l = zap.NewNop()
	}
	s := l.Sugar()
	if !current.CompareAndSwap(nil, s) {
		return current.Load()
	}
	return s
}

func build(development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atomicLevel
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg.Build(zap.AddCallerSkip(1))
}

// Setup configures the global logger. development switches to the
// human-readable console encoder.
func Setup(l Level, development bool) error {
	atomicLevel.SetLevel(toZap(l))
	z, err := build(development)
	if err != nil {
		return err
	}
	if prev := current.Swap(z.Sugar()); prev != nil {
		_ = prev.Sync()
	}
	return nil
}

// Use installs an externally built zap logger, returning a func that
// restores the previous one. Mostly useful in tests.
func Use(z *zap.Logger) (restore func()) {
	prev := current.Swap(z.WithOptions(zap.AddCallerSkip(1)).Sugar())
	return func() {
		current.Store(prev)
	}
}

func SetLevel(l Level) {
	atomicLevel.SetLevel(toZap(l))
}

// ParseLevel maps config strings (case-insensitive) to a Level. Unknown
// values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logger().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	logger().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	logger().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logger().Errorw(msg, extended...)
}

// Sync flushes buffered entries. Call before exit.
func Sync() error {
	return logger().Sync()
}

func toZap(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
