package log

import (
	"strings"
	"sync"

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
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	initMu sync.Once
)

// Init (re)builds the global logger. development switches to the
// human-readable console encoder with colored levels.
func Init(lvl Level, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	level.SetLevel(toZapLevel(lvl))
	cfg.Level = level
	cfg.DisableStacktrace = !development

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	sugar = logger.Sugar()
	mu.Unlock()
	return nil
}

// SetLevel adjusts the minimum level without rebuilding the logger.
func SetLevel(l Level) {
	level.SetLevel(toZapLevel(l))
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
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

// Logger exposes the underlying zap logger for libraries that want one.
func Logger() *zap.Logger {
	return get().Desugar()
}

func Sync() {
	_ = get().Sync()
}

func Debug(msg string, kv ...any) {
	get().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	get().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	get().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{zap.Error(err)}, kv...)
	get().Errorw(msg, extended...)
}

func get() *zap.SugaredLogger {
	initMu.Do(func() {
		mu.RLock()
		ready := sugar != nil
		mu.RUnlock()
		if !ready {
			if err := Init(LevelInfo, false); err != nil {
				mu.Lock()
				sugar = zap.NewNop().Sugar()
				mu.Unlock()
			}
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func toZapLevel(l Level) zapcore.Level {
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
