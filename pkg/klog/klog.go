// Package klog wraps zap.SugaredLogger behind a small package-level API
// (Infow/Warnw/Errorw/Debugw) so call sites never touch zap directly.
package klog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	sugar  = newDefault()
	fields []any
)

func newDefault() *zap.SugaredLogger {
	l, _ := zap.NewProduction()
	return l.Sugar()
}

// Config controls the global logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // "stdout" or a file path
}

// Init replaces the global logger. Safe to call once at startup.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(orDefault(cfg.Level, "info"))); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	out := zapcore.Lock(os.Stdout)
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		out = zapcore.Lock(f)
	}

	core := zapcore.NewCore(encoder, out, level)
	logger := zap.New(core, zap.AddCaller())

	mu.Lock()
	sugar = logger.Sugar()
	mu.Unlock()
	return nil
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

// With returns fields prepended to every call (used by AddInitialField
// style startup wiring: service name, version).
func With(kv ...any) {
	mu.Lock()
	fields = append(fields, kv...)
	sugar = sugar.With(kv...)
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debugw(msg string, kv ...any) { get().Debugw(msg, kv...) }
func Infow(msg string, kv ...any)  { get().Infow(msg, kv...) }
func Warnw(msg string, kv ...any)  { get().Warnw(msg, kv...) }
func Errorw(msg string, kv ...any) { get().Errorw(msg, kv...) }

func Debugf(format string, args ...any) { get().Debugf(format, args...) }
func Infof(format string, args ...any)  { get().Infof(format, args...) }
func Warnf(format string, args ...any)  { get().Warnf(format, args...) }
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

func Info(args ...any)  { get().Info(args...) }
func Warn(args ...any)  { get().Warn(args...) }
func Error(args ...any) { get().Error(args...) }

// Sync flushes any buffered log entries; call before process exit.
func Sync() error { return get().Sync() }
