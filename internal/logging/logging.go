// Package logging wraps go.uber.org/zap into the small global-logger
// idiom used across the teacher's command-line entrypoints, with
// per-component named children (mpt, storage, eventring, exec).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	global = l.Sugar()
}

// SetLevel swaps the global logger for one built at the given level
// ("debug", "info", "warn", "error"), honoring the CLI surface's
// --log_level flag (spec.md §6).
func SetLevel(level string) error {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	global = l.Sugar()
	mu.Unlock()
	return nil
}

// Named returns a child logger tagged with the given component name.
func Named(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global.Named(component)
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return global.Sync()
}
