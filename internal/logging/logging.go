// Package logging provides category-scoped structured logging for the
// vetting engine. Each subsystem logs through its own named category so a
// single debug flag can be used to dial verbosity up or down without
// touching call sites, and so log lines are easy to filter by component.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one of the engine's subsystems.
type Category string

const (
	CategoryStore        Category = "store"
	CategoryRefData      Category = "refdata"
	CategoryDiscovery    Category = "discovery"
	CategoryConcordance  Category = "concordance"
	CategoryFilingClient Category = "filingclient"
	CategoryExtract      Category = "extract"
	CategoryXMLStore     Category = "xmlstore"
	CategoryProfile      Category = "profile"
	CategoryGates        Category = "gates"
	CategoryScoring      Category = "scoring"
	CategoryRedFlags     Category = "redflags"
	CategoryVetting      Category = "vetting"
	CategoryConfig       Category = "config"
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	debug   bool
	cached  = make(map[Category]*zap.SugaredLogger)
	initted bool
)

// Configure sets the package-wide debug verbosity and (re)builds the
// underlying zap core. Safe to call once at process start; if never called,
// a sane production default (info level, console encoding) is used lazily.
func Configure(debugMode bool) {
	mu.Lock()
	defer mu.Unlock()
	debug = debugMode
	base = buildLogger(debugMode)
	cached = make(map[Category]*zap.SugaredLogger)
	initted = true
}

func buildLogger(debugMode bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debugMode {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func ensureInitted() {
	mu.Lock()
	if !initted {
		base = buildLogger(false)
		initted = true
	}
	mu.Unlock()
}

// Get returns the cached logger for a category, building it on first use.
func Get(cat Category) *zap.SugaredLogger {
	ensureInitted()

	mu.RLock()
	if l, ok := cached[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := cached[cat]; ok {
		return l
	}
	l := base.Sugar().With("category", string(cat))
	cached[cat] = l
	return l
}

// Debugf logs at debug level under the given category.
func Debugf(cat Category, format string, args ...interface{}) {
	Get(cat).Debugf(format, args...)
}

// Infof logs at info level under the given category.
func Infof(cat Category, format string, args ...interface{}) {
	Get(cat).Infof(format, args...)
}

// Warnf logs at warn level under the given category. Used for best-effort
// operations that must never propagate a failure to the caller (§7).
func Warnf(cat Category, format string, args ...interface{}) {
	Get(cat).Warnf(format, args...)
}

// Errorf logs at error level under the given category.
func Errorf(cat Category, format string, args ...interface{}) {
	Get(cat).Errorf(format, args...)
}

// StartTimer begins timing op under cat. Stop() logs the elapsed duration at
// debug level.
func StartTimer(cat Category, op string) *OpTimer {
	return newOpTimer(cat, op)
}
