// Package logging provides config-driven categorized file-based logging for orchestro.
// Logs are written to .orchestro/logs/ with a separate file per category.
// Logging is controlled by debug_mode in .orchestro/config.json - when false,
// loggers are no-ops. Nothing in this package ever writes to stdout or stderr:
// stdout belongs to the MCP stdio transport.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and shutdown
	CategoryStore    Category = "store"    // SQLite store operations
	CategoryEvents   Category = "events"   // Event queue emit/fetch/purge
	CategoryCache    Category = "cache"    // Cache hits, invalidations, sweeps
	CategoryTasks    Category = "tasks"    // Task engine operations
	CategoryGraph    Category = "graph"    // Resource graph and conflicts
	CategoryLearning Category = "learning" // Feedback and pattern aggregates
	CategorySuggest  Category = "suggest"  // Agent/tool suggestions
	CategoryWorkflow Category = "workflow" // Workflow coordinator stages
	CategoryStory    Category = "story"    // Story decomposition
	CategoryAgents   Category = "agents"   // Agent file sync
	CategoryServer   Category = "server"   // Tool surface dispatch
)

// Options controls logger construction. Mirrors config.LoggingConfig to
// avoid a circular import with internal/config.
type Options struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool // empty means all categories enabled
}

// Logger wraps a zap sugared logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu          sync.Mutex
	loggers     = make(map[Category]*Logger)
	logsDir     string
	opts        Options
	level       zapcore.Level
	initialized bool
	nop         = &Logger{sugar: zap.NewNop().Sugar()}
)

// Initialize sets up the logging directory. Should be called once at startup
// with the workspace path. When DebugMode is false this is a silent no-op and
// every logger returned by Get is a no-op.
func Initialize(workspace string, o Options) error {
	mu.Lock()
	defer mu.Unlock()

	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	opts = o
	switch o.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	if !o.DebugMode {
		initialized = true
		return nil
	}

	logsDir = filepath.Join(workspace, ".orchestro", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	initialized = true

	boot := get(CategoryBoot)
	boot.Info("=== orchestro logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Level: %s", level.String())
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.Lock()
	defer mu.Unlock()
	return get(category)
}

// get assumes mu is held.
func get(category Category) *Logger {
	if !initialized || !opts.DebugMode {
		return nop
	}
	if len(opts.Categories) > 0 && !opts.Categories[string(category)] {
		return nop
	}
	if l, ok := loggers[category]; ok {
		return l
	}

	path := filepath.Join(logsDir, fmt.Sprintf("%s.log", category))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), level)

	l := &Logger{
		category: category,
		sugar:    zap.New(core).Sugar().Named(string(category)),
	}
	loggers[category] = l
	return l
}

// Shutdown flushes all category loggers.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
}

// Debug logs at debug level with printf formatting.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs at info level with printf formatting.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs at warn level with printf formatting.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs at error level with printf formatting.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Server logs an info message to the server category.
func Server(format string, args ...interface{}) {
	Get(CategoryServer).Info(format, args...)
}

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time. Operations slower than a second are warned.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Warn("%s took %s", t.op, elapsed)
		return
	}
	l.Debug("%s took %s", t.op, elapsed)
}
