package debug

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// SetLogger routes all debug output through the given logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// DebugHeader prints debug header if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		current().Debug("=== DEBUG START ===")
	}
}

// DebugFooter prints debug footer if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		current().Debug("=== DEBUG END ===")
	}
}

// DebugOutput prints debug output if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		current().Debugf(format, args...)
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	DebugOutput(enabled, "Starting: %s", operation)

	return func() {
		duration := time.Since(start)
		DebugOutput(enabled, "Completed: %s (took %v)", operation, duration)
	}
}
