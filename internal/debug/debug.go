// Package debug provides gated, component-tagged debug logging shared
// by every part of the mixer.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnableDebug is a build flag: go build -ldflags
// "-X .../internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// SetDebugOutput sets a custom writer for debug output. Pass nil to
// disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a timestamped file under
// the OS temp dir and returns its path.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "gtagsmixer-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled returns true if debug output should be emitted.
func IsDebugEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		return true
	}
	return false
}

func getDebugWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Log provides structured debug logging with component names.
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format, append([]interface{}{component}, args...)...)
}

// LogRouter logs request-router activity: query parsing, source
// resolution, RPC fan-out.
func LogRouter(format string, args ...interface{}) {
	Log("ROUTER", format, args...)
}

// LogMixer logs result-mixer/holder activity: per-slot arrivals and
// the merge decision.
func LogMixer(format string, args ...interface{}) {
	Log("MIXER", format, args...)
}

// LogQuery logs local query engine activity: dispatched commands and
// the clock samples bracketing the tag store lookup.
func LogQuery(format string, args ...interface{}) {
	Log("QUERY", format, args...)
}

// LogWatch logs the directory-watch pipeline: watch add/remove,
// filter decisions, event dispatch.
func LogWatch(format string, args ...interface{}) {
	Log("WATCH", format, args...)
}

// LogIndexing logs the index batcher: quiescence flushes, indexer
// subprocess invocations, delta loads.
func LogIndexing(format string, args ...interface{}) {
	Log("INDEX", format, args...)
}

// Fatal formats a catastrophic error message, logs it, and returns it as
// an error rather than exiting; callers decide whether to terminate.
func Fatal(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if w := getDebugWriter(); w != nil {
		fmt.Fprintf(w, "[FATAL] %s", msg)
	}
	return fmt.Errorf("fatal error: %s", msg)
}
