// Package logging routes diagnostic output. Interactive commands write
// to stderr when --debug is set; the long-lived serve process writes to
// a size-rotated file under .lodestar/logs/ because its stdout carries
// the wire protocol.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the active log file inside the log directory.
const FileName = "lodestar.log"

var (
	mu      sync.Mutex
	enabled bool
	logger  = log.New(io.Discard, "", log.LstdFlags|log.LUTC)
	sink    io.Closer
)

// EnableStderr turns on diagnostic logging to stderr.
func EnableStderr() {
	mu.Lock()
	defer mu.Unlock()
	enabled = true
	logger.SetOutput(os.Stderr)
}

// EnableFile routes diagnostics to dir/lodestar.log with size-based
// rotation. maxSizeMB, maxBackups, and maxAgeDays bound disk usage.
func EnableFile(dir string, maxSizeMB, maxBackups, maxAgeDays int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	roller := &lumberjack.Logger{
		Filename:   filepath.Join(dir, FileName),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}

	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		_ = sink.Close()
	}
	sink = roller
	enabled = true
	logger.SetOutput(roller)
	return nil
}

// Enabled reports whether diagnostics are being written anywhere.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Logf writes one formatted diagnostic line when logging is enabled.
func Logf(format string, args ...any) {
	mu.Lock()
	on := enabled
	mu.Unlock()
	if !on {
		return
	}
	logger.Printf(format, args...)
}

// Close flushes and closes the file sink, if one is attached.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(io.Discard)
	enabled = false
	if sink == nil {
		return nil
	}
	err := sink.Close()
	sink = nil
	return err
}
