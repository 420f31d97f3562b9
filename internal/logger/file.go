package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends timestamped lines to a per-build log file. Level
// filtering is intentionally absent: the build log keeps everything.
type FileLogger struct {
	mutex sync.Mutex
	file  *os.File
}

// NewFileLogger opens (creating directories as needed) the build log at
// dir/build.log for appending.
func NewFileLogger(dir string) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, "build.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open build log: %w", err)
	}
	return &FileLogger{file: f}, nil
}

// Close flushes and closes the log file.
func (l *FileLogger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *FileLogger) write(level, format string, args ...any) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "%s %-5s %s\n",
		time.Now().Format(time.RFC3339), level, fmt.Sprintf(format, args...))
}

func (l *FileLogger) Tracef(format string, args ...any) { l.write("TRACE", format, args...) }
func (l *FileLogger) Debugf(format string, args ...any) { l.write("DEBUG", format, args...) }
func (l *FileLogger) Infof(format string, args ...any)  { l.write("INFO", format, args...) }
func (l *FileLogger) Warnf(format string, args ...any)  { l.write("WARN", format, args...) }
func (l *FileLogger) Errorf(format string, args ...any) { l.write("ERROR", format, args...) }

// Tee fans log lines out to multiple loggers.
type Tee []Logger

func (t Tee) Tracef(format string, args ...any) {
	for _, l := range t {
		l.Tracef(format, args...)
	}
}

func (t Tee) Debugf(format string, args ...any) {
	for _, l := range t {
		l.Debugf(format, args...)
	}
}

func (t Tee) Infof(format string, args ...any) {
	for _, l := range t {
		l.Infof(format, args...)
	}
}

func (t Tee) Warnf(format string, args ...any) {
	for _, l := range t {
		l.Warnf(format, args...)
	}
}

func (t Tee) Errorf(format string, args ...any) {
	for _, l := range t {
		l.Errorf(format, args...)
	}
}
