// Package logger provides logging for foreman build execution.
//
// Implementations are thread-safe. The console logger prefixes every line
// with a [HH:MM:SS] timestamp, filters by level, and colors output when
// writing to a TTY.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Logger is the leveled logging interface the engine writes to.
type Logger interface {
	Tracef(format string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[string]int{
	"trace": levelTrace,
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// ConsoleLogger writes timestamped, level-filtered lines to a writer.
type ConsoleLogger struct {
	writer   io.Writer
	minLevel int
	mutex    sync.Mutex
	colored  bool
}

// NewConsoleLogger creates a ConsoleLogger. An empty or unknown level
// defaults to info. Color is enabled only for TTY stdout/stderr and is
// suppressed by NO_COLOR via the color library.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	min, ok := levelNames[strings.ToLower(strings.TrimSpace(logLevel))]
	if !ok {
		min = levelInfo
	}
	return &ConsoleLogger{
		writer:   writer,
		minLevel: min,
		colored:  isTerminal(writer),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	return isatty.IsTerminal(f.Fd()) && !color.NoColor
}

var levelColors = map[int]*color.Color{
	levelTrace: color.New(color.FgHiBlack),
	levelDebug: color.New(color.FgCyan),
	levelWarn:  color.New(color.FgYellow),
	levelError: color.New(color.FgRed),
}

func (l *ConsoleLogger) log(level int, tag, format string, args ...any) {
	if l.writer == nil || level < l.minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s%s", time.Now().Format("15:04:05"), tag, msg)
	if l.colored {
		if c, ok := levelColors[level]; ok {
			line = c.Sprint(line)
		}
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	fmt.Fprintln(l.writer, line)
}

func (l *ConsoleLogger) Tracef(format string, args ...any) {
	l.log(levelTrace, "TRACE: ", format, args...)
}

func (l *ConsoleLogger) Debugf(format string, args ...any) {
	l.log(levelDebug, "DEBUG: ", format, args...)
}

func (l *ConsoleLogger) Infof(format string, args ...any) {
	l.log(levelInfo, "", format, args...)
}

func (l *ConsoleLogger) Warnf(format string, args ...any) {
	l.log(levelWarn, "WARN: ", format, args...)
}

func (l *ConsoleLogger) Errorf(format string, args ...any) {
	l.log(levelError, "ERROR: ", format, args...)
}

// Nop is a Logger that discards everything.
type Nop struct{}

func (Nop) Tracef(string, ...any) {}
func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}
