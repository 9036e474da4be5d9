// Package logging implements the structured, leveled logger used
// throughout the node, styled on the key/value logging convention used
// across the pack (log.Info("msg", "key", val, ...)). Output is colorized
// when writing to a terminal and plain otherwise.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a logging severity.
type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
)

var levelNames = map[Level]string{
	LvlCrit:  "CRIT",
	LvlError: "ERROR",
	LvlWarn:  "WARN",
	LvlInfo:  "INFO",
	LvlDebug: "DEBUG",
}

var levelColors = map[Level]int{
	LvlCrit:  35, // magenta
	LvlError: 31, // red
	LvlWarn:  33, // yellow
	LvlInfo:  32, // green
	LvlDebug: 36, // cyan
}

// root holds process-wide logging state: the minimum level and output
// writer, shared by every Logger.
var root = struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
	color bool
}{
	level: LvlInfo,
	out:   colorable.NewColorableStdout(),
	color: isatty.IsTerminal(os.Stdout.Fd()),
}

// SetLevel changes the process-wide minimum level that gets written.
func SetLevel(lvl Level) {
	root.mu.Lock()
	defer root.mu.Unlock()
	root.level = lvl
}

// SetOutput redirects process-wide log output, disabling color (the
// replacement writer is assumed not to be a terminal).
func SetOutput(w io.Writer) {
	root.mu.Lock()
	defer root.mu.Unlock()
	root.out = w
	root.color = false
}

// Logger writes leveled, key/value formatted lines tagged with a fixed
// component name, e.g. the owning package or peer connection id.
type Logger struct {
	component string
}

// New returns a Logger tagged with component, e.g. New("miner").
func New(component string) *Logger {
	return &Logger{component: component}
}

// With returns a Logger whose component is extended with suffix, for
// per-connection or per-peer tags (e.g. dispatcher log tagged with a
// correlation id).
func (l *Logger) With(suffix string) *Logger {
	return &Logger{component: l.component + "." + suffix}
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at the critical level and terminates the process, matching
// the pack's convention that Crit is reserved for unrecoverable startup
// failures.
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

func (l *Logger) write(lvl Level, msg string, ctx []interface{}) {
	root.mu.Lock()
	defer root.mu.Unlock()
	if lvl > root.level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')

	name := levelNames[lvl]
	if root.color {
		fmt.Fprintf(&b, "\x1b[%dm%-5s\x1b[0m", levelColors[lvl], name)
	} else {
		fmt.Fprintf(&b, "%-5s", name)
	}

	fmt.Fprintf(&b, " [%s] %s", l.component, msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		fmt.Fprintf(&b, " %v=MISSING", ctx[len(ctx)-1])
	}
	if lvl <= LvlError {
		fmt.Fprintf(&b, " caller=%v", stack.Caller(2))
	}
	b.WriteByte('\n')

	io.WriteString(root.out, b.String())
}
