// Package console provides the driver's leveled, colored diagnostic output.
// A single process-wide Console is redirected per stage by
// pkg/orchestrator, which is why every write goes through an explicit
// io.Writer field instead of bare os.Stderr.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/logrusorgru/aurora"
)

// Console represents a standardized interface for console UI. It is designed to abstract:
// - Writing messages to logs or displaying on console
// - Console user interface elements (progress, interactive prompts, etc)
// - Switching between human and machine modes for these things (e.g. don't display progress bars or colors in logs, don't prompt for input when in a script)
type Console struct {
	Color     bool
	IsMachine bool
	Level     Level
	out       io.Writer
	mu        sync.Mutex
}

func (c *Console) writer() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return os.Stderr
	}
	return c.out
}

// Redirect points the console's output at w until the returned restore
// function is called. Stage dispatch in pkg/orchestrator defers the
// restore unconditionally so a failing stage can never leave the console
// pointed at a closed log file.
func (c *Console) Redirect(w io.Writer) (restore func()) {
	c.mu.Lock()
	prev := c.out
	c.out = w
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.out = prev
		c.mu.Unlock()
	}
}

// Debug level message
func (c *Console) Debug(msg string, v ...interface{}) {
	c.log(DebugLevel, msg, v...)
}

// Info level message
func (c *Console) Info(msg string, v ...interface{}) {
	c.log(InfoLevel, msg, v...)
}

// Warn level message
func (c *Console) Warn(msg string, v ...interface{}) {
	c.log(WarnLevel, msg, v...)
}

// Error level message
func (c *Console) Error(msg string, v ...interface{}) {
	c.log(ErrorLevel, msg, v...)
}

// Fatal logs a FatalLevel message. It does not call os.Exit: the single
// top-level boundary in pkg/orchestrator owns the process exit code, so
// library code never terminates the process out from under a caller.
func (c *Console) Fatal(msg string, v ...interface{}) {
	c.log(FatalLevel, msg, v...)
}

// Output writes a line to the console's current writer. Useful for
// printing primary output of a command, or the output of a subcommand.
func (c *Console) Output(line string) {
	w := c.writer()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, line)
}

// OutputErr writes a line to stderr regardless of the console's current
// redirect target, for primary output that must never end up in a
// redirected stage log.
func (c *Console) OutputErr(line string) {
	fmt.Fprintln(os.Stderr, line)
}

// DebugOutput writes a line, unprefixed, but only when level is DebugLevel.
func (c *Console) DebugOutput(line string) {
	if c.Level > DebugLevel {
		return
	}
	if c.Color {
		line = aurora.Faint(line).String()
	}
	w := c.writer()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, line)
}

func (c *Console) log(level Level, msg string, v ...interface{}) {
	if level < c.Level {
		return
	}

	prompt := "═══╡ "
	continuationPrompt := "   │ "

	formattedMsg := fmt.Sprintf(msg, v...)

	if c.Color {
		color := aurora.Faint
		switch level {
		case WarnLevel:
			color = aurora.Yellow
		case ErrorLevel, FatalLevel:
			color = aurora.Red
		}
		prompt = color(prompt).String()
		continuationPrompt = color(continuationPrompt).String()
	}

	w := c.writer()
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, line := range strings.Split(formattedMsg, "\n") {
		if c.Color && level == DebugLevel {
			line = aurora.Faint(line).String()
		}
		if i == 0 {
			line = prompt + line
		} else {
			line = continuationPrompt + line
		}
		fmt.Fprintln(w, line)
	}
}
