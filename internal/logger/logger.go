// Package logger builds the process logger on CometBFT's structured logger.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/cometbft/cometbft/libs/log"
)

// New returns a logger writing to stderr.
func New(debug bool) log.Logger {
	return NewWithWriter(debug, os.Stderr)
}

// NewWithWriter returns a logger writing to w. Debug lines are kept only
// when debug is set; info and above are always written.
func NewWithWriter(debug bool, w io.Writer) log.Logger {
	l := log.NewTMLogger(log.NewSyncWriter(w))
	if debug {
		return log.NewFilter(l, log.AllowDebug())
	}
	return log.NewFilter(l, log.AllowInfo())
}

// Discard returns a logger that drops everything, used while the TUI owns the terminal.
func Discard() log.Logger {
	return log.NewNopLogger()
}

// Fatal logs msg at error level and exits.
func Fatal(l log.Logger, msg string, keyvals ...interface{}) {
	l.Error(msg, keyvals...)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
