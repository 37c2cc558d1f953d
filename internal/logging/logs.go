package logging

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	Apply(DefaultConfig())
}

// Apply replaces the process logger. Configure calls it once; tools that
// need a different sink may call it directly.
func Apply(cfg Config) {
	l := New(cfg)
	current.Store(&l)
}

// New builds a console logger from cfg without installing it.
func New(cfg Config) zerolog.Logger {
	if cfg.Bypass {
		return zerolog.Nop()
	}
	out := cfg.Out
	if out == nil {
		out = colorable.NewColorableStdout()
	} else if f, ok := out.(*os.File); ok && f == os.Stdout {
		out = colorable.NewColorableStdout()
	}
	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		writer.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(writer).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Logger returns the installed logger for structured call sites.
func Logger() zerolog.Logger {
	return *current.Load()
}

// Writer exposes the installed logger as an io.Writer at info level.
func Writer() io.Writer {
	l := Logger()
	return l
}

func Tracef(format string, args ...any) {
	current.Load().Trace().Msg(fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) {
	current.Load().Debug().Msg(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	current.Load().Info().Msg(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	current.Load().Warn().Msg(fmt.Sprintf(format, args...))
}

func Errf(format string, args ...any) {
	current.Load().Error().Msg(fmt.Sprintf(format, args...))
}

// Logf writes regardless of level.
func Logf(format string, args ...any) {
	current.Load().Log().Msg(fmt.Sprintf(format, args...))
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
