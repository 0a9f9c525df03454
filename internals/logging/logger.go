package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/pixelsort/taskwatch/internals/conf"
)

type Options struct {
	// Quiet keeps logs out of stderr, used while the dashboard owns the terminal.
	Quiet bool
	Level slog.Level
}

// Init logs to stderr and to log.txt under the data dir. The returned file
// must be closed by the caller.
func Init(config *conf.Config, opts Options) (*slog.Logger, *os.File, error) {
	logPath := config.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, err
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var logWriter io.Writer = logFile
	noColor := true
	if !opts.Quiet {
		logWriter = io.MultiWriter(os.Stderr, logFile)
		noColor = !isatty.IsTerminal(os.Stderr.Fd())
	}
	logger := New(logWriter, opts.Level, noColor)
	slog.SetDefault(logger)
	return logger, logFile, nil
}

func New(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
		NoColor:   noColor,
	})
	return slog.New(handler)
}

// Discard is used by tests and by components built without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
