// Package logging bootstraps the process-wide structured logger.
//
// Every other package logs through the package-level functions in
// github.com/luxfi/log (log.Info, log.Error, ...) the way the teacher's
// network and txpool packages do; this package only owns picking the
// handler the root logger writes through.
package logging

import (
	"os"

	"github.com/luxfi/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	// Level is one of "trace", "debug", "info", "warn", "error", "crit".
	Level string
	// FilePath, if set, routes logs to a rotating file instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions returns sane daemon defaults.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 28,
	}
}

// Init installs the root logger used by every other package in this
// repository. Call once at process start, before any background runner
// is launched.
func Init(opts Options) error {
	lvl, err := log.LvlFromString(opts.Level)
	if err != nil {
		return err
	}

	var handler = log.NewTerminalHandler(os.Stderr, true)
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		handler = log.NewTerminalHandler(rotator, false)
	}

	logger := log.NewLogger(log.LvlFilterHandler(lvl, handler))
	log.SetDefault(logger)
	return nil
}
