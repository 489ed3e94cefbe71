// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Settings struct {
	Level string
	// Format is auto, console or json. auto picks console on a terminal.
	Format string
	// File, when set, receives all output through a rotating writer.
	File string
	// Quiet discards output when no file is configured. Full-screen UIs
	// set it so log lines do not end up on top of the frame.
	Quiet bool
}

// Init replaces log.Logger. The returned closer flushes the log file, if any.
func Init(s Settings) (io.Closer, error) {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", s.Level)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch {
	case s.File != "":
		lj := &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		out, closer = lj, lj
	case s.Quiet:
		out = io.Discard
	default:
		out = os.Stderr
	}

	switch strings.ToLower(s.Format) {
	case "", "auto":
		if s.File == "" && !s.Quiet && isatty.IsTerminal(os.Stderr.Fd()) {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: s.File != ""}
	case "json":
	default:
		return nil, errors.Errorf("unknown log format %q", s.Format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
