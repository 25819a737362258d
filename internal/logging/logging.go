// Package logging configures the global zerolog logger: console output
// always, plus a size-rotated file when a log path is configured.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the global logger. logFile may be empty.
func Setup(logFile string, debug bool) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}

	if logFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(writers...))

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
