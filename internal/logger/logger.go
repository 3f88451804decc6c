package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"websentry/internal/config"
	"websentry/internal/errorwrapper"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a zerolog logger from the application log configuration.
func New(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	maxSizeMB := cfg.MaxLogSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = config.DefaultMaxLogSizeMB
	}

	var writers []io.Writer
	writers = append(writers, consoleWriter(cfg.LogFormat))

	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSizeMB,
			MaxBackups: cfg.MaxLogBackups,
			Compress:   true,
		})
	}

	if len(writers) == 0 {
		return zerolog.Logger{}, errorwrapper.NewError("no log writers configured")
	}

	multiWriter := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multiWriter).
		Level(level).
		With().
		Timestamp().
		Logger()

	zerolog.SetGlobalLevel(level)
	stdlog.SetOutput(logger)
	stdlog.SetFlags(0)

	return logger, nil
}

func consoleWriter(format string) io.Writer {
	switch strings.ToLower(format) {
	case "json":
		return os.Stderr
	default:
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
}
