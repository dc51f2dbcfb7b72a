// Package logging configures the standard logger: level filtering on the
// [LEVEL] prefix and optional rotated file output.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/hashicorp/logutils"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/radio-control/daxiq/internal/config"
)

// Levels are the prefixes recognised by the filter, lowest first.
var Levels = []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewFilter returns a writer that drops lines below level. Lines without a
// [LEVEL] prefix always pass.
func NewFilter(level string, w io.Writer) *logutils.LevelFilter {
	return &logutils.LevelFilter{
		Levels:   Levels,
		MinLevel: logutils.LogLevel(strings.ToUpper(level)),
		Writer:   w,
	}
}

// Setup points the standard logger at stderr and, when cfg.File is set, a
// rotating file as well. The returned Closer releases the file.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(NewFilter(cfg.Level, out))
	log.Printf("[DEBUG] Debug logging enabled")
	return closer, nil
}
