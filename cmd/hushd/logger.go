// logger.go - Structured logging for the hushpool wallet
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// loggerHandle owns the log file so it can be closed on shutdown.
type loggerHandle struct {
	log  zerolog.Logger
	file *os.File
}

// newLogger builds a console writer, plus a JSON file writer when logFile
// is set. Unknown levels fall back to info.
func newLogger(level string, logFile string) (*loggerHandle, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	h := &loggerHandle{}

	var sink io.Writer = console
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		h.file = file
		sink = zerolog.MultiLevelWriter(console, file)
	}

	h.log = zerolog.New(sink).Level(lvl).With().Timestamp().Logger()
	return h, nil
}

// Close closes the log file if one was opened.
func (h *loggerHandle) Close() error {
	if h.file != nil {
		return h.file.Close()
	}
	return nil
}
