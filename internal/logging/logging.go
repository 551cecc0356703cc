// Package logging builds the component loggers shared across the daemon.
//
// Every component logs through a stdlib *log.Logger with a "[component] "
// prefix. When a log file is configured, output is duplicated to a rotating
// file so long-running daemons don't grow unbounded logs.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink is the shared destination for all component loggers.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// NewSink creates a sink writing to stderr, plus a rotating logFile when
// non-empty.
func NewSink(logFile string) *Sink {
	if logFile == "" {
		return &Sink{w: os.Stderr}
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return &Sink{
		w:      io.MultiWriter(os.Stderr, rotator),
		closer: rotator,
	}
}

// Component returns a logger prefixed with "[name] ".
func (s *Sink) Component(name string) *log.Logger {
	return log.New(s.w, "["+name+"] ", log.LstdFlags)
}

// Close flushes and closes the rotating file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
