// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package sylog provides the leveled logging used across the monitor,
// wrapper and runner binaries. It mirrors the call-site idiom used
// throughout the rest of this tree (Debugf/Infof/Warningf/Errorf/Fatalf)
// on top of logrus rather than hand-rolled formatting.
package sylog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is one of the three verbosity levels accepted by --verbose.
type Level int

const (
	// LevelError only logs errors and fatal conditions.
	LevelError Level = iota
	// LevelInfo is the default: informational progress plus errors.
	LevelInfo
	// LevelDebug logs everything.
	LevelDebug
)

var (
	mu     sync.Mutex
	logger = logrus.New()
	prefix string
)

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	logger.SetLevel(logrus.InfoLevel)
}

// ParseLevel converts a --verbose flag value into a Level, defaulting to
// LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "Debug", "debug":
		return LevelDebug
	case "Error", "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel configures the process-wide logging verbosity.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	switch l {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetPrefix stamps every subsequent log line with a short prefix, used to
// tag a Monitor run with its correlation id so overlapping runs in the same
// terminal can be told apart.
func SetPrefix(p string) {
	mu.Lock()
	defer mu.Unlock()
	prefix = p
}

// SetOutput redirects the log sink, which is os.Stderr by default.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func withPrefix(format string) string {
	if prefix == "" {
		return format
	}
	return "[" + prefix + "] " + format
}

// Debugf logs at debug level.
func Debugf(format string, args ...interface{}) {
	logger.Debugf(withPrefix(format), args...)
}

// Infof logs at info level.
func Infof(format string, args ...interface{}) {
	logger.Infof(withPrefix(format), args...)
}

// Warningf logs at warning level.
func Warningf(format string, args ...interface{}) {
	logger.Warnf(withPrefix(format), args...)
}

// Errorf logs at error level. It does not terminate the process; callers
// are expected to propagate the error through a return value as well.
func Errorf(format string, args ...interface{}) {
	logger.Errorf(withPrefix(format), args...)
}

// Fatalf logs at error level and terminates the process with exit code 1.
// Reserved for fatal configuration errors at startup.
func Fatalf(format string, args ...interface{}) {
	logger.Errorf(withPrefix(format), args...)
	os.Exit(1)
}
