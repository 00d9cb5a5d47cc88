// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
)

// These are the environmental variables that determine if we log, and if
// we log whether or not the log should go to a file.
const (
	envLog     = "DYNALINT_LOG"
	envLogFile = "DYNALINT_LOG_PATH"
)

var (
	// ValidLevels are the log level names that envLog understands.
	ValidLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF"}

	// logger is the global hclog logger
	logger hclog.Logger

	// logWriter is a global writer for logs, to be used with the std log
	// package so that existing log.Printf("[LEVEL] ...") call sites are
	// filtered through the same level machinery.
	logWriter io.Writer
)

func init() {
	logger = newHCLogger("dynalint")
	logWriter = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

	// Set up the default std library logger to use our output.
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(logWriter)
}

// newHCLogger returns a new hclog.Logger instance with the given name.
func newHCLogger(name string) hclog.Logger {
	logOutput := io.Writer(os.Stderr)

	if logPath := os.Getenv(envLogFile); logPath != "" {
		f, err := os.OpenFile(logPath, syscall.O_CREAT|syscall.O_RDWR|syscall.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		} else {
			logOutput = f
		}
	}

	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:              name,
		Level:             globalLogLevel(),
		Output:            logOutput,
		IndependentLevels: true,
	})
}

// HCLogger returns the default global hclog logger.
func HCLogger() hclog.Logger {
	return logger
}

// LogOutput returns the writer that command output and subprocess stderr
// capture should be mirrored to when trace logging is enabled.
func LogOutput() io.Writer {
	return logWriter
}

// RegisterSink adds a new log sink to the temporary log file handling.
func RegisterSink(f *os.File) {
	l, ok := logger.(hclog.InterceptLogger)
	if !ok {
		panic("global logger is not an InterceptLogger")
	}

	if f == nil {
		return
	}

	l.RegisterSink(hclog.NewSinkAdapter(&hclog.LoggerOptions{
		Level:  hclog.Trace,
		Output: f,
	}))
}

func globalLogLevel() hclog.Level {
	envLevel := strings.ToUpper(os.Getenv(envLog))
	if envLevel == "" {
		return hclog.Off
	}
	return parseLogLevel(envLevel)
}

func parseLogLevel(envLevel string) hclog.Level {
	if envLevel == "" {
		return hclog.Off
	}
	if envLevel == "JSON" {
		envLevel = "TRACE"
	}

	logLevel := hclog.Trace
	if isValidLogLevel(envLevel) {
		logLevel = hclog.LevelFromString(envLevel)
	} else {
		fmt.Fprintf(os.Stderr, "[WARN] Invalid log level: %q. Defaulting to level: TRACE. Valid levels are: %+v\n",
			envLevel, ValidLevels)
	}

	return logLevel
}

func isValidLogLevel(level string) bool {
	for _, l := range ValidLevels {
		if level == string(l) {
			return true
		}
	}
	return false
}

// IsDebugOrHigher returns whether or not the current log level is debug or
// trace.
func IsDebugOrHigher() bool {
	level := globalLogLevel()
	return level == hclog.Debug || level == hclog.Trace
}
