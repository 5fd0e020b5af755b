// Package logging provides the leveled logger facade shared by every
// package in this module. It wraps dragonboat's logger.ILogger so the
// loader gets named, level-filtered loggers without inventing a third
// logging convention for a module that otherwise has none of its own.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// gridLogger implements logger.ILogger with the same "LEVEL | pkg | msg"
// formatting the RPC layer uses, so log output from the loader and from any
// embedding application reads consistently.
type gridLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *gridLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *gridLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *gridLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *gridLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *gridLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *gridLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *gridLogger) log(levelStr, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-12s | %s", levelStr, l.name, message)
}

// Factory is installed once via logger.SetLoggerFactory so that every
// logger.GetLogger(name) call across the module routes through gridLogger.
func Factory(pkgName string) logger.ILogger {
	return &gridLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}
}

// ParseLevel converts a string level ("debug"/"info"/"warn"/"error") into a
// logger.LogLevel, defaulting to INFO for an unrecognized value.
func ParseLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

// namedLevels lists every logger this module creates via logger.GetLogger,
// so Init can apply a single configured level across all of them.
var namedLevels = []string{
	"affinity",
	"buffer",
	"loader",
	"flushq",
	"topology",
	"router",
	"wire",
}

// Init installs Factory as the process-wide logger factory and applies
// level to every named logger this module uses.
func Init(level string) {
	logger.SetLoggerFactory(Factory)

	lvl := ParseLevel(level)
	for _, name := range namedLevels {
		logger.GetLogger(name).SetLevel(lvl)
	}
}

// Get returns the named logger, creating it via the installed factory on
// first use (dragonboat's logger package caches loggers by name).
func Get(name string) logger.ILogger {
	return logger.GetLogger(name)
}
