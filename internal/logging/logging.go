// Package logging configures the process wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Console keeps log output on stderr.
	Console = "console"

	DefaultLevel = "info"
)

// InitLog parses and sets the log level. Any path other than "" and
// "console" routes output to a rotated log file.
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	var out io.Writer = os.Stderr
	if logPath != "" && logPath != Console {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return err
		}
		out = &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(level)
	return nil
}
