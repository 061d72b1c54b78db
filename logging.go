package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// setupLogging configures the process-wide logger: level from config, full
// timestamps, output to both the log file and stderr. Failing to open the
// log file degrades to stderr-only rather than aborting startup.
func setupLogging(dataDir string) {
	level, err := logrus.ParseLevel(GetConfigString(ConfigLogLevel, DefaultLogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	dir := logDir(dataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.Warnf("failed to create log directory: %v", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "queuectl.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logrus.Warnf("failed to open log file: %v", err)
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, f))
}
