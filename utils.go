package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

func GetDataDir() (string, error) {
	if envDir := os.Getenv("QUEUECTL_DATA_DIR"); envDir != "" {
		return envDir, nil
	}
	execPath, err := os.Executable()
	if err != nil {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return filepath.Join(wd, "data"), nil
	}
	return filepath.Join(filepath.Dir(execPath), "data"), nil
}

func jobsDir(dataDir string) string {
	return filepath.Join(dataDir, "jobs")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "worker.pid")
}

func stopFilePath(dataDir string) string {
	return filepath.Join(dataDir, "worker.stop")
}

func metricsFilePath(dataDir string) string {
	return filepath.Join(dataDir, "metrics.json")
}

func logDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// Timestamps are stored as RFC3339Nano so claim ordering stays stable for
// jobs enqueued within the same second.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
