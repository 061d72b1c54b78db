package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// Metrics snapshot field names. The snapshot is one merged JSON document,
// last write wins per key; readers must tolerate stale or absent fields.
const (
	MetricLastHeartbeat = "last_heartbeat"
	MetricUptimeSeconds = "uptime_seconds"
	MetricJobsProcessed = "jobs_processed"
	MetricFailedJobs    = "failed_jobs"
	MetricDLQJobs       = "dlq_jobs"
	MetricCPUUsage      = "cpu_usage"
	MetricMemoryUsage   = "memory_usage"
	MetricLastUpdated   = "last_updated"
)

func metricsLock(dataDir string) *flock.Flock {
	return flock.New(metricsFilePath(dataDir) + ".lock")
}

// UpdateMetrics merges the given fields into the shared snapshot file. The
// read-merge-write cycle holds a cross-process file lock so concurrent
// writers never interleave partial writes.
func UpdateMetrics(dataDir string, fields map[string]any) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := metricsLock(dataDir)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock metrics file: %w", err)
	}
	defer lock.Unlock()

	metrics := readMetricsFile(dataDir)
	for key, value := range fields {
		metrics[key] = value
	}
	metrics[MetricLastUpdated] = formatTime(time.Now())

	return writeMetricsFile(dataDir, metrics)
}

// ReadMetrics returns the current snapshot. A missing or corrupt file reads
// as empty.
func ReadMetrics(dataDir string) (map[string]any, error) {
	lock := metricsLock(dataDir)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock metrics file: %w", err)
	}
	defer lock.Unlock()

	return readMetricsFile(dataDir), nil
}

// ResetMetrics writes a zeroed snapshot.
func ResetMetrics(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := metricsLock(dataDir)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock metrics file: %w", err)
	}
	defer lock.Unlock()

	return writeMetricsFile(dataDir, map[string]any{
		MetricLastHeartbeat: nil,
		MetricUptimeSeconds: 0,
		MetricJobsProcessed: 0,
		MetricFailedJobs:    0,
		MetricDLQJobs:       0,
		MetricCPUUsage:      0.0,
		MetricMemoryUsage:   0.0,
	})
}

func readMetricsFile(dataDir string) map[string]any {
	metrics := make(map[string]any)
	data, err := os.ReadFile(metricsFilePath(dataDir))
	if err != nil {
		return metrics
	}
	if err := json.Unmarshal(data, &metrics); err != nil {
		return make(map[string]any)
	}
	return metrics
}

func writeMetricsFile(dataDir string, metrics map[string]any) error {
	data, err := json.MarshalIndent(metrics, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(metricsFilePath(dataDir), data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
