package main

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// sampleResourceUsage reports system CPU percent and this process's RSS in
// MB for the metrics snapshot. Sampling failures degrade to zero values so
// the worker loop never stalls on monitoring.
func sampleResourceUsage() map[string]any {
	usage := map[string]any{
		MetricCPUUsage:    0.0,
		MetricMemoryUsage: 0.0,
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		usage[MetricCPUUsage] = percents[0]
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			usage[MetricMemoryUsage] = float64(mem.RSS) / (1024 * 1024)
		}
	}

	return usage
}
