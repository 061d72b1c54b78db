package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "queuectl",
	Short: "A CLI-based background job queue system",
	Long:  `queuectl persists jobs in SQLite, executes them with a pool of workers, retries failures with exponential backoff and dead-letters exhausted jobs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		dataDir, err = GetDataDir()
		if err != nil {
			logrus.Fatalf("failed to get data directory: %v", err)
		}
		if err := initDB(dataDir); err != nil {
			logrus.Fatalf("failed to initialize database: %v", err)
		}
		setupLogging(dataDir)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		CloseDB()
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [job-json]",
	Short: "Add a new job to the queue",
	Long: `Add a new job, either as an inline JSON description or from a file.

Examples:
  queuectl enqueue '{"id":"job1","command":"sleep 2"}'
  queuectl enqueue --file scripts/task.py`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, err := cmd.Flags().GetString("file")
		if err != nil {
			logrus.Fatalf("failed to get file flag: %v", err)
		}

		var req *JobRequest
		switch {
		case file != "":
			base := filepath.Base(file)
			id := strings.TrimSuffix(base, filepath.Ext(base))
			req = &JobRequest{ID: id, FilePath: file}
		case len(args) == 1:
			req, err = ParseJobJSON(args[0])
			if err != nil {
				logrus.Fatalf("failed to parse job JSON: %v", err)
			}
		default:
			logrus.Fatal("provide either a JSON job description or --file")
		}

		jobID, err := EnqueueJob(dataDir, req)
		if err != nil {
			logrus.Fatalf("failed to enqueue job: %v", err)
		}
		logrus.Infof("job %s enqueued", jobID)
		fmt.Printf("Job '%s' added successfully\n", jobID)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs by state",
	Run: func(cmd *cobra.Command, args []string) {
		stateFlag, err := cmd.Flags().GetString("state")
		if err != nil {
			logrus.Fatalf("failed to get state flag: %v", err)
		}

		var jobs []*Job
		if stateFlag != "" {
			state := JobState(stateFlag)
			if !state.Valid() {
				logrus.Fatalf("invalid state: %s (valid: pending, processing, completed, failed, dead)", stateFlag)
			}
			jobs, err = GetJobsByState(state)
		} else {
			jobs, err = GetAllJobs()
		}
		if err != nil {
			logrus.Fatalf("failed to list jobs: %v", err)
		}

		if len(jobs) == 0 {
			if stateFlag != "" {
				fmt.Printf("No jobs found with state: %s\n", stateFlag)
			} else {
				fmt.Println("No jobs found")
			}
			return
		}
		printJobTable(jobs)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show summary of all job states and active workers",
	Run: func(cmd *cobra.Command, args []string) {
		summary, err := GetJobSummary()
		if err != nil {
			logrus.Fatalf("failed to get job summary: %v", err)
		}

		fmt.Println("Job Queue Status")
		fmt.Println("================")
		for _, state := range AllStates {
			label := strings.ToUpper(string(state[0])) + string(state[1:])
			fmt.Printf("%-12s: %d\n", label, summary[state])
		}
		fmt.Printf("\nActive Workers: %d\n", activeWorkerCount())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage worker processes",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start worker processes",
	Run: func(cmd *cobra.Command, args []string) {
		count, err := cmd.Flags().GetInt("count")
		if err != nil {
			logrus.Fatalf("failed to get count flag: %v", err)
		}
		if count < 1 {
			logrus.Fatal("worker count must be at least 1")
		}

		cfg := LoadConfig()
		pool := NewWorkerPool(count, dataDir, cfg)
		if err := pool.StartWorkers(); err != nil {
			logrus.Fatalf("failed to start workers: %v", err)
		}
		pool.Wait()
	},
}

var workerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop running worker processes",
	Long:  `Raise the shared stop flag and signal the worker process. Workers finish their current job before exiting.`,
	Run: func(cmd *cobra.Command, args []string) {
		pidBytes, err := os.ReadFile(pidFilePath(dataDir))
		if os.IsNotExist(err) {
			fmt.Println("No workers are running")
			return
		}
		if err != nil {
			logrus.Fatalf("failed to read PID file: %v", err)
		}

		// The marker is the cross-process stop flag; the signal just wakes
		// the supervisor so it does not sit in a poll sleep.
		if err := os.WriteFile(stopFilePath(dataDir), []byte(formatTime(time.Now())+"\n"), 0644); err != nil {
			logrus.Fatalf("failed to write stop marker: %v", err)
		}

		var pid int
		if _, err := fmt.Sscanf(string(pidBytes), "%d", &pid); err != nil {
			logrus.Fatalf("invalid PID file format: %v", err)
		}

		process, err := os.FindProcess(pid)
		if err == nil {
			err = process.Signal(os.Interrupt)
		}
		if err != nil {
			fmt.Println("No workers are running (process not found)")
			os.Remove(pidFilePath(dataDir))
			os.Remove(stopFilePath(dataDir))
			return
		}

		fmt.Printf("Stop signal sent to worker process (PID %d). Workers will exit after their current job.\n", pid)
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage the Dead Letter Queue",
	Long:  `View and retry jobs that exhausted their retry budget.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the Dead Letter Queue",
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := GetDLQJobs()
		if err != nil {
			logrus.Fatalf("failed to get DLQ jobs: %v", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs in Dead Letter Queue")
			return
		}
		fmt.Printf("Dead Letter Queue Jobs (%d)\n", len(jobs))
		printJobTable(jobs)
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry job-id",
	Short: "Retry a job from the Dead Letter Queue",
	Long:  `Reset a dead job back to pending with its attempt count cleared.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		moved, err := RetryDLQJob(jobID)
		if err != nil {
			logrus.Fatalf("failed to retry DLQ job: %v", err)
		}
		if !moved {
			fmt.Printf("Job '%s' is not in the Dead Letter Queue\n", jobID)
			return
		}
		logrus.Infof("job %s moved back to pending from DLQ", jobID)
		fmt.Printf("Job '%s' moved back to pending queue\n", jobID)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Get and set persisted configuration keys: max_retries, backoff_base, log_level, worker_poll_interval.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set key value",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		switch key {
		case ConfigMaxRetries, ConfigPollInterval:
			if _, err := strconv.Atoi(value); err != nil {
				logrus.Fatalf("invalid value for %s: %s (must be an integer)", key, value)
			}
		case ConfigBackoffBase:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				logrus.Fatalf("invalid value for %s: %s (must be a number)", key, value)
			}
		case ConfigLogLevel:
			if _, err := logrus.ParseLevel(value); err != nil {
				logrus.Fatalf("invalid value for %s: %s", key, value)
			}
		}

		if err := SetConfig(key, value); err != nil {
			logrus.Fatalf("failed to set config: %v", err)
		}
		fmt.Printf("Configuration '%s' set to '%s'\n", key, value)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get key",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value, err := GetConfig(args[0])
		if err != nil {
			logrus.Fatalf("failed to get config: %v", err)
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := GetAllConfig()
		if err != nil {
			logrus.Fatalf("failed to get config: %v", err)
		}

		fmt.Println("Configuration:")
		fmt.Println(strings.Repeat("-", 40))
		for _, key := range []string{ConfigBackoffBase, ConfigLogLevel, ConfigMaxRetries, ConfigPollInterval} {
			fmt.Printf("%-22s %s\n", key, cfg[key])
		}
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display worker and system metrics",
	Run: func(cmd *cobra.Command, args []string) {
		metrics, err := ReadMetrics(dataDir)
		if err != nil {
			logrus.Fatalf("failed to read metrics: %v", err)
		}
		if len(metrics) == 0 {
			fmt.Println("No metrics found. Start a worker first (queuectl worker start).")
			return
		}

		fmt.Println("\nQueueCTL System Metrics")
		fmt.Println(strings.Repeat("-", 35))
		fmt.Printf("Last Heartbeat : %v\n", metricOr(metrics, MetricLastHeartbeat, "N/A"))
		fmt.Printf("Uptime (s)     : %v\n", metricOr(metrics, MetricUptimeSeconds, 0))
		fmt.Printf("Jobs Completed : %v\n", metricOr(metrics, MetricJobsProcessed, 0))
		fmt.Printf("Failed Jobs    : %v\n", metricOr(metrics, MetricFailedJobs, 0))
		fmt.Printf("DLQ Jobs       : %v\n", metricOr(metrics, MetricDLQJobs, 0))
		fmt.Printf("CPU Usage (%%)  : %v\n", metricOr(metrics, MetricCPUUsage, 0))
		fmt.Printf("Memory (MB)    : %v\n", metricOr(metrics, MetricMemoryUsage, 0))
		fmt.Println(strings.Repeat("-", 35))
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all jobs and reset metrics (keeps config and logs)",
	Run: func(cmd *cobra.Command, args []string) {
		if err := ClearAllJobs(); err != nil {
			logrus.Fatalf("failed to clear jobs: %v", err)
		}
		if err := ResetMetrics(dataDir); err != nil {
			logrus.Fatalf("failed to reset metrics: %v", err)
		}
		fmt.Println("Jobs cleared and metrics reset successfully")
	},
}

func printJobTable(jobs []*Job) {
	fmt.Printf("%-20s %-12s %-9s %-12s %-30s\n", "ID", "STATE", "ATTEMPTS", "MAX_RETRIES", "CREATED_AT")
	fmt.Println(strings.Repeat("-", 85))
	for _, job := range jobs {
		fmt.Printf("%-20s %-12s %-9d %-12d %-30s\n",
			job.ID,
			string(job.State),
			job.Attempts,
			job.MaxRetries,
			job.CreatedAt.Format(time.RFC3339),
		)
	}
}

// activeWorkerCount reads the PID file and verifies the supervisor process
// is still alive. Zero when no pool is running.
func activeWorkerCount() int {
	pidBytes, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return 0
	}
	lines := strings.Split(strings.TrimSpace(string(pidBytes)), "\n")
	if len(lines) == 0 {
		return 0
	}

	var pid int
	if _, err := fmt.Sscanf(lines[0], "%d", &pid); err != nil {
		return 0
	}
	count := 1
	if len(lines) >= 2 {
		if n, err := strconv.Atoi(strings.TrimSpace(lines[1])); err == nil {
			count = n
		}
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0
	}
	return count
}

func metricOr(metrics map[string]any, key string, def any) any {
	if v, ok := metrics[key]; ok && v != nil {
		return v
	}
	return def
}

func init() {
	enqueueCmd.Flags().StringP("file", "f", "", "Path to a script/file to enqueue")
	rootCmd.AddCommand(enqueueCmd)

	listCmd.Flags().StringP("state", "s", "", "Filter jobs by state (pending, processing, completed, failed, dead)")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(statusCmd)

	workerStartCmd.Flags().IntP("count", "c", 1, "Number of workers to start")
	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	rootCmd.AddCommand(workerCmd)

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)

	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
