package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// shutdownGrace is how long the supervisor waits for workers to drain after
// a stop signal before terminating the process.
const shutdownGrace = 30 * time.Second

// WorkerPool supervises N worker goroutines. Shutdown is cooperative: a
// stop request raises an in-process cancellation plus a cross-process
// marker file that every worker polls, and workers finish their current job
// before exiting.
type WorkerPool struct {
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	done        chan struct{}
	workerCount int
	dataDir     string
	cfg         *Config
}

func NewWorkerPool(workerCount int, dataDir string, cfg *Config) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		workerCount: workerCount,
		dataDir:     dataDir,
		cfg:         cfg,
	}
}

// StartWorkers spawns the worker goroutines and installs the signal
// handler. It returns once the workers are running; callers join with Wait.
func (wp *WorkerPool) StartWorkers() error {
	// A stale stop marker from a previous run would kill the pool at once.
	if err := os.Remove(stopFilePath(wp.dataDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stop marker: %w", err)
	}

	pid := os.Getpid()
	pidData := fmt.Sprintf("%d\n%d\n", pid, wp.workerCount)
	if err := os.WriteFile(pidFilePath(wp.dataDir), []byte(pidData), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Warn("received stop signal, shutting down workers")
		wp.RequestStop()
		select {
		case <-wp.done:
		case <-sigChan:
			logrus.Error("second stop signal, terminating immediately")
			os.Exit(1)
		case <-time.After(shutdownGrace):
			logrus.Errorf("workers still running after %s grace period, terminating", shutdownGrace)
			os.Exit(1)
		}
	}()

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.workerLoop(fmt.Sprintf("worker-%d", i+1))
	}
	logrus.Infof("started %d worker(s) (PID %d)", wp.workerCount, pid)
	return nil
}

// Wait blocks until every worker has exited, then cleans up the PID and
// stop marker files.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
	close(wp.done)

	if err := os.Remove(pidFilePath(wp.dataDir)); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to remove PID file: %v", err)
	}
	if err := os.Remove(stopFilePath(wp.dataDir)); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to remove stop marker: %v", err)
	}
	logrus.Info("all workers stopped")
}

// RequestStop raises the shared stop flag. It never terminates anything
// itself; callers are expected to join via Wait.
func (wp *WorkerPool) RequestStop() {
	if err := os.WriteFile(stopFilePath(wp.dataDir), []byte(formatTime(time.Now())+"\n"), 0644); err != nil {
		logrus.Warnf("failed to write stop marker: %v", err)
	}
	wp.cancel()
}

// stopRequested composes the in-process cancellation with the cross-process
// stop marker in a single check.
func (wp *WorkerPool) stopRequested() bool {
	if wp.ctx.Err() != nil {
		return true
	}
	_, err := os.Stat(stopFilePath(wp.dataDir))
	return err == nil
}

// sleep blocks for d, waking early on in-process cancellation. The marker
// file is re-checked by the caller at the next loop boundary.
func (wp *WorkerPool) sleep(d time.Duration) {
	select {
	case <-wp.ctx.Done():
	case <-time.After(d):
	}
}

// workerLoop is one worker: poll, execute, apply retry/backoff or DLQ,
// publish metrics, repeat until stopped. Job-level errors never escape it.
func (wp *WorkerPool) workerLoop(name string) {
	defer wp.wg.Done()

	log := logrus.WithField("worker", name)
	start := time.Now()

	defer func() {
		wp.publishMetrics(log, map[string]any{
			MetricUptimeSeconds: int(time.Since(start).Seconds()),
		})
		log.Info("worker exiting cleanly")
	}()

	log.Info("worker started")
	for {
		if wp.stopRequested() {
			log.Info("stop requested, shutting down")
			return
		}

		wp.publishMetrics(log, map[string]any{
			MetricLastHeartbeat: formatTime(time.Now()),
		})

		job, err := ClaimJob()
		if err != nil {
			log.Errorf("failed to claim job: %v", err)
			wp.sleep(wp.cfg.PollInterval)
			continue
		}
		if job == nil {
			fields := sampleResourceUsage()
			fields[MetricUptimeSeconds] = int(time.Since(start).Seconds())
			wp.publishMetrics(log, fields)

			wp.sleep(wp.cfg.PollInterval)
			continue
		}

		log.Infof("processing job %s", job.ID)
		log.Debugf("job %s command: %s", job.ID, job.Command)

		state, attempts := wp.runJob(log, job)
		wp.publishAggregates(log, start)

		switch state {
		case StateFailed:
			delay := backoffDelay(attempts, wp.cfg.BackoffBase)
			log.Warnf("job %s failed, retry %d/%d in %s", job.ID, attempts, job.MaxRetries, delay)
			wp.sleep(delay)
			if _, _, err := TransitionJob(job.ID, StatePending); err != nil {
				log.Errorf("failed to requeue job %s: %v", job.ID, err)
			}
		case StateDead:
			log.Errorf("job %s moved to dead letter queue after %d attempts", job.ID, attempts)
		}
	}
}

// runJob executes one claimed job and contains every failure mode. A panic
// or a store error during execution forces a failed-attempt transition so
// the job is never left stuck in processing by a surviving worker.
func (wp *WorkerPool) runJob(log *logrus.Entry, job *Job) (state JobState, attempts int) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("unhandled panic during job %s: %v", job.ID, r)
			state, attempts = wp.forceFail(log, job)
		}
	}()

	state, attempts, err := ExecuteJob(log, job)
	if err != nil {
		log.Errorf("failed to record outcome for job %s: %v", job.ID, err)
		state, attempts = wp.forceFail(log, job)
	}
	return state, attempts
}

func (wp *WorkerPool) forceFail(log *logrus.Entry, job *Job) (JobState, int) {
	state, attempts, err := TransitionJob(job.ID, StateFailed)
	if err != nil {
		log.Errorf("failed to force-fail job %s: %v", job.ID, err)
		return StateFailed, job.Attempts + 1
	}
	return state, attempts
}

// publishAggregates refreshes uptime, store-wide totals and resource usage
// after a job attempt. Counts are best-effort reads, not safety-critical.
func (wp *WorkerPool) publishAggregates(log *logrus.Entry, start time.Time) {
	fields := sampleResourceUsage()
	fields[MetricUptimeSeconds] = int(time.Since(start).Seconds())

	if summary, err := GetJobSummary(); err == nil {
		fields[MetricJobsProcessed] = summary[StateCompleted]
		fields[MetricFailedJobs] = summary[StateFailed]
		fields[MetricDLQJobs] = summary[StateDead]
	} else {
		log.Debugf("failed to read job summary: %v", err)
	}

	wp.publishMetrics(log, fields)
}

func (wp *WorkerPool) publishMetrics(log *logrus.Entry, fields map[string]any) {
	if err := UpdateMetrics(wp.dataDir, fields); err != nil {
		log.Debugf("failed to update metrics: %v", err)
	}
}

// backoffDelay is base^attempts seconds.
func backoffDelay(attempts int, base float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(math.Pow(base, float64(attempts)) * float64(time.Second))
}
