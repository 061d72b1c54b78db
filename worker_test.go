package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		base     float64
		want     time.Duration
	}{
		{"base 2 attempt 1", 1, 2, 2 * time.Second},
		{"base 2 attempt 2", 2, 2, 4 * time.Second},
		{"base 2 attempt 3", 3, 2, 8 * time.Second},
		{"base 3 attempt 2", 2, 3, 9 * time.Second},
		{"base 1 flat", 4, 1, time.Second},
		{"attempt floor", 0, 2, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(tt.attempts, tt.base))
		})
	}
}

func testConfig() *Config {
	return &Config{
		MaxRetries:   3,
		BackoffBase:  1,
		LogLevel:     "debug",
		PollInterval: 50 * time.Millisecond,
	}
}

func waitForJobState(t *testing.T, jobID string, want JobState, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := GetJobByID(jobID)
		return err == nil && job.State == want
	}, timeout, 50*time.Millisecond, "job %s never reached state %s", jobID, want)
}

func TestWorkerCompletesJob(t *testing.T) {
	dir := setupTestStore(t)
	mustEnqueue(t, dir, &JobRequest{ID: "t2", Command: "exit 0", MaxRetries: 3})

	pool := NewWorkerPool(1, dir, testConfig())
	require.NoError(t, pool.StartWorkers())
	defer func() {
		pool.RequestStop()
		pool.Wait()
	}()

	waitForJobState(t, "t2", StateCompleted, 10*time.Second)

	job, err := GetJobByID("t2")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 0, job.Attempts)
}

func TestWorkerDeadLettersExhaustedJob(t *testing.T) {
	dir := setupTestStore(t)
	mustEnqueue(t, dir, &JobRequest{ID: "t1", Command: "exit 1", MaxRetries: 2})

	pool := NewWorkerPool(1, dir, testConfig())
	require.NoError(t, pool.StartWorkers())
	defer func() {
		pool.RequestStop()
		pool.Wait()
	}()

	// Two attempts with a 1s backoff in between.
	waitForJobState(t, "t1", StateDead, 20*time.Second)

	job, err := GetJobByID("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	dlq, err := GetDLQJobs()
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "t1", dlq[0].ID)
}

func TestWorkerSurvivesUnrunnableCommand(t *testing.T) {
	dir := setupTestStore(t)
	mustEnqueue(t, dir, &JobRequest{ID: "bad", Command: "/definitely/not/a/command", MaxRetries: 1})
	mustEnqueue(t, dir, &JobRequest{ID: "good", Command: "exit 0", MaxRetries: 1})

	pool := NewWorkerPool(1, dir, testConfig())
	require.NoError(t, pool.StartWorkers())
	defer func() {
		pool.RequestStop()
		pool.Wait()
	}()

	// The failed attempt dead-letters "bad" (max_retries=1) and the worker
	// keeps going to complete "good".
	waitForJobState(t, "bad", StateDead, 10*time.Second)
	waitForJobState(t, "good", StateCompleted, 10*time.Second)
}

func TestWorkerStopsOnMarkerFile(t *testing.T) {
	dir := setupTestStore(t)

	pool := NewWorkerPool(2, dir, testConfig())
	require.NoError(t, pool.StartWorkers())

	pool.RequestStop()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop after the stop flag was raised")
	}
}

func TestWorkerPublishesMetrics(t *testing.T) {
	dir := setupTestStore(t)
	mustEnqueue(t, dir, &JobRequest{ID: "m1", Command: "exit 0", MaxRetries: 3})

	pool := NewWorkerPool(1, dir, testConfig())
	require.NoError(t, pool.StartWorkers())
	waitForJobState(t, "m1", StateCompleted, 10*time.Second)
	pool.RequestStop()
	pool.Wait()

	metrics, err := ReadMetrics(dir)
	require.NoError(t, err)
	assert.Contains(t, metrics, MetricLastHeartbeat)
	assert.Contains(t, metrics, MetricUptimeSeconds)
	assert.Contains(t, metrics, MetricLastUpdated)
	assert.EqualValues(t, 1, metrics[MetricJobsProcessed])
	assert.EqualValues(t, 0, metrics[MetricDLQJobs])
}
