package main

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// jobTimeout bounds the wall-clock duration of a single job command.
const jobTimeout = 300 * time.Second

// ExecuteJob runs one claimed job's command under the timeout, classifies
// the outcome and immediately records it through TransitionJob. Output is
// captured for logging only. Returns the job's state after the transition
// and its attempt count.
func ExecuteJob(log *logrus.Entry, job *Job) (JobState, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", job.Command)
	output, err := cmd.CombinedOutput()

	if err == nil {
		log.Infof("job %s completed successfully", job.ID)
		log.Debugf("job %s output: %s", job.ID, output)
		return TransitionJob(job.ID, StateCompleted)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Errorf("job %s timed out after %s", job.ID, jobTimeout)
	case errors.As(err, &exitErr):
		log.Warnf("job %s failed with exit code %d", job.ID, exitErr.ExitCode())
		log.Debugf("job %s output: %s", job.ID, output)
	default:
		log.Errorf("job %s failed to launch: %v", job.ID, err)
	}

	return TransitionJob(job.ID, StateFailed)
}
