package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateDead       JobState = "dead"
)

// AllStates lists every job state in lifecycle order. Summary output and
// state validation iterate over this.
var AllStates = []JobState{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

func (s JobState) Valid() bool {
	for _, st := range AllStates {
		if s == st {
			return true
		}
	}
	return false
}

type Job struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	State      JobState  `json:"state"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobRequest is an enqueue payload. Exactly one of Command or FilePath must
// be set; file submissions get their command synthesized from the extension.
type JobRequest struct {
	ID         string `json:"id"`
	Command    string `json:"command,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

var (
	ErrInvalidJSON    = errors.New("invalid JSON")
	ErrMissingID      = errors.New("missing job ID")
	ErrMissingCommand = errors.New("missing job command")
)

// ParseJobJSON validates an inline job description. Missing max_retries
// falls back to the configured default.
func ParseJobJSON(jsonStr string) (*JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal([]byte(jsonStr), &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if req.ID == "" {
		return nil, ErrMissingID
	}
	if req.Command == "" && req.FilePath == "" {
		return nil, ErrMissingCommand
	}

	if req.MaxRetries <= 0 {
		req.MaxRetries = GetConfigInt(ConfigMaxRetries, DefaultMaxRetries)
	}
	return &req, nil
}
