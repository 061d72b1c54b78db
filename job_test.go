package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobJSON(t *testing.T) {
	setupTestStore(t)

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid command job", `{"id":"j1","command":"echo hi"}`, nil},
		{"valid file job", `{"id":"j2","file_path":"/tmp/task.py"}`, nil},
		{"invalid json", `{"id":`, ErrInvalidJSON},
		{"missing id", `{"command":"echo hi"}`, ErrMissingID},
		{"missing command and file", `{"id":"j3"}`, ErrMissingCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseJobJSON(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, req.ID)
		})
	}
}

func TestParseJobJSONDefaultsMaxRetries(t *testing.T) {
	setupTestStore(t)
	require.NoError(t, SetConfig(ConfigMaxRetries, "6"))

	req, err := ParseJobJSON(`{"id":"j4","command":"true"}`)
	require.NoError(t, err)
	assert.Equal(t, 6, req.MaxRetries)

	req, err = ParseJobJSON(`{"id":"j5","command":"true","max_retries":2}`)
	require.NoError(t, err)
	assert.Equal(t, 2, req.MaxRetries, "explicit max_retries wins over the default")
}

func TestJobStateValid(t *testing.T) {
	for _, state := range AllStates {
		assert.True(t, state.Valid())
	}
	assert.False(t, JobState("zombie").Valid())
	assert.False(t, JobState("").Valid())
}
