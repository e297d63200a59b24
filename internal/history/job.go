package history

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a [Job].
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Job is one image processed for an authenticated user.
type Job struct {
	ID          string
	SessionID   string
	Username    string
	Peer        string
	FileName    string
	InputBytes  int
	OutputBytes int
	InputFormat string
	Width       int
	Height      int
	Status      Status
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewJob starts a job in the [StatusReceived] state.
func NewJob(sessionID, username, peer, fileName string, inputBytes int) *Job {
	return &Job{
		SessionID:  sessionID,
		Username:   username,
		Peer:       peer,
		FileName:   fileName,
		InputBytes: inputBytes,
		Status:     StatusReceived,
		CreatedAt:  time.Now().UTC(),
	}
}

// Complete marks the job processed with the given output.
func (j *Job) Complete(format string, width, height, outputBytes int) {
	now := time.Now().UTC()
	j.InputFormat = format
	j.Width = width
	j.Height = height
	j.OutputBytes = outputBytes
	j.Status = StatusProcessed
	j.CompletedAt = &now
}

// Fail marks the job failed with err.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.CompletedAt = &now
}

// Duration is the time between creation and completion, zero while the job is open.
func (j *Job) Duration() time.Duration {
	if j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(j.CreatedAt)
}

// Validate checks required fields.
func (j *Job) Validate() error {
	switch {
	case j.SessionID == "":
		return fmt.Errorf("session id is required")
	case j.Username == "":
		return fmt.Errorf("username is required")
	}
	switch j.Status {
	case StatusReceived, StatusProcessed, StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", j.Status)
	}
	return nil
}
