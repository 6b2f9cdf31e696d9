package queue

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is an execution request waiting for, or claimed by, the executor.
type Job struct {
	ID          string
	Operation   string
	TargetKind  string
	TargetID    string
	UpdateID    string
	Payload     json.RawMessage
	Status      Status
	SubmittedBy string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}

type EnqueueRequest struct {
	Operation   string
	TargetKind  string
	TargetID    string
	UpdateID    string
	Payload     json.RawMessage
	SubmittedBy string
}

var ErrJobNotFound = errors.New("job not found")
