package models

import "time"

// JobStatus is the lifecycle state of an ingestion job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic: queued -> running -> {completed, failed}. A queued job may also
// fail directly when it never got to run.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// IngestionJob tracks one asynchronous crawl invocation
type IngestionJob struct {
	ID            string       `json:"job_id"`
	Source        Source       `json:"source"`
	Status        JobStatus    `json:"status"`
	Progress      *JobProgress `json:"progress"`
	MentionsCount int          `json:"mentions_count"`
	Message       string       `json:"message"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at"`
}

// JobProgress is the crawl progress snapshot published after every partition
type JobProgress struct {
	PartitionsTotal  int      `json:"partitions_total"`
	PartitionsDone   int      `json:"partitions_done"`
	CurrentPartition string   `json:"current_partition,omitempty"`
	FailedPartitions []string `json:"failed_partitions,omitempty"`
	Inserted         int      `json:"inserted"`
	Duplicates       int      `json:"duplicates"`
	Skipped          int      `json:"skipped"`
}

// Clone returns a deep copy safe to hand out of a registry
func (j IngestionJob) Clone() IngestionJob {
	if j.Progress != nil {
		progress := *j.Progress
		progress.FailedPartitions = append([]string(nil), j.Progress.FailedPartitions...)
		j.Progress = &progress
	}
	if j.CompletedAt != nil {
		completedAt := *j.CompletedAt
		j.CompletedAt = &completedAt
	}
	return j
}
