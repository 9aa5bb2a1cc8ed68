package models

import (
	"time"
)

// JobStatus represents the lifecycle state of an import job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransition reports whether the job state machine allows from → to.
// Only the worker owning a job moves it out of running; pollers never mutate.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed || to == JobStatusCancelled
	default:
		return false
	}
}

// TriggerSource identifies what submitted a job
type TriggerSource string

const (
	TriggerSourceAPI    TriggerSource = "api"
	TriggerSourceKafka  TriggerSource = "kafka"
	TriggerSourceRetry  TriggerSource = "retry"
	TriggerSourceResume TriggerSource = "resume"
)

// EntryOutcome is the recorded result of one archive entry
type EntryOutcome string

const (
	EntryOutcomeProcessed EntryOutcome = "processed"
	EntryOutcomeFailed    EntryOutcome = "failed"
	EntryOutcomeSkipped   EntryOutcome = "skipped"
)

// ArchiveEntryResult records the outcome of one processed archive entry
type ArchiveEntryResult struct {
	Name           string       `json:"name"`
	Outcome        EntryOutcome `json:"outcome"`
	Error          string       `json:"error,omitempty"`
	ImportRecordID *string      `json:"import_record_id,omitempty"`
	CompletedAt    time.Time    `json:"completed_at"`
}

// ArchiveState tracks archive progress inside a job. Entries move from
// Remaining to Completed one at a time so a resumed job can see exactly
// what is left.
type ArchiveState struct {
	CurrentEntry *string              `json:"current_entry,omitempty"`
	Completed    []ArchiveEntryResult `json:"completed"`
	Remaining    []string             `json:"remaining"`
}

// OutcomeFor returns the recorded outcome for a completed entry, if any
func (s *ArchiveState) OutcomeFor(name string) (ArchiveEntryResult, bool) {
	for _, entry := range s.Completed {
		if entry.Name == name {
			return entry, true
		}
	}
	return ArchiveEntryResult{}, false
}

// ImportJob is the durable, pollable record of an asynchronous import run.
// It is the only entity written by a worker while read by pollers; every
// write replaces the full row in one statement and bumps Version so readers
// never observe partial updates.
type ImportJob struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenant_id"`
	FileID          string              `json:"file_id"`
	TargetTable     string              `json:"target_table"`
	ImportRecordID  *string             `json:"import_record_id,omitempty"`
	Request         *StartImportRequest `json:"request,omitempty"`
	Status          JobStatus           `json:"status"`
	Stage           string              `json:"stage"`
	Progress        float64             `json:"progress"` // percent, 0-100
	TotalChunks     int                 `json:"total_chunks"`
	ChunksCompleted int                 `json:"chunks_completed"`
	Attempt         int                 `json:"attempt"`
	RetryOfJobID    *string             `json:"retry_of_job_id,omitempty"`
	TriggerSource   TriggerSource       `json:"trigger_source"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	ArchiveState    *ArchiveState       `json:"archive_state,omitempty"` // nil for single-file jobs
	Version         int                 `json:"version"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// IsArchive reports whether the job processes a multi-entry bundle
func (j *ImportJob) IsArchive() bool {
	return j.ArchiveState != nil
}

// ResumeJobRequest is the request body for resuming a finished archive job.
// When FailedEntriesOnly is set, only entries whose prior outcome was failed
// are reprocessed; otherwise every supported entry runs again.
type ResumeJobRequest struct {
	FailedEntriesOnly bool `json:"failed_entries_only"`
}

// ImportJobListResponse is the response for listing import jobs
type ImportJobListResponse struct {
	Items      []ImportJob `json:"items"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
}
