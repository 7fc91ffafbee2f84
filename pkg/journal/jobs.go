package journal

import (
	"fmt"
	"time"
)

// JobStatus is the scheduler job state machine:
//
//	scheduled -> running -> succeeded
//	                     -> failed_retryable -> scheduled (with backoff)
//	                     -> failed_terminal
//
// Job state is persisted, not held in process memory, so dedup and idempotency
// checks survive restarts and the table is queryable for reporting.
type JobStatus string

const (
	JobScheduled       JobStatus = "scheduled"
	JobRunning         JobStatus = "running"
	JobSucceeded       JobStatus = "succeeded"
	JobFailedRetryable JobStatus = "failed_retryable"
	JobFailedTerminal  JobStatus = "failed_terminal"
)

// JobKind names the work a job instance performs.
type JobKind string

const (
	JobDailyReflection JobKind = "daily_reflection"
	JobWeeklyReport    JobKind = "weekly_report"
	JobNudgeSweep      JobKind = "nudge_sweep"
	JobRepairSweep     JobKind = "repair_sweep"
)

// JobState is one job instance, identified by (user, period key, kind).
type JobState struct {
	UserID    string    `json:"user_id"`
	PeriodKey string    `json:"period_key"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	NotBefore time.Time `json:"not_before"` // earliest next run, backoff target
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the job's dedup identity.
func (j *JobState) Key() string {
	return fmt.Sprintf("%s/%s/%s", j.UserID, j.PeriodKey, j.Kind)
}

// Runnable reports whether the job may be picked up at instant now. A running
// or succeeded job is never re-enqueued; a retryable failure waits out its
// backoff window; a terminal failure is surfaced, not retried.
func (j *JobState) Runnable(now time.Time) bool {
	switch j.Status {
	case JobScheduled, JobFailedRetryable:
		return !now.Before(j.NotBefore)
	default:
		return false
	}
}
