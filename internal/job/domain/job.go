package domain

import "time"

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Public status strings returned by the HTTP API.
const (
	PublicInProgress = "in progress"
	PublicCompleted  = "completed"
	PublicFailed     = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the job still occupies the user's slot.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusInProgress
}

// CanTransition reports whether s may move to next. Status only moves forward:
// queued -> in_progress -> completed|failed. queued -> failed covers dispatch failures.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusInProgress || next == StatusFailed
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Public maps the status to the API representation. Queued and in progress are indistinguishable to clients.
func (s Status) Public() string {
	switch s {
	case StatusCompleted:
		return PublicCompleted
	case StatusFailed:
		return PublicFailed
	}
	return PublicInProgress
}

// Job is one transcription request. Result is set only when completed, Error only when failed.
type Job struct {
	ID         string
	UserID     string
	SessionID  string
	AudioURL   string
	Status     Status
	Result     string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Clone returns a deep copy so callers can hand out snapshots.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Transition describes a conditional status change applied by a repository.
// Result and Error are written only for the matching terminal status.
type Transition struct {
	From   Status
	To     Status
	Result string
	Error  string
	At     time.Time
}

// Ticket is the unit of work handed to a runner. It carries only identifiers; the runner
// reloads the job so a stale ticket cannot resurrect a finished job.
type Ticket struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	AudioURL string `json:"audio_url"`
}
