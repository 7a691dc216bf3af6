package repository

import (
	"context"
	"errors"
	"time"

	"speech-to-text/backend/internal/job/domain"
)

var (
	// ErrSlotOccupied is returned by CreateIfSlotFree when the user already has an active job.
	ErrSlotOccupied = errors.New("job: user already has an active job")
	// ErrStaleTransition is returned when the job is missing or no longer in the expected status.
	ErrStaleTransition = errors.New("job: stale status transition")
)

// Repository persists jobs. Implementations guarantee at most one active job per user
// and apply transitions only from the expected status.
type Repository interface {
	// CreateIfSlotFree inserts j atomically unless the user has a queued or in-progress job.
	CreateIfSlotFree(ctx context.Context, j *domain.Job) error
	// GetByID returns the job, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	// Current returns the user's most recently created job, or nil if none.
	Current(ctx context.Context, userID string) (*domain.Job, error)
	// Transition moves job id from t.From to t.To. Returns ErrStaleTransition when not applicable.
	Transition(ctx context.Context, id string, t domain.Transition) error
	// ListByUser returns the user's jobs newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Job, error)
	// CountByUser returns the number of jobs the user has submitted.
	CountByUser(ctx context.Context, userID string) (int, error)
	// FailStale moves every queued or in-progress job created before cutoff to failed with
	// reason, stamped at. Returns the number of jobs moved.
	FailStale(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int, error)
}

// apply mutates j for a validated transition. Shared by repositories that hold jobs in memory.
func apply(j *domain.Job, t domain.Transition) {
	j.Status = t.To
	j.UpdatedAt = t.At
	switch t.To {
	case domain.StatusInProgress:
		at := t.At
		j.StartedAt = &at
	case domain.StatusCompleted:
		at := t.At
		j.FinishedAt = &at
		j.Result = t.Result
	case domain.StatusFailed:
		at := t.At
		j.FinishedAt = &at
		j.Error = t.Error
	}
}
