package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"speech-to-text/backend/internal/job/domain"
	"speech-to-text/backend/internal/job/repository"
	"speech-to-text/backend/internal/metrics"
	"speech-to-text/backend/internal/policy/engine"
	"speech-to-text/backend/internal/telemetry"
	telemetrydomain "speech-to-text/backend/internal/telemetry/domain"
)

// Sentinel errors for the job service; the handler maps them to HTTP status codes.
var (
	ErrInvalidAudio    = errors.New("invalid audio url")
	ErrAudioNotAllowed = errors.New("audio url not allowed")
	ErrJobConflict     = errors.New("a job is already in progress")
	ErrDispatch        = errors.New("job could not be dispatched")
	ErrNoJob           = errors.New("no job")
)

const (
	ActionJobSubmit = "job_submit"

	DefaultPageSize = 10
	MaxPageSize     = 100
	MaxAudioURL     = 2048

	eventSource = "api"
)

// Dispatcher hands a queued job to the runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, t domain.Ticket) error
}

// AuditLogger records job events. Best-effort.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Page is one page of a user's job history, newest first.
type Page struct {
	Jobs       []*domain.Job
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// Options carries the optional collaborators.
type Options struct {
	Policy  engine.Evaluator
	Audit   AuditLogger
	Emitter telemetry.EventEmitter
	Metrics *metrics.Metrics
}

// JobService owns the per-user job slot: submit, status, result and history.
type JobService struct {
	jobs       repository.Repository
	dispatcher Dispatcher
	policy     engine.Evaluator
	audit      AuditLogger
	emitter    telemetry.EventEmitter
	metrics    *metrics.Metrics
	nowF       func() time.Time
}

// NewJobService returns a JobService.
func NewJobService(jobs repository.Repository, dispatcher Dispatcher, opts Options) *JobService {
	return &JobService{
		jobs:       jobs,
		dispatcher: dispatcher,
		policy:     opts.Policy,
		audit:      opts.Audit,
		emitter:    opts.Emitter,
		metrics:    opts.Metrics,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates audio, claims the user's slot with a queued job and dispatches it.
// The job is persisted before dispatch, so a following Status never reports no job.
func (s *JobService) Submit(ctx context.Context, userID, sessionID, audio string) (*domain.Job, error) {
	audio = strings.TrimSpace(audio)
	u, err := validateAudioURL(audio)
	if err != nil {
		return nil, err
	}
	if s.policy != nil {
		decision, err := s.policy.EvaluateSubmission(ctx, engine.AudioRequest{
			UserID: userID, URL: audio, Scheme: u.Scheme, Host: u.Hostname(),
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate submission policy: %w", err)
		}
		if !decision.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrAudioNotAllowed, strings.Join(decision.Reasons, "; "))
		}
	}

	now := s.nowF()
	job := &domain.Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		AudioURL:  audio,
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateIfSlotFree(ctx, job); err != nil {
		if errors.Is(err, repository.ErrSlotOccupied) {
			return nil, ErrJobConflict
		}
		return nil, err
	}

	ticket := domain.Ticket{JobID: job.ID, UserID: userID, AudioURL: audio}
	if err := s.dispatcher.Dispatch(ctx, ticket); err != nil {
		s.failDispatch(ctx, job, err)
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	s.metrics.JobObserved(string(domain.StatusQueued), 0)
	s.emit(job, telemetrydomain.EventJobQueued, nil)
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, ActionJobSubmit, "job:"+job.ID, "")
	}
	return job.Clone(), nil
}

// failDispatch releases the slot by failing the job. A worker may already have started it
// if the broker accepted the message despite the error; then the stale transition is ignored.
func (s *JobService) failDispatch(ctx context.Context, job *domain.Job, cause error) {
	reason := "dispatch failed: " + cause.Error()
	err := s.jobs.Transition(context.WithoutCancel(ctx), job.ID, domain.Transition{
		From: domain.StatusQueued, To: domain.StatusFailed, Error: reason, At: s.nowF(),
	})
	if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		log.Error("job: failed to record dispatch failure", "job_id", job.ID, "err", err)
	}
	log.Warn("job: dispatch failed", "job_id", job.ID, "err", cause)
	s.metrics.JobObserved("dispatch_failed", 0)
	s.emit(job, telemetrydomain.EventJobDispatchFailed, map[string]string{"reason": reason})
}

// Status returns a snapshot of the user's current job, or ErrNoJob.
func (s *JobService) Status(ctx context.Context, userID string) (*domain.Job, error) {
	return s.current(ctx, userID)
}

// Result returns the same snapshot as Status; the payload is meaningful only once terminal.
func (s *JobService) Result(ctx context.Context, userID string) (*domain.Job, error) {
	return s.current(ctx, userID)
}

func (s *JobService) current(ctx context.Context, userID string) (*domain.Job, error) {
	j, err := s.jobs.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNoJob
	}
	return j, nil
}

// List returns the user's jobs, newest first. A page below 1 becomes 1 and a pageSize outside
// 1..MaxPageSize becomes DefaultPageSize.
func (s *JobService) List(ctx context.Context, userID string, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	total, err := s.jobs.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &Page{
		Jobs:       jobs,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *JobService) emit(job *domain.Job, eventType string, metadata any) {
	if s.emitter == nil {
		return
	}
	ev := telemetrydomain.NewEvent(eventType, eventSource, metadata)
	ev.UserID = job.UserID
	ev.SessionID = job.SessionID
	ev.JobID = job.ID
	telemetry.EmitAsync(s.emitter, ev)
}

func validateAudioURL(audio string) (*url.URL, error) {
	if audio == "" {
		return nil, fmt.Errorf("%w: audio is required", ErrInvalidAudio)
	}
	if len(audio) > MaxAudioURL {
		return nil, fmt.Errorf("%w: audio url must be at most %d characters", ErrInvalidAudio, MaxAudioURL)
	}
	u, err := url.Parse(audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "s3":
	default:
		return nil, fmt.Errorf("%w: scheme must be http, https or s3", ErrInvalidAudio)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url must include a host", ErrInvalidAudio)
	}
	return u, nil
}
