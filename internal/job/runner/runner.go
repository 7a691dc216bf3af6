// Package runner executes transcription jobs and moves them through their lifecycle.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"speech-to-text/backend/internal/job/domain"
	"speech-to-text/backend/internal/job/repository"
	"speech-to-text/backend/internal/job/source"
	"speech-to-text/backend/internal/job/transcriber"
	"speech-to-text/backend/internal/metrics"
	"speech-to-text/backend/internal/telemetry"
	telemetrydomain "speech-to-text/backend/internal/telemetry/domain"
)

const (
	defaultTimeout  = 5 * time.Minute
	finalizeTimeout = 5 * time.Second
	// finalizeAttempts bounds retries of a terminal write.
	finalizeAttempts = 4
	eventSource     = "runner"

	reasonInternal = "internal error"
	reasonTimeout  = "transcription timed out"
	reasonShutdown = "interrupted by shutdown"
)

// Options configures a Runner. Zero values disable the optional collaborators.
type Options struct {
	Resolver source.Resolver
	// RatePerSecond throttles calls to the transcriber across all workers. 0 disables throttling.
	RatePerSecond float64
	Timeout       time.Duration
	Emitter       telemetry.EventEmitter
	Metrics       *metrics.Metrics
	Tracer        trace.Tracer
}

// Runner executes tickets against the job store.
type Runner struct {
	jobs        repository.Repository
	transcriber transcriber.Transcriber
	resolver    source.Resolver
	limiter     *rate.Limiter
	timeout     time.Duration
	emitter     telemetry.EventEmitter
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	nowF        func() time.Time
	retryDelay  time.Duration
}

// New returns a Runner.
func New(jobs repository.Repository, t transcriber.Transcriber, opts Options) *Runner {
	r := &Runner{
		jobs:        jobs,
		transcriber: t,
		resolver:    opts.Resolver,
		timeout:     opts.Timeout,
		emitter:     opts.Emitter,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		nowF:        func() time.Time { return time.Now().UTC() },
		retryDelay:  100 * time.Millisecond,
	}
	if r.resolver == nil {
		r.resolver = source.Passthrough{}
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return r
}

// Execute runs one ticket. A ticket whose job is no longer queued is skipped, so redelivery is harmless.
// Transcription errors end in the failed state and are not returned; only store errors are.
func (r *Runner) Execute(ctx context.Context, t domain.Ticket) (err error) {
	startedAt := r.nowF()
	err = r.jobs.Transition(ctx, t.JobID, domain.Transition{From: domain.StatusQueued, To: domain.StatusInProgress, At: startedAt})
	if errors.Is(err, repository.ErrStaleTransition) {
		log.Debug("runner: skipping ticket", "job_id", t.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", t.JobID, err)
	}
	r.emit(t, telemetrydomain.EventJobStarted, nil)

	ctx, span := r.tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("job.id", t.JobID),
		attribute.String("user.id", t.UserID),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			log.Error("runner: panic during job", "job_id", t.JobID, "panic", p)
			span.SetStatus(codes.Error, "panic")
			err = r.fail(ctx, t, startedAt, reasonInternal)
		}
	}()

	text, runErr := r.transcribe(ctx, t)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Warn("runner: job failed", "job_id", t.JobID, "err", runErr)
		return r.fail(ctx, t, startedAt, failureReason(ctx, runErr))
	}

	err = r.finish(ctx, t.JobID, domain.Transition{
		From: domain.StatusInProgress, To: domain.StatusCompleted, Result: text,
	})
	if errors.Is(err, repository.ErrStaleTransition) {
		log.Warn("runner: job finalized elsewhere", "job_id", t.JobID)
		return nil
	}
	if err != nil {
		log.Error("runner: could not store transcript, failing job", "job_id", t.JobID, "err", err)
		if failErr := r.fail(ctx, t, startedAt, reasonInternal); failErr != nil {
			return fmt.Errorf("complete job %s: %w", t.JobID, errors.Join(err, failErr))
		}
		return nil
	}
	elapsed := r.nowF().Sub(startedAt)
	r.metrics.JobObserved(string(domain.StatusCompleted), elapsed)
	r.emit(t, telemetrydomain.EventJobCompleted, map[string]any{"duration_ms": elapsed.Milliseconds()})
	return nil
}

func (r *Runner) transcribe(ctx context.Context, t domain.Ticket) (string, error) {
	audioURL, err := r.resolver.Resolve(ctx, t.AudioURL)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return r.transcriber.Transcribe(ctx, audioURL)
}

// fail moves the job from in_progress to failed.
func (r *Runner) fail(ctx context.Context, t domain.Ticket, startedAt time.Time, reason string) error {
	err := r.finish(ctx, t.JobID, domain.Transition{
		From: domain.StatusInProgress, To: domain.StatusFailed, Error: reason,
	})
	if errors.Is(err, repository.ErrStaleTransition) {
		log.Warn("runner: job finalized elsewhere", "job_id", t.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail job %s: %w", t.JobID, err)
	}
	r.metrics.JobObserved(string(domain.StatusFailed), r.nowF().Sub(startedAt))
	r.emit(t, telemetrydomain.EventJobFailed, map[string]any{"reason": reason})
	return nil
}

// finish writes a terminal transition on a context detached from ctx, so shutdown cancellation
// cannot leave the job in progress. Store errors are retried with backoff until finalizeTimeout;
// a stale transition is returned at once.
func (r *Runner) finish(ctx context.Context, jobID string, tr domain.Transition) error {
	finishCtx, cancel := finalizeContext(ctx)
	defer cancel()
	delay := r.retryDelay
	for attempt := 1; ; attempt++ {
		tr.At = r.nowF()
		err := r.jobs.Transition(finishCtx, jobID, tr)
		if err == nil || errors.Is(err, repository.ErrStaleTransition) || attempt >= finalizeAttempts {
			return err
		}
		log.Warn("runner: terminal write failed, retrying", "job_id", jobID, "to", tr.To, "attempt", attempt, "err", err)
		select {
		case <-finishCtx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (r *Runner) emit(t domain.Ticket, eventType string, metadata any) {
	if r.emitter == nil {
		return
	}
	ev := telemetrydomain.NewEvent(eventType, eventSource, metadata)
	ev.UserID = t.UserID
	ev.JobID = t.JobID
	telemetry.EmitAsync(r.emitter, ev)
}

func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return reasonShutdown
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, source.ErrS3Disabled), errors.Is(err, transcriber.ErrNotConfigured):
		return err.Error()
	}
	return "transcription failed: " + err.Error()
}
