package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"speech-to-text/backend/internal/job/domain"
)

const uniqueViolation = "23505"

// activeJobIndex is the partial unique index on jobs(user_id) for queued and in_progress rows.
const activeJobIndex = "jobs_one_active_per_user"

const jobColumns = `id, user_id, session_id, audio_url, status, result, error,
	created_at, updated_at, started_at, finished_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a job repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateIfSlotFree inserts the job. The partial unique index turns a concurrent second submit into ErrSlotOccupied.
func (r *PostgresRepository) CreateIfSlotFree(ctx context.Context, j *domain.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, session_id, audio_url, status, result, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		j.ID, j.UserID, j.SessionID, j.AudioURL, string(j.Status), j.Result, j.Error, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeJobIndex {
			return ErrSlotOccupied
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *PostgresRepository) Current(ctx context.Context, userID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`, userID)
	return scanJob(row)
}

// Transition applies the change only while the row is still in t.From.
func (r *PostgresRepository) Transition(ctx context.Context, id string, t domain.Transition) error {
	if !t.From.CanTransition(t.To) {
		return ErrStaleTransition
	}
	var (
		res sql.Result
		err error
	)
	switch t.To {
	case domain.StatusInProgress:
		res, err = r.db.ExecContext(ctx,
			`UPDATE jobs SET status = $3, updated_at = $4, started_at = $4 WHERE id = $1 AND status = $2`,
			id, string(t.From), string(t.To), t.At)
	default:
		res, err = r.db.ExecContext(ctx,
			`UPDATE jobs SET status = $3, updated_at = $4, finished_at = $4, result = $5, error = $6
			 WHERE id = $1 AND status = $2`,
			id, string(t.From), string(t.To), t.At, t.Result, t.Error)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	var (
		j                   domain.Job
		status              string
		startedAt, finished sql.NullTime
	)
	err := s.Scan(&j.ID, &j.UserID, &j.SessionID, &j.AudioURL, &status, &j.Result, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	j.Status = domain.Status(status)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

// FailStale fails orphaned jobs in one statement; rows a runner finalizes concurrently are left alone.
func (r *PostgresRepository) FailStale(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, error = $2, updated_at = $3, finished_at = $3
		 WHERE status IN ($4, $5) AND created_at < $6`,
		string(domain.StatusFailed), reason, at,
		string(domain.StatusQueued), string(domain.StatusInProgress), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
