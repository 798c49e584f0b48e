// Package postgres provides a Postgres-backed JobStore on pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"seoscope/internal/audit"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobStore implements audit.JobStore on a Postgres jobs table (see schema.sql).
type JobStore struct {
	db    DB
	clock audit.Clock
}

// NewJobStore connects a pool for the given DSN.
func NewJobStore(ctx context.Context, dsn string, clock audit.Clock) (*JobStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &JobStore{db: pool, clock: clock}, pool, nil
}

// NewJobStoreWithDB wraps an existing connection (or mock).
func NewJobStoreWithDB(db DB, clock audit.Clock) *JobStore {
	return &JobStore{db: db, clock: clock}
}

const jobColumns = `id, domain, output_projection, run_performance_audit, state,
		created_at, started_at, completed_at, progress, report, error_message`

// CreateJob inserts a new pending job.
func (s *JobStore) CreateJob(ctx context.Context, job audit.Job) error {
	if _, err := audit.ParseProjection(string(job.OutputProjection)); err != nil {
		return err
	}
	if job.State == "" {
		job.State = audit.JobStatePending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	query := `
		INSERT INTO jobs (id, domain, output_projection, run_performance_audit, state, created_at, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := s.db.Exec(ctx, query,
		job.ID, job.Domain, string(job.OutputProjection), job.RunPerformanceAudit,
		string(job.State), job.CreatedAt, job.Progress,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return audit.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (audit.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Job{}, audit.ErrJobNotFound
		}
		return audit.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextPending flips the oldest pending job to running in one statement.
// SKIP LOCKED keeps concurrent processor instances from claiming the same job.
func (s *JobStore) ClaimNextPending(ctx context.Context) (audit.Job, bool, error) {
	query := `
		UPDATE jobs
		SET state = 'running', started_at = $1, progress = 0
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns + `;`
	job, err := scanJob(s.db.QueryRow(ctx, query, s.clock.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Job{}, false, nil
		}
		return audit.Job{}, false, fmt.Errorf("claim pending job: %w", err)
	}
	return job, true, nil
}

// Transition applies the forward-only state machine; the WHERE clause encodes
// the legal predecessor state so illegal transitions touch zero rows.
func (s *JobStore) Transition(
	ctx context.Context,
	jobID string,
	newState audit.JobState,
	report *audit.ScoreReport,
	errMsg string,
) error {
	now := s.clock.Now()
	var (
		tag pgconn.CommandTag
		err error
	)
	switch newState {
	case audit.JobStateRunning:
		query := `
			UPDATE jobs
			SET state = 'running', started_at = COALESCE(started_at, $1)
			WHERE id = $2 AND state = 'pending';`
		tag, err = s.db.Exec(ctx, query, now, jobID)
	case audit.JobStateCompleted:
		var reportJSON []byte
		if report != nil {
			reportJSON, err = json.Marshal(report)
			if err != nil {
				return fmt.Errorf("marshal report: %w", err)
			}
		}
		query := `
			UPDATE jobs
			SET state = 'completed', completed_at = COALESCE(completed_at, $1),
				progress = 100, report = $2, error_message = ''
			WHERE id = $3 AND state = 'running';`
		tag, err = s.db.Exec(ctx, query, now, reportJSON, jobID)
	case audit.JobStateFailed:
		query := `
			UPDATE jobs
			SET state = 'failed', completed_at = COALESCE(completed_at, $1),
				report = NULL, error_message = $2
			WHERE id = $3 AND state = 'running';`
		tag, err = s.db.Exec(ctx, query, now, errMsg, jobID)
	default:
		return fmt.Errorf("%w: -> %s", audit.ErrIllegalTransition, newState)
	}
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); errors.Is(getErr, audit.ErrJobNotFound) {
			return audit.ErrJobNotFound
		}
		return fmt.Errorf("%w: -> %s", audit.ErrIllegalTransition, newState)
	}
	return nil
}

// SetProgress updates progress only while the job is running; anything else is
// a silent no-op.
func (s *JobStore) SetProgress(ctx context.Context, jobID string, percent int) error {
	query := `UPDATE jobs SET progress = $1 WHERE id = $2 AND state = 'running';`
	if _, err := s.db.Exec(ctx, query, percent, jobID); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// PruneCompletedBefore deletes completed jobs finished before cutoff; failed
// jobs only when includeFailed is set.
func (s *JobStore) PruneCompletedBefore(ctx context.Context, cutoff time.Time, includeFailed bool) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE completed_at < $1
		  AND (state = 'completed' OR ($2 AND state = 'failed'));`
	tag, err := s.db.Exec(ctx, query, cutoff, includeFailed)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (audit.Job, error) {
	var (
		job        audit.Job
		projection string
		state      string
		reportJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.Domain, &projection, &job.RunPerformanceAudit, &state,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Progress,
		&reportJSON, &job.ErrorMessage,
	)
	if err != nil {
		return audit.Job{}, err
	}
	job.OutputProjection = audit.Projection(projection)
	job.State = audit.JobState(state)
	if len(reportJSON) > 0 {
		report := &audit.ScoreReport{}
		if err := json.Unmarshal(reportJSON, report); err != nil {
			return audit.Job{}, fmt.Errorf("unmarshal report: %w", err)
		}
		job.Report = report
	}
	return job, nil
}
