package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licensing-service/internal/domain"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type JobRunRepository interface {
	Upsert(ctx context.Context, run *domain.JobRun) error
	Get(ctx context.Context, name string) (*domain.JobRun, error)
	List(ctx context.Context) ([]*domain.JobRun, error)
}

type jobRunRepo struct {
	db *pgxpool.Pool
}

func NewJobRunRepo(db *pgxpool.Pool) JobRunRepository {
	return &jobRunRepo{db: db}
}

// Upsert records the latest run of a named job, keeping exactly one row per
// job name.
func (r *jobRunRepo) Upsert(ctx context.Context, run *domain.JobRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_runs (
			name, last_run_at, processed, errors, total_amount, duration_ms, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			processed = EXCLUDED.processed,
			errors = EXCLUDED.errors,
			total_amount = EXCLUDED.total_amount,
			duration_ms = EXCLUDED.duration_ms,
			status = EXCLUDED.status
	`, run.Name, run.LastRunAt, run.Processed, run.Errors,
		run.TotalAmount.String(), run.Duration.Milliseconds(), run.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert job run: %w", err)
	}
	return nil
}

func (r *jobRunRepo) Get(ctx context.Context, name string) (*domain.JobRun, error) {
	row := r.db.QueryRow(ctx, `
		SELECT name, last_run_at, processed, errors, total_amount::text, duration_ms, status
		FROM job_runs
		WHERE name = $1
	`, name)

	run, err := scanJobRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

func (r *jobRunRepo) List(ctx context.Context) ([]*domain.JobRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, last_run_at, processed, errors, total_amount::text, duration_ms, status
		FROM job_runs
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job runs: %w", err)
	}

	return runs, nil
}

func scanJobRun(scanner Scanner) (*domain.JobRun, error) {
	run := &domain.JobRun{}
	var amountStr string
	var durationMs int64

	err := scanner.Scan(
		&run.Name,
		&run.LastRunAt,
		&run.Processed,
		&run.Errors,
		&amountStr,
		&durationMs,
		&run.Status,
	)
	if err != nil {
		return nil, err
	}

	if run.TotalAmount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse job run amount: %w", err)
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return run, nil
}
