package repository

import (
	"context"
	"fmt"
	"time"

	"licensing-service/internal/domain"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s *domain.BenefitSchedule) error
	ListByPurchase(ctx context.Context, purchaseID string) ([]*domain.BenefitSchedule, error)
	DueDays(ctx context.Context, asOf time.Time, maxAttempts, limit int) ([]*domain.BenefitDay, error)
	MarkReleased(ctx context.Context, dayID, ledgerID string, at time.Time) error
	RecordFailure(ctx context.Context, dayID, errMsg string, maxAttempts int) error
	CountReleasedByPurchase(ctx context.Context, purchaseID string) (int, error)
	ShiftScheduledDays(ctx context.Context, purchaseID string, delta time.Duration) (int64, error)
}

type scheduleRepo struct {
	db *pgxpool.Pool
}

func NewScheduleRepo(db *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepo{db: db}
}

// CreateSchedule inserts a schedule and its pre-populated day entries in one
// transaction. Unique indexes on (purchase_id, cycle) and (schedule_id,
// day_index) make re-runs of purchase confirmation harmless.
func (r *scheduleRepo) CreateSchedule(ctx context.Context, s *domain.BenefitSchedule) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin schedule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO benefit_schedules (
			id, purchase_id, cycle, start_at, production_days,
			daily_amount, principal, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		RETURNING created_at
	`, s.ID, s.PurchaseID, s.Cycle, s.StartAt, s.ProductionDays,
		s.DailyAmount.String(), s.Principal.String(),
	).Scan(&s.CreatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, d := range s.Days {
		batch.Queue(`
			INSERT INTO benefit_days (
				id, schedule_id, purchase_id, cycle, day_index, due_at,
				amount, status, attempts
			) VALUES ($1,$2,$3,$4,$5,$6,$7,'scheduled',0)
		`, d.ID, d.ScheduleID, d.PurchaseID, d.Cycle, d.DayIndex, d.DueAt,
			d.Amount.String())
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert benefit day %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close day batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *scheduleRepo) ListByPurchase(ctx context.Context, purchaseID string) ([]*domain.BenefitSchedule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, purchase_id, cycle, start_at, production_days,
			daily_amount::text, principal::text, created_at
		FROM benefit_schedules
		WHERE purchase_id = $1
		ORDER BY cycle ASC
	`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.BenefitSchedule
	for rows.Next() {
		var s domain.BenefitSchedule
		var dailyStr, principalStr string
		if err := rows.Scan(
			&s.ID, &s.PurchaseID, &s.Cycle, &s.StartAt, &s.ProductionDays,
			&dailyStr, &principalStr, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		if s.DailyAmount, err = decimal.NewFromString(dailyStr); err != nil {
			return nil, fmt.Errorf("failed to parse daily amount: %w", err)
		}
		if s.Principal, err = decimal.NewFromString(principalStr); err != nil {
			return nil, fmt.Errorf("failed to parse principal: %w", err)
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil, xerrors.ErrNotFound
	}
	return schedules, nil
}

// DueDays selects day entries owed as of the given timestamp, bounded by the
// retry limit, skipping paused licenses. The asOf bound keeps a run's work
// set stable even if the run itself spans minutes.
func (r *scheduleRepo) DueDays(ctx context.Context, asOf time.Time, maxAttempts, limit int) ([]*domain.BenefitDay, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.id, d.schedule_id, d.purchase_id, d.cycle, d.day_index,
			d.due_at, d.amount::text, d.status, d.attempts, d.ledger_id,
			d.last_error, d.released_at
		FROM benefit_days d
		JOIN purchases p ON p.id = d.purchase_id
		WHERE d.status = 'scheduled'
		  AND d.due_at <= $1
		  AND d.attempts < $2
		  AND p.status = 'confirmed'
		ORDER BY d.due_at ASC, d.id ASC
		LIMIT $3
	`, asOf, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due benefit days: %w", err)
	}
	defer rows.Close()

	var days []*domain.BenefitDay
	for rows.Next() {
		day, err := scanBenefitDay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan benefit day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating benefit days: %w", err)
	}

	return days, nil
}

// MarkReleased transitions scheduled -> released and records the ledger
// reference. Guarded so a duplicate run cannot double-release.
func (r *scheduleRepo) MarkReleased(ctx context.Context, dayID, ledgerID string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE benefit_days
		SET status = 'released', ledger_id = $1, released_at = $2, last_error = NULL
		WHERE id = $3 AND status = 'scheduled'
	`, ledgerID, at, dayID)
	if err != nil {
		return fmt.Errorf("failed to mark benefit day released: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

// RecordFailure bumps the attempt counter and, once the bounded retries are
// exhausted, parks the day in failed for operator attention. Never drops it.
func (r *scheduleRepo) RecordFailure(ctx context.Context, dayID, errMsg string, maxAttempts int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE benefit_days
		SET attempts = attempts + 1,
			last_error = $1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE status END
		WHERE id = $3 AND status = 'scheduled'
	`, errMsg, maxAttempts, dayID)
	if err != nil {
		return fmt.Errorf("failed to record benefit day failure: %w", err)
	}
	return nil
}

func (r *scheduleRepo) CountReleasedByPurchase(ctx context.Context, purchaseID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM benefit_days
		WHERE purchase_id = $1 AND status = 'released'
	`, purchaseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count released days: %w", err)
	}
	return count, nil
}

// ShiftScheduledDays pushes the due dates of still-scheduled days forward by
// the pause duration. Released history is never rewritten.
func (r *scheduleRepo) ShiftScheduledDays(ctx context.Context, purchaseID string, delta time.Duration) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE benefit_days
		SET due_at = due_at + $1::interval
		WHERE purchase_id = $2 AND status = 'scheduled'
	`, delta.String(), purchaseID)
	if err != nil {
		return 0, fmt.Errorf("failed to shift scheduled days: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func scanBenefitDay(scanner Scanner) (*domain.BenefitDay, error) {
	d := &domain.BenefitDay{}
	var amountStr string

	err := scanner.Scan(
		&d.ID,
		&d.ScheduleID,
		&d.PurchaseID,
		&d.Cycle,
		&d.DayIndex,
		&d.DueAt,
		&amountStr,
		&d.Status,
		&d.Attempts,
		&d.LedgerID,
		&d.LastError,
		&d.ReleasedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse day amount: %w", err)
	}
	return d, nil
}
