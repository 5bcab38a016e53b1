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

type PurchaseRepository interface {
	Create(ctx context.Context, p *domain.Purchase) error
	GetByID(ctx context.Context, id string) (*domain.Purchase, error)
	Confirm(ctx context.Context, id string, txHash *string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	SetPaused(ctx context.Context, id string, at time.Time) error
	SetResumed(ctx context.Context, id string) (time.Time, error)
	SetCancelled(ctx context.Context, id string, from domain.PurchaseStatus, at time.Time) error
	CountConfirmedByUser(ctx context.Context, userID string) (int, error)
}

type purchaseRepo struct {
	db *pgxpool.Pool
}

func NewPurchaseRepo(db *pgxpool.Pool) PurchaseRepository {
	return &purchaseRepo{db: db}
}

const purchaseColumns = `
	id, user_id, package_code, principal::text, currency, status, tx_hash,
	confirmed_at, paused_at, completed_at, created_at, updated_at
`

func (r *purchaseRepo) Create(ctx context.Context, p *domain.Purchase) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO purchases (
			id, user_id, package_code, principal, currency, status,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',NOW(),NOW())
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.PackageCode, p.Principal.String(), p.Currency).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	p.Status = domain.PurchasePending
	return nil
}

func (r *purchaseRepo) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE id = $1
	`, id)

	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return p, nil
}

// Confirm transitions pending -> confirmed with a CAS so concurrent
// confirmation requests produce exactly one winner.
func (r *purchaseRepo) Confirm(ctx context.Context, id string, txHash *string, at time.Time) (bool, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE purchases
		SET status = 'confirmed', tx_hash = COALESCE($1, tx_hash),
			confirmed_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'pending'
	`, txHash, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to confirm purchase: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (r *purchaseRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE purchases
		SET status = 'completed', completed_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'confirmed'
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to complete purchase: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

func (r *purchaseRepo) SetPaused(ctx context.Context, id string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE purchases
		SET status = 'paused', paused_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'confirmed'
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to pause purchase: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

// SetResumed transitions paused -> confirmed and returns when the pause
// began so the caller can shift outstanding due dates.
func (r *purchaseRepo) SetResumed(ctx context.Context, id string) (time.Time, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin resume tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var pausedAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT paused_at
		FROM purchases
		WHERE id = $1 AND status = 'paused'
		FOR UPDATE
	`, id).Scan(&pausedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, xerrors.ErrInvalidTransition
		}
		return time.Time{}, fmt.Errorf("failed to read pause state: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE purchases
		SET status = 'confirmed', paused_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id); err != nil {
		return time.Time{}, fmt.Errorf("failed to resume purchase: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit resume: %w", err)
	}
	return pausedAt, nil
}

// SetCancelled transitions a purchase to cancelled with a CAS on the expected
// prior status, so a cancel can never race past a confirmation or completion.
func (r *purchaseRepo) SetCancelled(ctx context.Context, id string, from domain.PurchaseStatus, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE purchases
		SET status = 'cancelled', updated_at = $1
		WHERE id = $2 AND status = $3
	`, at, id, from)
	if err != nil {
		return fmt.Errorf("failed to cancel purchase: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

// CountConfirmedByUser counts a user's purchases that have left pending.
// Advisory input to the parent-bonus gate; the partial unique index on
// commission_records is what actually decides races.
func (r *purchaseRepo) CountConfirmedByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM purchases
		WHERE user_id = $1 AND status IN ('confirmed', 'paused', 'completed')
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed purchases: %w", err)
	}
	return count, nil
}

func scanPurchase(scanner Scanner) (*domain.Purchase, error) {
	p := &domain.Purchase{}
	var principalStr string

	err := scanner.Scan(
		&p.ID,
		&p.UserID,
		&p.PackageCode,
		&principalStr,
		&p.Currency,
		&p.Status,
		&p.TxHash,
		&p.ConfirmedAt,
		&p.PausedAt,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Principal, err = decimal.NewFromString(principalStr); err != nil {
		return nil, fmt.Errorf("failed to parse principal: %w", err)
	}
	return p, nil
}
