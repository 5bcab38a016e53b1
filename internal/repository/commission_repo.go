package repository

import (
	"context"
	"fmt"
	"time"

	"licensing-service/internal/domain"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CommissionRepository interface {
	Create(ctx context.Context, rec *domain.CommissionRecord) error
	DuePending(ctx context.Context, asOf time.Time, limit int) ([]*domain.CommissionRecord, error)
	MarkAvailable(ctx context.Context, id, ledgerID string, at time.Time) error
	CancelByPurchase(ctx context.Context, purchaseID string) (int64, error)
	CountPending(ctx context.Context, asOf time.Time) (int, error)
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.CommissionRecord, error)
}

type commissionRepo struct {
	db *pgxpool.Pool
}

func NewCommissionRepo(db *pgxpool.Pool) CommissionRepository {
	return &commissionRepo{db: db}
}

const commissionColumns = `
	id, recipient_id, source_user_id, via_user_id, purchase_id, tier,
	rate::text, base_amount::text, amount::text, status, unlock_at,
	unlocked_at, ledger_id, created_at
`

// Create inserts a pending commission record. The raw error is returned so
// callers can treat a 23505 on (purchase, recipient, tier) — or on the
// one-parent-bonus-per-referrer partial index — as a confirmed no-op.
func (r *commissionRepo) Create(ctx context.Context, rec *domain.CommissionRecord) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO commission_records (
			id, recipient_id, source_user_id, via_user_id, purchase_id, tier,
			rate, base_amount, amount, status, unlock_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending',$10,NOW())
		RETURNING created_at
	`, rec.ID, rec.RecipientID, rec.SourceUserID, rec.ViaUserID,
		rec.PurchaseID, rec.Tier, rec.Rate.String(), rec.BaseAmount.String(),
		rec.Amount.String(), rec.UnlockAt,
	).Scan(&rec.CreatedAt)
}

// DuePending selects pending records whose unlock date has arrived.
func (r *commissionRepo) DuePending(ctx context.Context, asOf time.Time, limit int) ([]*domain.CommissionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_records
		WHERE status = 'pending' AND unlock_at <= $1
		ORDER BY unlock_at ASC, id ASC
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due commissions: %w", err)
	}
	defer rows.Close()

	var records []*domain.CommissionRecord
	for rows.Next() {
		rec, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commissions: %w", err)
	}

	return records, nil
}

// MarkAvailable promotes pending -> available, guarded in SQL so a record is
// never promoted early or twice.
func (r *commissionRepo) MarkAvailable(ctx context.Context, id, ledgerID string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE commission_records
		SET status = 'available', unlocked_at = $1, ledger_id = $2
		WHERE id = $3 AND status = 'pending' AND unlock_at <= $1
	`, at, ledgerID, id)
	if err != nil {
		return fmt.Errorf("failed to mark commission available: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

// CancelByPurchase voids every still-pending record of a purchase. Records
// already promoted to available stay; their credit is posted and reversing it
// takes a compensating ledger entry, not an edit.
func (r *commissionRepo) CancelByPurchase(ctx context.Context, purchaseID string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE commission_records
		SET status = 'cancelled'
		WHERE purchase_id = $1 AND status = 'pending'
	`, purchaseID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel commissions: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *commissionRepo) CountPending(ctx context.Context, asOf time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM commission_records
		WHERE status = 'pending' AND unlock_at > $1
	`, asOf).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending commissions: %w", err)
	}
	return count, nil
}

func (r *commissionRepo) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.CommissionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+commissionColumns+`
		FROM commission_records
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions by recipient: %w", err)
	}
	defer rows.Close()

	var records []*domain.CommissionRecord
	for rows.Next() {
		rec, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commissions: %w", err)
	}

	return records, nil
}

func scanCommission(scanner Scanner) (*domain.CommissionRecord, error) {
	rec := &domain.CommissionRecord{}
	var rateStr, baseStr, amountStr string

	err := scanner.Scan(
		&rec.ID,
		&rec.RecipientID,
		&rec.SourceUserID,
		&rec.ViaUserID,
		&rec.PurchaseID,
		&rec.Tier,
		&rateStr,
		&baseStr,
		&amountStr,
		&rec.Status,
		&rec.UnlockAt,
		&rec.UnlockedAt,
		&rec.LedgerID,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("failed to parse rate: %w", err)
	}
	if rec.BaseAmount, err = decimal.NewFromString(baseStr); err != nil {
		return nil, fmt.Errorf("failed to parse base amount: %w", err)
	}
	if rec.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	return rec, nil
}
