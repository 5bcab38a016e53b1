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
)

type WalletRepository interface {
	ReconcileExpired(ctx context.Context, now time.Time) (int64, error)
	PickAvailable(ctx context.Context, network, currency, purpose string, policy domain.SelectionPolicy) (*domain.WalletAddress, error)
	Assign(ctx context.Context, walletID, purchaseID, userID string, until, now time.Time) (bool, error)
	Release(ctx context.Context, address string, cooldownUntil, now time.Time) error
	ReleaseByPurchase(ctx context.Context, purchaseID string, cooldownUntil, now time.Time) (int64, error)
	Disable(ctx context.Context, address string) error
	GetByAddress(ctx context.Context, address string) (*domain.WalletAddress, error)
	Create(ctx context.Context, w *domain.WalletAddress) error
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `
	id, address, network, currency, purpose, status,
	assigned_purchase_id, assigned_user_id, assigned_until, cooldown_until,
	last_shown_at, shown_count, created_at, updated_at
`

// ReconcileExpired lazily reclaims assignments past their expiry and
// cooldowns past their window. Invoked on every acquire, not by a timer.
func (r *walletRepo) ReconcileExpired(ctx context.Context, now time.Time) (int64, error) {
	expired, err := r.db.Exec(ctx, `
		UPDATE wallet_addresses
		SET status = 'available',
			assigned_purchase_id = NULL,
			assigned_user_id = NULL,
			assigned_until = NULL,
			updated_at = $1
		WHERE status = 'assigned' AND assigned_until <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile expired assignments: %w", err)
	}

	cooled, err := r.db.Exec(ctx, `
		UPDATE wallet_addresses
		SET status = 'available', cooldown_until = NULL, updated_at = $1
		WHERE status = 'cooldown' AND cooldown_until <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile elapsed cooldowns: %w", err)
	}

	return expired.RowsAffected() + cooled.RowsAffected(), nil
}

// PickAvailable selects a candidate address without claiming it. The claim is
// the separate CAS in Assign; selection alone grants nothing.
func (r *walletRepo) PickAvailable(ctx context.Context, network, currency, purpose string, policy domain.SelectionPolicy) (*domain.WalletAddress, error) {
	order := "ORDER BY random()"
	if policy == domain.PolicyLRS {
		order = "ORDER BY last_shown_at ASC NULLS FIRST, shown_count ASC"
	}

	row := r.db.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallet_addresses
		WHERE status = 'available' AND network = $1 AND currency = $2 AND purpose = $3
		`+order+`
		LIMIT 1
	`, network, currency, purpose)

	w, err := scanWalletAddress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNoWalletAvailable
		}
		return nil, fmt.Errorf("failed to pick wallet address: %w", err)
	}
	return w, nil
}

// Assign claims an address with a compare-and-swap on status=available.
// Returns false when a concurrent acquirer won the race.
func (r *walletRepo) Assign(ctx context.Context, walletID, purchaseID, userID string, until, now time.Time) (bool, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE wallet_addresses
		SET status = 'assigned',
			assigned_purchase_id = $1,
			assigned_user_id = $2,
			assigned_until = $3,
			last_shown_at = $4,
			shown_count = shown_count + 1,
			updated_at = $4
		WHERE id = $5 AND status = 'available'
	`, purchaseID, userID, until, now, walletID)
	if err != nil {
		return false, fmt.Errorf("failed to assign wallet address: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// Release moves an assigned address into cooldown so it is not immediately
// re-shown. Used after success and failure alike.
func (r *walletRepo) Release(ctx context.Context, address string, cooldownUntil, now time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE wallet_addresses
		SET status = 'cooldown',
			assigned_purchase_id = NULL,
			assigned_user_id = NULL,
			assigned_until = NULL,
			cooldown_until = $1,
			updated_at = $2
		WHERE address = $3 AND status = 'assigned'
	`, cooldownUntil, now, address)
	if err != nil {
		return fmt.Errorf("failed to release wallet address: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrWalletNotAssigned
	}
	return nil
}

// ReleaseByPurchase parks whatever address is held by the purchase. Zero rows
// is fine; the assignment may already have expired and been reclaimed.
func (r *walletRepo) ReleaseByPurchase(ctx context.Context, purchaseID string, cooldownUntil, now time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE wallet_addresses
		SET status = 'cooldown',
			assigned_purchase_id = NULL,
			assigned_user_id = NULL,
			assigned_until = NULL,
			cooldown_until = $1,
			updated_at = $2
		WHERE assigned_purchase_id = $3 AND status = 'assigned'
	`, cooldownUntil, now, purchaseID)
	if err != nil {
		return 0, fmt.Errorf("failed to release wallet by purchase: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// Disable soft-disables an address. Historical assignments keep referencing it.
func (r *walletRepo) Disable(ctx context.Context, address string) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE wallet_addresses
		SET status = 'disabled', updated_at = NOW()
		WHERE address = $1 AND status != 'disabled'
	`, address)
	if err != nil {
		return fmt.Errorf("failed to disable wallet address: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *walletRepo) GetByAddress(ctx context.Context, address string) (*domain.WalletAddress, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallet_addresses
		WHERE address = $1
	`, address)

	w, err := scanWalletAddress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet address: %w", err)
	}
	return w, nil
}

// Create provisions a pool member (external seeding path).
func (r *walletRepo) Create(ctx context.Context, w *domain.WalletAddress) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO wallet_addresses (
			id, address, network, currency, purpose, status, shown_count,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,NOW(),NOW())
		RETURNING created_at, updated_at
	`, w.ID, w.Address, w.Network, w.Currency, w.Purpose, w.Status).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet address: %w", err)
	}
	return nil
}

func scanWalletAddress(scanner Scanner) (*domain.WalletAddress, error) {
	w := &domain.WalletAddress{}
	err := scanner.Scan(
		&w.ID,
		&w.Address,
		&w.Network,
		&w.Currency,
		&w.Purpose,
		&w.Status,
		&w.AssignedPurchaseID,
		&w.AssignedUserID,
		&w.AssignedUntil,
		&w.CooldownUntil,
		&w.LastShownAt,
		&w.ShownCount,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}
