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

type LedgerRepository interface {
	GetByKey(ctx context.Context, idempotencyKey string) (*domain.LedgerEntry, error)
	InsertWithBalance(ctx context.Context, e *domain.LedgerEntry) error
	LatestConfirmedBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	ListByUser(ctx context.Context, userID string, filter *domain.LedgerFilter) ([]*domain.LedgerEntry, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.EntryStatus) error
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

const ledgerColumns = `
	id, user_id, kind, amount::text, currency, balance_after::text, status,
	idempotency_key, purchase_id, schedule_id, commission_id, external_ref,
	metadata, created_at
`

// GetByKey fetches the entry holding an idempotency key, if any.
func (r *ledgerRepo) GetByKey(ctx context.Context, idempotencyKey string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE idempotency_key = $1
	`, idempotencyKey)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry by key: %w", err)
	}
	return entry, nil
}

// InsertWithBalance appends an entry, computing balance_after from the
// owner's latest confirmed entry inside a single transaction. The read and
// the insert are serialized per owner with an advisory lock; the idempotency
// key's unique index remains the correctness backstop, so callers must treat
// a unique violation from this method as success and re-read the winner.
func (r *ledgerRepo) InsertWithBalance(ctx context.Context, e *domain.LedgerEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.UserID); err != nil {
		return fmt.Errorf("failed to take owner lock: %w", err)
	}

	var priorStr string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE((
			SELECT balance_after::text
			FROM ledger_entries
			WHERE user_id = $1 AND status = 'confirmed'
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		), '0')
	`, e.UserID).Scan(&priorStr)
	if err != nil {
		return fmt.Errorf("failed to read prior balance: %w", err)
	}

	prior, err := decimal.NewFromString(priorStr)
	if err != nil {
		return fmt.Errorf("failed to parse prior balance %q: %w", priorStr, err)
	}
	e.BalanceAfter = prior.Add(e.Amount)

	// The overdraft check runs here, under the owner lock, so concurrent
	// debits serialize; a usecase-level balance read alone cannot guard this.
	if e.Status == domain.EntryStatusConfirmed && e.BalanceAfter.IsNegative() {
		return xerrors.ErrNegativeBalance
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (
			id, user_id, kind, amount, currency, balance_after, status,
			idempotency_key, purchase_id, schedule_id, commission_id,
			external_ref, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at
	`,
		e.ID, e.UserID, e.Kind, e.Amount.String(), e.Currency,
		e.BalanceAfter.String(), e.Status, e.IdempotencyKey,
		e.Reference.PurchaseID, e.Reference.ScheduleID,
		e.Reference.CommissionID, e.Reference.ExternalRef,
		e.Metadata, time.Now(),
	).Scan(&e.CreatedAt)
	if err != nil {
		// Return the raw error so callers can detect 23505.
		return err
	}

	return tx.Commit(ctx)
}

// LatestConfirmedBalance returns the running balance of the owner's most
// recent confirmed entry, zero if the owner has none.
func (r *ledgerRepo) LatestConfirmedBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balanceStr string
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE((
			SELECT balance_after::text
			FROM ledger_entries
			WHERE user_id = $1 AND status = 'confirmed'
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		), '0')
	`, userID).Scan(&balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", balanceStr, err)
	}
	return balance, nil
}

// ListByUser fetches entries for an owner, newest first, with optional kind
// and date filters.
func (r *ledgerRepo) ListByUser(ctx context.Context, userID string, filter *domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	idx := 2

	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", idx)
		args = append(args, *filter.Kind)
		idx++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND created_at < $%d", idx)
		args = append(args, *filter.To)
		idx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// UpdateStatus performs a guarded status transition. Amounts and balances are
// never touched; reversals require a compensating entry.
func (r *ledgerRepo) UpdateStatus(ctx context.Context, id string, from, to domain.EntryStatus) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE ledger_entries
		SET status = $1
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update ledger status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInvalidTransition
	}
	return nil
}

func scanLedgerEntry(scanner Scanner) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var amountStr, balanceStr string

	err := scanner.Scan(
		&e.ID,
		&e.UserID,
		&e.Kind,
		&amountStr,
		&e.Currency,
		&balanceStr,
		&e.Status,
		&e.IdempotencyKey,
		&e.Reference.PurchaseID,
		&e.Reference.ScheduleID,
		&e.Reference.CommissionID,
		&e.Reference.ExternalRef,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balanceStr, err)
	}
	return e, nil
}
