package purchase

import (
	"context"
	"errors"
	"time"

	"licensing-service/internal/domain"
	"licensing-service/internal/repository"
	benefituc "licensing-service/internal/usecase/benefit"
	commissionuc "licensing-service/internal/usecase/commission"
	ledgeruc "licensing-service/internal/usecase/ledger"
	walletuc "licensing-service/internal/usecase/walletpool"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Usecase drives the purchase lifecycle and fans confirmation out to the
// downstream engines. Every downstream step is idempotent, so Confirm can be
// retried after a partial failure without double effects.
type Usecase struct {
	purchases  repository.PurchaseRepository
	ledger     *ledgeruc.Usecase
	benefits   *benefituc.Usecase
	commission *commissionuc.Usecase
	pool       *walletuc.Usecase
	log        *zap.Logger
}

func NewUsecase(
	purchases repository.PurchaseRepository,
	ledger *ledgeruc.Usecase,
	benefits *benefituc.Usecase,
	commission *commissionuc.Usecase,
	pool *walletuc.Usecase,
	log *zap.Logger,
) *Usecase {
	return &Usecase{
		purchases:  purchases,
		ledger:     ledger,
		benefits:   benefits,
		commission: commission,
		pool:       pool,
		log:        log,
	}
}

// CreateRequest opens a pending purchase and reserves a deposit address.
type CreateRequest struct {
	UserID      string
	PackageCode string
	Principal   decimal.Decimal
	Currency    string
	Network     string
}

// CreateResult pairs the pending purchase with where to send funds.
type CreateResult struct {
	Purchase *domain.Purchase      `json:"purchase"`
	Deposit  *domain.WalletAddress `json:"deposit"`
}

// Create opens a pending purchase and acquires a deposit address for it.
func (uc *Usecase) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.UserID == "" || req.PackageCode == "" || !req.Principal.IsPositive() {
		return nil, xerrors.ErrInvalidInput
	}
	if req.Currency == "" {
		req.Currency = "USDT"
	}
	if req.Network == "" {
		req.Network = "BEP20"
	}

	p := &domain.Purchase{
		ID:          id.New(id.PrefixPurchase),
		UserID:      req.UserID,
		PackageCode: req.PackageCode,
		Principal:   req.Principal,
		Currency:    req.Currency,
	}
	if err := uc.purchases.Create(ctx, p); err != nil {
		return nil, err
	}

	deposit, err := uc.pool.Acquire(ctx, req.Network, req.Currency, "deposit", p.ID, req.UserID)
	if err != nil {
		// The purchase stays pending; the caller can retry acquisition.
		uc.log.Warn("purchase created without deposit address",
			zap.String("purchase_id", p.ID), zap.Error(err))
		return &CreateResult{Purchase: p}, err
	}

	return &CreateResult{Purchase: p, Deposit: deposit}, nil
}

// Confirm marks a purchase paid and triggers everything confirmation owes:
// the audit ledger entry, the benefit schedules, the commission records and
// the deposit address release. Exactly one caller wins the status CAS; the
// rest see ErrAlreadyConfirmed. The fan-out runs for the winner and may be
// re-run by an operator if a downstream step failed.
func (uc *Usecase) Confirm(ctx context.Context, purchaseID string, txHash *string) (*domain.Purchase, error) {
	now := time.Now().UTC()

	won, err := uc.purchases.Confirm(ctx, purchaseID, txHash, now)
	if err != nil {
		return nil, err
	}

	p, err := uc.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Only a genuinely confirmed purchase reads as a harmless duplicate
		// webhook. Cancelled, paused and completed purchases must not.
		if p.Status == domain.PurchaseConfirmed {
			return p, xerrors.ErrAlreadyConfirmed
		}
		return nil, xerrors.ErrInvalidTransition
	}

	if err := uc.fanOut(ctx, p); err != nil {
		return p, err
	}
	uc.log.Info("purchase confirmed",
		zap.String("purchase_id", p.ID),
		zap.String("user_id", p.UserID),
		zap.String("principal", p.Principal.String()))
	return p, nil
}

// Reprocess re-runs the confirmation fan-out for an already-confirmed
// purchase. Operator tool for healing a partially failed confirmation.
func (uc *Usecase) Reprocess(ctx context.Context, purchaseID string) error {
	p, err := uc.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return err
	}
	if p.ConfirmedAt == nil {
		return xerrors.ErrPurchaseNotConfirmed
	}
	return uc.fanOut(ctx, p)
}

func (uc *Usecase) fanOut(ctx context.Context, p *domain.Purchase) error {
	// Audit record of the principal received. Posted pending: the capital
	// arrived on-chain, not in the internal balance, so it must not lift the
	// spendable balance.
	purchaseID := p.ID
	_, _, err := uc.ledger.PostIfAbsent(ctx, ledgeruc.PostRequest{
		UserID:         p.UserID,
		Kind:           domain.EntryKindPurchase,
		Amount:         p.Principal,
		Currency:       p.Currency,
		Status:         domain.EntryStatusPending,
		IdempotencyKey: domain.PurchaseKey(p.ID),
		Reference:      domain.EntryReference{PurchaseID: &purchaseID, ExternalRef: p.TxHash},
	})
	if err != nil {
		return err
	}

	if err := uc.benefits.OnPurchaseConfirmed(ctx, p); err != nil {
		return err
	}
	if _, err := uc.commission.OnPurchaseConfirmed(ctx, p); err != nil {
		return err
	}
	return uc.pool.ReleaseForPurchase(ctx, p.ID, -1)
}

// Cancel voids a purchase. A pending purchase is simply closed; a confirmed
// one can still be unwound while no accrual day has been released, which
// cancels its pending commissions and voids the audit ledger entry. Once the
// first benefit day pays out, the capital is deployed and cancel is refused.
func (uc *Usecase) Cancel(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	now := time.Now().UTC()

	p, err := uc.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case domain.PurchasePending:
		if err := uc.purchases.SetCancelled(ctx, p.ID, domain.PurchasePending, now); err != nil {
			return nil, err
		}

	case domain.PurchaseConfirmed:
		released, err := uc.benefits.ReleasedDays(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if released > 0 {
			return nil, xerrors.ErrInvalidTransition
		}
		if err := uc.purchases.SetCancelled(ctx, p.ID, domain.PurchaseConfirmed, now); err != nil {
			return nil, err
		}
		if _, err := uc.commission.CancelForPurchase(ctx, p.ID); err != nil {
			return nil, err
		}
		if err := uc.ledger.CancelPending(ctx, domain.PurchaseKey(p.ID)); err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			// The audit entry may be missing if the fan-out failed before
			// posting it; anything else is a real problem.
			return nil, err
		}

	default:
		return nil, xerrors.ErrInvalidTransition
	}

	// The held deposit address goes straight back into rotation.
	if err := uc.pool.ReleaseForPurchase(ctx, p.ID, 0); err != nil {
		return nil, err
	}

	p.Status = domain.PurchaseCancelled
	uc.log.Info("purchase cancelled",
		zap.String("purchase_id", p.ID),
		zap.String("user_id", p.UserID))
	return p, nil
}

// Get returns a purchase by id.
func (uc *Usecase) Get(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return uc.purchases.GetByID(ctx, purchaseID)
}

// Withdraw posts the debit for an externally-approved withdrawal request.
// The ledger is the only bookkeeping; transport of funds happens elsewhere.
func (uc *Usecase) Withdraw(ctx context.Context, userID, requestID string, amount decimal.Decimal, currency string) (*domain.LedgerEntry, error) {
	if userID == "" || requestID == "" || !amount.IsPositive() {
		return nil, xerrors.ErrInvalidInput
	}

	// Fast-path rejection only. The authoritative overdraft check runs inside
	// the posting transaction, under the per-user lock, so two concurrent
	// withdrawals that both pass this read cannot both post.
	balance, err := uc.ledger.BalanceOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, xerrors.ErrNegativeBalance
	}

	ref := requestID
	entry, _, err := uc.ledger.PostIfAbsent(ctx, ledgeruc.PostRequest{
		UserID:         userID,
		Kind:           domain.EntryKindWithdrawal,
		Amount:         amount.Neg(),
		Currency:       currency,
		Status:         domain.EntryStatusConfirmed,
		IdempotencyKey: domain.WithdrawalKey(requestID),
		Reference:      domain.EntryReference{ExternalRef: &ref},
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
