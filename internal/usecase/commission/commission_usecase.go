package commission

import (
	"context"
	"errors"
	"time"

	"licensing-service/internal/config"
	"licensing-service/internal/domain"
	"licensing-service/internal/metrics"
	"licensing-service/internal/repository"
	ledgeruc "licensing-service/internal/usecase/ledger"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const unlockBatchSize = 500

// Usecase computes referral commissions eagerly at purchase confirmation and
// promotes them to spendable once their unlock date passes.
type Usecase struct {
	commissions repository.CommissionRepository
	users       repository.UserRepository
	purchases   repository.PurchaseRepository
	cohorts     repository.CohortRepository
	ledger      *ledgeruc.Usecase
	cfg         config.ReferralConfig
	log         *zap.Logger
}

func NewUsecase(
	commissions repository.CommissionRepository,
	users repository.UserRepository,
	purchases repository.PurchaseRepository,
	cohorts repository.CohortRepository,
	ledger *ledgeruc.Usecase,
	cfg config.ReferralConfig,
	log *zap.Logger,
) *Usecase {
	return &Usecase{
		commissions: commissions,
		users:       users,
		purchases:   purchases,
		cohorts:     cohorts,
		ledger:      ledger,
		cfg:         cfg,
		log:         log,
	}
}

// rates resolves the buyer's cohort configuration. A missing or broken cohort
// row degrades to the configured defaults with a warning; commission
// computation never blocks on cohort lookup.
func (uc *Usecase) rates(ctx context.Context, cohort string) *domain.CohortConfig {
	cfg, err := uc.cohorts.GetByCohort(ctx, cohort)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNotFound) {
			uc.log.Warn("cohort lookup failed, using default rates",
				zap.String("cohort", cohort), zap.Error(err))
		} else {
			uc.log.Warn("no cohort config, using default rates",
				zap.String("cohort", cohort))
		}
		return &domain.CohortConfig{
			Cohort:           cohort,
			DirectRate:       uc.cfg.DirectRate,
			ParentRate:       uc.cfg.ParentRate,
			DirectUnlockDays: uc.cfg.DirectUnlockDays,
			ParentUnlockDays: uc.cfg.ParentUnlockDays,
		}
	}
	return cfg
}

// OnPurchaseConfirmed creates the commission records a confirmed purchase
// owes: a direct commission to the buyer's referrer, and a parent bonus to
// the referrer's own referrer when the direct referrer has not yet purchased.
// Re-running for the same purchase is harmless; existing records survive via
// their unique indexes.
func (uc *Usecase) OnPurchaseConfirmed(ctx context.Context, p *domain.Purchase) ([]*domain.CommissionRecord, error) {
	if p.ConfirmedAt == nil {
		return nil, xerrors.ErrPurchaseNotConfirmed
	}
	confirmedAt := p.ConfirmedAt.UTC()

	buyer, err := uc.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if buyer.ReferrerID == nil {
		return nil, nil
	}

	referrer, err := uc.users.GetByID(ctx, *buyer.ReferrerID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			uc.log.Warn("referrer missing, skipping commissions",
				zap.String("purchase_id", p.ID),
				zap.String("referrer_id", *buyer.ReferrerID))
			return nil, nil
		}
		return nil, err
	}

	rates := uc.rates(ctx, buyer.Cohort)
	var created []*domain.CommissionRecord

	direct := &domain.CommissionRecord{
		ID:           id.New(id.PrefixCommission),
		RecipientID:  referrer.ID,
		SourceUserID: buyer.ID,
		PurchaseID:   p.ID,
		Tier:         domain.TierDirect,
		Rate:         rates.DirectRate,
		BaseAmount:   p.Principal,
		Amount:       p.Principal.Mul(rates.DirectRate),
		Status:       domain.CommissionPending,
		UnlockAt:     confirmedAt.AddDate(0, 0, rates.DirectUnlockDays),
	}
	if rec, err := uc.create(ctx, direct); err != nil {
		return created, err
	} else if rec != nil {
		created = append(created, rec)
	}

	if referrer.ReferrerID != nil {
		eligible, err := uc.parentBonusEligible(ctx, referrer.ID)
		if err != nil {
			return created, err
		}
		if eligible {
			viaID := referrer.ID
			parent := &domain.CommissionRecord{
				ID:           id.New(id.PrefixCommission),
				RecipientID:  *referrer.ReferrerID,
				SourceUserID: buyer.ID,
				ViaUserID:    &viaID,
				PurchaseID:   p.ID,
				Tier:         domain.TierParentBonus,
				Rate:         rates.ParentRate,
				BaseAmount:   p.Principal,
				Amount:       p.Principal.Mul(rates.ParentRate),
				Status:       domain.CommissionPending,
				UnlockAt:     confirmedAt.AddDate(0, 0, rates.ParentUnlockDays),
			}
			if rec, err := uc.create(ctx, parent); err != nil {
				return created, err
			} else if rec != nil {
				created = append(created, rec)
			}
		}
	}

	return created, nil
}

// parentBonusEligible reports whether the direct referrer still counts as a
// non-purchaser. This read is advisory; the partial unique index on
// (recipient, via) decides concurrent confirmations.
func (uc *Usecase) parentBonusEligible(ctx context.Context, referrerID string) (bool, error) {
	count, err := uc.purchases.CountConfirmedByUser(ctx, referrerID)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (uc *Usecase) create(ctx context.Context, rec *domain.CommissionRecord) (*domain.CommissionRecord, error) {
	if err := uc.commissions.Create(ctx, rec); err != nil {
		if xerrors.IsUniqueViolation(err) {
			uc.log.Info("commission already recorded",
				zap.String("purchase_id", rec.PurchaseID),
				zap.String("recipient_id", rec.RecipientID),
				zap.String("tier", string(rec.Tier)))
			return nil, nil
		}
		return nil, err
	}
	uc.log.Info("commission created",
		zap.String("commission_id", rec.ID),
		zap.String("recipient_id", rec.RecipientID),
		zap.String("tier", string(rec.Tier)),
		zap.String("amount", rec.Amount.String()),
		zap.Time("unlock_at", rec.UnlockAt))
	return rec, nil
}

// UnlockTick promotes every due pending commission: post the ledger credit,
// then flip the record to available. Both halves are idempotent, so a crash
// between them heals on the next run.
func (uc *Usecase) UnlockTick(ctx context.Context, asOf time.Time) (*domain.UnlockResult, error) {
	res := &domain.UnlockResult{TotalAmount: decimal.Zero}

	for {
		due, err := uc.commissions.DuePending(ctx, asOf, unlockBatchSize)
		if err != nil {
			return res, err
		}
		if len(due) == 0 {
			break
		}

		progressed := false
		for _, rec := range due {
			if err := uc.unlock(ctx, rec, asOf); err != nil {
				res.Failed++
				uc.log.Error("commission unlock failed",
					zap.String("commission_id", rec.ID),
					zap.String("recipient_id", rec.RecipientID),
					zap.Error(err))
				continue
			}
			res.Promoted++
			res.TotalAmount = res.TotalAmount.Add(rec.Amount)
			metrics.CommissionsUnlocked.Inc()
			progressed = true
		}

		// Failed rows stay pending and would be re-fetched forever; stop once
		// a full batch makes no progress.
		if !progressed || len(due) < unlockBatchSize {
			break
		}
	}

	still, err := uc.commissions.CountPending(ctx, asOf)
	if err != nil {
		return res, err
	}
	res.StillPending = still

	return res, nil
}

func (uc *Usecase) unlock(ctx context.Context, rec *domain.CommissionRecord, asOf time.Time) error {
	kind := domain.EntryKindDirectCommission
	if rec.Tier == domain.TierParentBonus {
		kind = domain.EntryKindParentCommission
	}

	p, err := uc.purchases.GetByID(ctx, rec.PurchaseID)
	if err != nil {
		return err
	}

	purchaseID := rec.PurchaseID
	commissionID := rec.ID
	entry, _, err := uc.ledger.PostIfAbsent(ctx, ledgeruc.PostRequest{
		UserID:         rec.RecipientID,
		Kind:           kind,
		Amount:         rec.Amount,
		Currency:       p.Currency,
		Status:         domain.EntryStatusConfirmed,
		IdempotencyKey: domain.ReferralKey(rec.PurchaseID, rec.RecipientID),
		Reference: domain.EntryReference{
			PurchaseID:   &purchaseID,
			CommissionID: &commissionID,
		},
	})
	if err != nil {
		return err
	}

	if err := uc.commissions.MarkAvailable(ctx, rec.ID, entry.ID, asOf); err != nil {
		if errors.Is(err, xerrors.ErrInvalidTransition) {
			// Another run promoted it between our fetch and update.
			return nil
		}
		return err
	}
	return nil
}

// CancelForPurchase voids a cancelled purchase's still-pending commissions.
// Already-unlocked commissions are untouched; their ledger credits stand.
func (uc *Usecase) CancelForPurchase(ctx context.Context, purchaseID string) (int64, error) {
	cancelled, err := uc.commissions.CancelByPurchase(ctx, purchaseID)
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		uc.log.Info("commissions cancelled",
			zap.String("purchase_id", purchaseID),
			zap.Int64("count", cancelled))
	}
	return cancelled, nil
}

// ListByRecipient returns a recipient's commission records, newest first.
func (uc *Usecase) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.CommissionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return uc.commissions.ListByRecipient(ctx, recipientID, limit)
}
