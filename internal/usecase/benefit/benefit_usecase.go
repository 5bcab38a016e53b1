package benefit

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

// tickBatchSize bounds one DueDays fetch; the tick loops until drained.
const tickBatchSize = 500

// Usecase runs the accrual lifecycle of a confirmed license: schedule
// creation at confirmation, the daily release tick, and pause/resume.
type Usecase struct {
	schedules repository.ScheduleRepository
	purchases repository.PurchaseRepository
	ledger    *ledgeruc.Usecase
	cfg       config.BenefitConfig
	log       *zap.Logger
}

func NewUsecase(
	schedules repository.ScheduleRepository,
	purchases repository.PurchaseRepository,
	ledger *ledgeruc.Usecase,
	cfg config.BenefitConfig,
	log *zap.Logger,
) *Usecase {
	return &Usecase{
		schedules: schedules,
		purchases: purchases,
		ledger:    ledger,
		cfg:       cfg,
		log:       log,
	}
}

// DailyAmount returns the per-day accrual for a cycle. Cycle 1 returns the
// principal as cashback spread over the cycle; later cycles pay the standard
// daily rate on the principal.
func (uc *Usecase) DailyAmount(principal decimal.Decimal, cycle int) decimal.Decimal {
	if cycle == 1 {
		return principal.Mul(uc.cfg.CashbackRate).
			Div(decimal.NewFromInt(int64(uc.cfg.CashbackDays)))
	}
	return principal.Mul(uc.cfg.DailyRate)
}

// cycleStart is when a cycle's clock begins: each prior cycle consumed its
// production days plus the pause day.
func (uc *Usecase) cycleStart(confirmedAt time.Time, cycle int) time.Time {
	cycleLen := uc.cfg.ProductionDays + uc.cfg.PauseDays
	return confirmedAt.AddDate(0, 0, cycleLen*(cycle-1))
}

// OnPurchaseConfirmed creates the full set of accrual schedules for a newly
// confirmed purchase. Safe to call again for the same purchase: cycles that
// already exist are skipped via their unique index.
func (uc *Usecase) OnPurchaseConfirmed(ctx context.Context, p *domain.Purchase) error {
	if p.ConfirmedAt == nil {
		return xerrors.ErrPurchaseNotConfirmed
	}
	confirmedAt := p.ConfirmedAt.UTC()

	for cycle := 1; cycle <= uc.cfg.Cycles; cycle++ {
		daily := uc.DailyAmount(p.Principal, cycle)
		start := uc.cycleStart(confirmedAt, cycle)

		s := &domain.BenefitSchedule{
			ID:             id.New(id.PrefixSchedule),
			PurchaseID:     p.ID,
			Cycle:          cycle,
			StartAt:        start,
			ProductionDays: uc.cfg.ProductionDays,
			DailyAmount:    daily,
			Principal:      p.Principal,
		}
		for day := 1; day <= uc.cfg.ProductionDays; day++ {
			s.Days = append(s.Days, &domain.BenefitDay{
				ID:         id.New(id.PrefixBenefitDay),
				ScheduleID: s.ID,
				PurchaseID: p.ID,
				Cycle:      cycle,
				DayIndex:   day,
				DueAt:      start.AddDate(0, 0, day),
				Amount:     daily,
				Status:     domain.BenefitDayScheduled,
			})
		}

		if err := uc.schedules.CreateSchedule(ctx, s); err != nil {
			if xerrors.IsUniqueViolation(err) {
				uc.log.Info("benefit cycle already scheduled",
					zap.String("purchase_id", p.ID), zap.Int("cycle", cycle))
				continue
			}
			return err
		}
	}

	uc.log.Info("benefit schedules created",
		zap.String("purchase_id", p.ID),
		zap.Int("cycles", uc.cfg.Cycles),
		zap.String("principal", p.Principal.String()))
	return nil
}

// Tick releases every accrual due as of the given instant. One bad row never
// stops the run; failures are counted, retried on later ticks, and parked as
// failed after the retry budget.
func (uc *Usecase) Tick(ctx context.Context, asOf time.Time) (*domain.TickResult, error) {
	res := &domain.TickResult{TotalAmount: decimal.Zero}
	completed := map[string]bool{}

	for {
		days, err := uc.schedules.DueDays(ctx, asOf, uc.cfg.MaxAttempts, tickBatchSize)
		if err != nil {
			return res, err
		}
		if len(days) == 0 {
			break
		}

		for _, day := range days {
			res.Processed++
			if err := uc.releaseDay(ctx, day, asOf); err != nil {
				res.Failed++
				metrics.BenefitDaysFailed.Inc()
				uc.log.Error("benefit day release failed",
					zap.String("day_id", day.ID),
					zap.String("purchase_id", day.PurchaseID),
					zap.Int("cycle", day.Cycle),
					zap.Int("day", day.DayIndex),
					zap.Error(err))
				if ferr := uc.schedules.RecordFailure(ctx, day.ID, err.Error(), uc.cfg.MaxAttempts); ferr != nil {
					uc.log.Error("failed to record benefit day failure",
						zap.String("day_id", day.ID), zap.Error(ferr))
				}
				continue
			}
			res.Released++
			res.TotalAmount = res.TotalAmount.Add(day.Amount)
			metrics.BenefitDaysReleased.Inc()
			completed[day.PurchaseID] = true
		}

		if len(days) < tickBatchSize {
			break
		}
	}

	for purchaseID := range completed {
		if err := uc.maybeComplete(ctx, purchaseID, asOf); err != nil {
			uc.log.Error("failed to finalize completed purchase",
				zap.String("purchase_id", purchaseID), zap.Error(err))
		}
	}

	return res, nil
}

// releaseDay posts the ledger credit for one accrual day and marks the day
// released. The ledger key makes a replay of either half harmless.
func (uc *Usecase) releaseDay(ctx context.Context, day *domain.BenefitDay, asOf time.Time) error {
	purchaseID := day.PurchaseID
	p, err := uc.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return err
	}

	entry, _, err := uc.ledger.PostIfAbsent(ctx, ledgeruc.PostRequest{
		UserID:         p.UserID,
		Kind:           domain.EntryKindBenefit,
		Amount:         day.Amount,
		Currency:       p.Currency,
		Status:         domain.EntryStatusConfirmed,
		IdempotencyKey: domain.BenefitKey(purchaseID, day.Cycle, day.DayIndex),
		Reference: domain.EntryReference{
			PurchaseID: &purchaseID,
			ScheduleID: &day.ScheduleID,
		},
	})
	if err != nil {
		return err
	}

	if err := uc.schedules.MarkReleased(ctx, day.ID, entry.ID, asOf); err != nil {
		if errors.Is(err, xerrors.ErrInvalidTransition) {
			// A concurrent run already released this day. The ledger entry is
			// shared via the idempotency key, so nothing was double-paid.
			return nil
		}
		return err
	}
	return nil
}

// maybeComplete flips a purchase to completed once every scheduled day has
// been released.
func (uc *Usecase) maybeComplete(ctx context.Context, purchaseID string, asOf time.Time) error {
	released, err := uc.schedules.CountReleasedByPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	if released < uc.cfg.Cycles*uc.cfg.ProductionDays {
		return nil
	}

	if err := uc.purchases.MarkCompleted(ctx, purchaseID, asOf); err != nil {
		if errors.Is(err, xerrors.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	uc.log.Info("purchase completed all benefit cycles",
		zap.String("purchase_id", purchaseID),
		zap.Int("days_released", released))
	return nil
}

// Pause freezes day advancement for a license. Due dates keep aging but the
// tick skips paused purchases; the lost time is restored on resume.
func (uc *Usecase) Pause(ctx context.Context, purchaseID string) error {
	return uc.purchases.SetPaused(ctx, purchaseID, time.Now().UTC())
}

// Resume unfreezes a license and pushes its remaining due dates forward by
// the pause duration. Released history is untouched.
func (uc *Usecase) Resume(ctx context.Context, purchaseID string) error {
	pausedAt, err := uc.purchases.SetResumed(ctx, purchaseID)
	if err != nil {
		return err
	}

	delta := time.Since(pausedAt)
	if delta <= 0 {
		return nil
	}
	shifted, err := uc.schedules.ShiftScheduledDays(ctx, purchaseID, delta)
	if err != nil {
		return err
	}
	uc.log.Info("benefit schedule resumed",
		zap.String("purchase_id", purchaseID),
		zap.Duration("paused_for", delta),
		zap.Int64("days_shifted", shifted))
	return nil
}

// Schedules returns a purchase's full accrual plan.
func (uc *Usecase) Schedules(ctx context.Context, purchaseID string) ([]*domain.BenefitSchedule, error) {
	return uc.schedules.ListByPurchase(ctx, purchaseID)
}

// ReleasedDays reports how many accrual days a purchase has already paid out.
func (uc *Usecase) ReleasedDays(ctx context.Context, purchaseID string) (int, error) {
	return uc.schedules.CountReleasedByPurchase(ctx, purchaseID)
}
