package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licensing-service/internal/domain"
	"licensing-service/internal/metrics"
	"licensing-service/internal/repository"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/id"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	balanceCacheTTL  = 30 * time.Second
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Usecase is the append-only ledger. All money movement in the system goes
// through PostIfAbsent; nothing else writes ledger rows.
type Usecase struct {
	repo repository.LedgerRepository
	rdb  redis.UniversalClient
	log  *zap.Logger
}

func NewUsecase(repo repository.LedgerRepository, rdb redis.UniversalClient, log *zap.Logger) *Usecase {
	return &Usecase{repo: repo, rdb: rdb, log: log}
}

// PostRequest describes one posting attempt. The idempotency key is the
// identity of the financial event, not of the request.
type PostRequest struct {
	UserID         string
	Kind           domain.EntryKind
	Amount         decimal.Decimal
	Currency       string
	Status         domain.EntryStatus
	IdempotencyKey string
	Reference      domain.EntryReference
	Metadata       *string
}

// PostIfAbsent appends an entry unless its idempotency key already exists.
// Returns the surviving entry and whether this call created it. A concurrent
// duplicate that loses the unique-index race is reported as created=false
// with the winner's entry, never as an error.
func (uc *Usecase) PostIfAbsent(ctx context.Context, req PostRequest) (*domain.LedgerEntry, bool, error) {
	if req.UserID == "" || req.IdempotencyKey == "" {
		return nil, false, xerrors.ErrInvalidInput
	}
	if req.Amount.IsZero() {
		return nil, false, fmt.Errorf("%w: zero amount", xerrors.ErrInvalidInput)
	}
	if req.Status == "" {
		req.Status = domain.EntryStatusConfirmed
	}

	existing, err := uc.repo.GetByKey(ctx, req.IdempotencyKey)
	if err == nil {
		metrics.LedgerPostings.WithLabelValues(string(req.Kind), "duplicate").Inc()
		return existing, false, nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		metrics.LedgerPostings.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, false, err
	}

	entry := &domain.LedgerEntry{
		ID:             id.New(id.PrefixLedger),
		UserID:         req.UserID,
		Kind:           req.Kind,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         req.Status,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
		Metadata:       req.Metadata,
	}

	if err := uc.repo.InsertWithBalance(ctx, entry); err != nil {
		if xerrors.IsUniqueViolation(err) {
			// Lost the insert race; the winner holds this key.
			winner, rerr := uc.repo.GetByKey(ctx, req.IdempotencyKey)
			if rerr != nil {
				return nil, false, fmt.Errorf("failed to re-read winning entry: %w", rerr)
			}
			metrics.LedgerPostings.WithLabelValues(string(req.Kind), "duplicate").Inc()
			return winner, false, nil
		}
		metrics.LedgerPostings.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, false, fmt.Errorf("failed to post ledger entry: %w", err)
	}

	uc.invalidateBalance(ctx, req.UserID)
	metrics.LedgerPostings.WithLabelValues(string(req.Kind), "created").Inc()
	uc.log.Info("ledger entry posted",
		zap.String("entry_id", entry.ID),
		zap.String("user_id", entry.UserID),
		zap.String("kind", string(entry.Kind)),
		zap.String("amount", entry.Amount.String()),
		zap.String("balance_after", entry.BalanceAfter.String()))

	return entry, true, nil
}

// BalanceOf returns the owner's current confirmed balance. Served from a
// short-lived redis cache; a cache miss or redis outage falls through to the
// ledger, which is authoritative.
func (uc *Usecase) BalanceOf(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, xerrors.ErrInvalidInput
	}

	cacheKey := balanceCacheKey(userID)
	if uc.rdb != nil {
		if cached, err := uc.rdb.Get(ctx, cacheKey).Result(); err == nil {
			if bal, perr := decimal.NewFromString(cached); perr == nil {
				return bal, nil
			}
		}
	}

	balance, err := uc.repo.LatestConfirmedBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	if uc.rdb != nil {
		if err := uc.rdb.Set(ctx, cacheKey, balance.String(), balanceCacheTTL).Err(); err != nil {
			uc.log.Warn("failed to cache balance", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return balance, nil
}

// HistoryOf lists the owner's entries newest first. Limits are clamped so a
// caller cannot demand unbounded pages.
func (uc *Usecase) HistoryOf(ctx context.Context, userID string, filter *domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	if userID == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if filter == nil {
		filter = &domain.LedgerFilter{}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return uc.repo.ListByUser(ctx, userID, filter)
}

// GetByKey exposes idempotency-key lookup for callers that need to link back
// to an already-posted event.
func (uc *Usecase) GetByKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return uc.repo.GetByKey(ctx, key)
}

// CancelPending voids a still-pending entry by key. Confirmed entries are
// immutable; reversing one takes a compensating entry, never an edit.
func (uc *Usecase) CancelPending(ctx context.Context, key string) error {
	entry, err := uc.repo.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if entry.Status != domain.EntryStatusPending {
		return xerrors.ErrEntryImmutable
	}
	if err := uc.repo.UpdateStatus(ctx, entry.ID, domain.EntryStatusPending, domain.EntryStatusCancelled); err != nil {
		if errors.Is(err, xerrors.ErrInvalidTransition) {
			// A concurrent caller changed the status between read and update.
			return xerrors.ErrEntryImmutable
		}
		return err
	}
	uc.log.Info("ledger entry cancelled",
		zap.String("entry_id", entry.ID),
		zap.String("idempotency_key", key))
	return nil
}

func (uc *Usecase) invalidateBalance(ctx context.Context, userID string) {
	if uc.rdb == nil {
		return
	}
	if err := uc.rdb.Del(ctx, balanceCacheKey(userID)).Err(); err != nil {
		uc.log.Warn("failed to invalidate balance cache",
			zap.String("user_id", userID), zap.Error(err))
	}
}

func balanceCacheKey(userID string) string {
	return "ledger:balance:" + userID
}
