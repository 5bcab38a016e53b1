package walletpool

import (
	"context"
	"errors"
	"time"

	"licensing-service/internal/domain"
	"licensing-service/internal/metrics"
	"licensing-service/internal/repository"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/id"

	"go.uber.org/zap"
)

// Usecase rotates payment-collection addresses. An acquire hands one address
// to one purchase for a bounded window; reclamation is lazy, on the next
// acquire, so no background sweeper is needed.
type Usecase struct {
	repo   repository.WalletRepository
	policy domain.SelectionPolicy
	ttl    time.Duration
	cool   time.Duration
	log    *zap.Logger
}

type Options struct {
	Policy          domain.SelectionPolicy
	AssignmentTTL   time.Duration
	DefaultCooldown time.Duration
}

func NewUsecase(repo repository.WalletRepository, opts Options, log *zap.Logger) *Usecase {
	if opts.Policy != domain.PolicyLRS {
		opts.Policy = domain.PolicyRandom
	}
	if opts.AssignmentTTL <= 0 {
		opts.AssignmentTTL = 24 * time.Hour
	}
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = 15 * time.Minute
	}
	return &Usecase{
		repo:   repo,
		policy: opts.Policy,
		ttl:    opts.AssignmentTTL,
		cool:   opts.DefaultCooldown,
		log:    log,
	}
}

// Acquire reserves an address for a purchase. Expired assignments and elapsed
// cooldowns are reclaimed first, then a candidate is selected and claimed with
// a CAS. A lost claim race is retried once before reporting exhaustion.
func (uc *Usecase) Acquire(ctx context.Context, network, currency, purpose, purchaseID, userID string) (*domain.WalletAddress, error) {
	if network == "" || currency == "" || purchaseID == "" || userID == "" {
		return nil, xerrors.ErrInvalidInput
	}

	now := time.Now().UTC()
	if reclaimed, err := uc.repo.ReconcileExpired(ctx, now); err != nil {
		metrics.WalletAcquires.WithLabelValues("error").Inc()
		return nil, err
	} else if reclaimed > 0 {
		uc.log.Info("reclaimed wallet addresses", zap.Int64("count", reclaimed))
	}

	for attempt := 0; attempt < 2; attempt++ {
		candidate, err := uc.repo.PickAvailable(ctx, network, currency, purpose, uc.policy)
		if err != nil {
			if errors.Is(err, xerrors.ErrNoWalletAvailable) {
				metrics.WalletAcquires.WithLabelValues("exhausted").Inc()
				uc.log.Warn("wallet pool exhausted",
					zap.String("network", network),
					zap.String("currency", currency),
					zap.String("purpose", purpose))
				return nil, xerrors.ErrNoWalletAvailable
			}
			metrics.WalletAcquires.WithLabelValues("error").Inc()
			return nil, err
		}

		until := now.Add(uc.ttl)
		claimed, err := uc.repo.Assign(ctx, candidate.ID, purchaseID, userID, until, now)
		if err != nil {
			metrics.WalletAcquires.WithLabelValues("error").Inc()
			return nil, err
		}
		if !claimed {
			// Another acquirer won this address between select and claim.
			metrics.WalletAcquires.WithLabelValues("retry").Inc()
			continue
		}

		candidate.Status = domain.WalletAssigned
		candidate.AssignedPurchaseID = &purchaseID
		candidate.AssignedUserID = &userID
		candidate.AssignedUntil = &until
		metrics.WalletAcquires.WithLabelValues("ok").Inc()
		uc.log.Info("wallet address assigned",
			zap.String("wallet_id", candidate.ID),
			zap.String("purchase_id", purchaseID),
			zap.Time("assigned_until", until))
		return candidate, nil
	}

	metrics.WalletAcquires.WithLabelValues("exhausted").Inc()
	return nil, xerrors.ErrNoWalletAvailable
}

// Release parks an address in cooldown. Called on purchase confirmation and
// on cancellation alike. A negative cooldown applies the pool default; zero
// puts the address back in rotation on the next acquire.
func (uc *Usecase) Release(ctx context.Context, address string, cooldown time.Duration) error {
	now := time.Now().UTC()
	err := uc.repo.Release(ctx, address, now.Add(uc.cooldownOrDefault(cooldown)), now)
	if err != nil {
		if errors.Is(err, xerrors.ErrWalletNotAssigned) {
			// Lazy reclamation may have beaten us to it. Releasing a
			// not-assigned address is a no-op, not a failure.
			uc.log.Warn("release of unassigned wallet address", zap.String("address", address))
			return nil
		}
		return err
	}
	uc.log.Info("wallet address released to cooldown", zap.String("address", address))
	return nil
}

// ReleaseForPurchase parks whatever address a purchase holds. Used at
// confirmation and cancellation; a purchase with no live assignment is a
// no-op. Cooldown semantics match Release.
func (uc *Usecase) ReleaseForPurchase(ctx context.Context, purchaseID string, cooldown time.Duration) error {
	now := time.Now().UTC()
	released, err := uc.repo.ReleaseByPurchase(ctx, purchaseID, now.Add(uc.cooldownOrDefault(cooldown)), now)
	if err != nil {
		return err
	}
	if released > 0 {
		uc.log.Info("wallet address released for purchase",
			zap.String("purchase_id", purchaseID))
	}
	return nil
}

func (uc *Usecase) cooldownOrDefault(cooldown time.Duration) time.Duration {
	if cooldown < 0 {
		return uc.cool
	}
	return cooldown
}

// Disable removes an address from rotation without deleting its history.
func (uc *Usecase) Disable(ctx context.Context, address string) error {
	return uc.repo.Disable(ctx, address)
}

// AddAddress seeds a new pool member in available state.
func (uc *Usecase) AddAddress(ctx context.Context, address, network, currency, purpose string) (*domain.WalletAddress, error) {
	if address == "" || network == "" || currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	w := &domain.WalletAddress{
		ID:       id.New(id.PrefixWallet),
		Address:  address,
		Network:  network,
		Currency: currency,
		Purpose:  purpose,
		Status:   domain.WalletAvailable,
	}
	if err := uc.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Lookup returns the current pool state of an address.
func (uc *Usecase) Lookup(ctx context.Context, address string) (*domain.WalletAddress, error) {
	return uc.repo.GetByAddress(ctx, address)
}
