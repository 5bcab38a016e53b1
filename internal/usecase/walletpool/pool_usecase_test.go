package walletpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"licensing-service/internal/domain"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWalletRepo struct {
	mu             sync.Mutex
	wallets        map[string]*domain.WalletAddress // by id
	assignFailures int                              // next N Assign calls lose the CAS
	reconciled     int64
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: make(map[string]*domain.WalletAddress)}
}

func (f *fakeWalletRepo) add(id, address string, status domain.WalletStatus) *domain.WalletAddress {
	w := &domain.WalletAddress{
		ID: id, Address: address, Network: "BEP20", Currency: "USDT",
		Purpose: "deposit", Status: status,
	}
	f.wallets[id] = w
	return w
}

func (f *fakeWalletRepo) ReconcileExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, w := range f.wallets {
		switch w.Status {
		case domain.WalletAssigned:
			if w.AssignedUntil != nil && !w.AssignedUntil.After(now) {
				w.Status = domain.WalletAvailable
				w.AssignedPurchaseID, w.AssignedUserID, w.AssignedUntil = nil, nil, nil
				n++
			}
		case domain.WalletCooldown:
			if w.CooldownUntil != nil && !w.CooldownUntil.After(now) {
				w.Status = domain.WalletAvailable
				w.CooldownUntil = nil
				n++
			}
		}
	}
	f.reconciled += n
	return n, nil
}

func (f *fakeWalletRepo) PickAvailable(_ context.Context, network, currency, purpose string, _ domain.SelectionPolicy) (*domain.WalletAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.Status == domain.WalletAvailable && w.Network == network &&
			w.Currency == currency && w.Purpose == purpose {
			cp := *w
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNoWalletAvailable
}

func (f *fakeWalletRepo) Assign(_ context.Context, walletID, purchaseID, userID string, until, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignFailures > 0 {
		f.assignFailures--
		return false, nil
	}
	w, ok := f.wallets[walletID]
	if !ok || w.Status != domain.WalletAvailable {
		return false, nil
	}
	w.Status = domain.WalletAssigned
	w.AssignedPurchaseID = &purchaseID
	w.AssignedUserID = &userID
	w.AssignedUntil = &until
	w.LastShownAt = &now
	w.ShownCount++
	return true, nil
}

func (f *fakeWalletRepo) Release(_ context.Context, address string, cooldownUntil, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.Address == address && w.Status == domain.WalletAssigned {
			w.Status = domain.WalletCooldown
			w.AssignedPurchaseID, w.AssignedUserID, w.AssignedUntil = nil, nil, nil
			w.CooldownUntil = &cooldownUntil
			return nil
		}
	}
	return xerrors.ErrWalletNotAssigned
}

func (f *fakeWalletRepo) ReleaseByPurchase(_ context.Context, purchaseID string, cooldownUntil, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, w := range f.wallets {
		if w.Status == domain.WalletAssigned && w.AssignedPurchaseID != nil && *w.AssignedPurchaseID == purchaseID {
			w.Status = domain.WalletCooldown
			w.AssignedPurchaseID, w.AssignedUserID, w.AssignedUntil = nil, nil, nil
			w.CooldownUntil = &cooldownUntil
			n++
		}
	}
	return n, nil
}

func (f *fakeWalletRepo) Disable(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.Address == address {
			w.Status = domain.WalletDisabled
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (f *fakeWalletRepo) GetByAddress(_ context.Context, address string) (*domain.WalletAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.Address == address {
			cp := *w
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeWalletRepo) Create(_ context.Context, w *domain.WalletAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[w.ID] = w
	return nil
}

func newTestPool(repo *fakeWalletRepo) *Usecase {
	return NewUsecase(repo, Options{
		Policy:          domain.PolicyRandom,
		AssignmentTTL:   time.Hour,
		DefaultCooldown: 15 * time.Minute,
	}, zap.NewNop())
}

func TestAcquireAssignsAvailableWallet(t *testing.T) {
	repo := newFakeWalletRepo()
	repo.add("w1", "0xabc", domain.WalletAvailable)
	uc := newTestPool(repo)

	w, err := uc.Acquire(context.Background(), "BEP20", "USDT", "deposit", "pur_1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletAssigned, w.Status)
	require.NotNil(t, w.AssignedPurchaseID)
	assert.Equal(t, "pur_1", *w.AssignedPurchaseID)
	assert.NotNil(t, w.AssignedUntil)
}

func TestAcquireExhaustedPool(t *testing.T) {
	uc := newTestPool(newFakeWalletRepo())

	_, err := uc.Acquire(context.Background(), "BEP20", "USDT", "deposit", "pur_1", "u1")
	assert.ErrorIs(t, err, xerrors.ErrNoWalletAvailable)
}

func TestAcquireRetriesLostRaceOnce(t *testing.T) {
	repo := newFakeWalletRepo()
	repo.add("w1", "0xabc", domain.WalletAvailable)
	repo.assignFailures = 1
	uc := newTestPool(repo)

	w, err := uc.Acquire(context.Background(), "BEP20", "USDT", "deposit", "pur_1", "u1")
	require.NoError(t, err, "one lost race must be absorbed by the retry")
	assert.Equal(t, domain.WalletAssigned, w.Status)
}

func TestAcquireGivesUpAfterSecondLostRace(t *testing.T) {
	repo := newFakeWalletRepo()
	repo.add("w1", "0xabc", domain.WalletAvailable)
	repo.assignFailures = 2
	uc := newTestPool(repo)

	_, err := uc.Acquire(context.Background(), "BEP20", "USDT", "deposit", "pur_1", "u1")
	assert.ErrorIs(t, err, xerrors.ErrNoWalletAvailable)
}

func TestNoDoubleAssignment(t *testing.T) {
	repo := newFakeWalletRepo()
	repo.add("w1", "0xabc", domain.WalletAvailable)
	uc := newTestPool(repo)
	ctx := context.Background()

	first, err := uc.Acquire(ctx, "BEP20", "USDT", "deposit", "pur_1", "u1")
	require.NoError(t, err)

	_, err = uc.Acquire(ctx, "BEP20", "USDT", "deposit", "pur_2", "u2")
	assert.ErrorIs(t, err, xerrors.ErrNoWalletAvailable,
		"the only wallet is held by %s", *first.AssignedPurchaseID)
}

func TestReleaseMovesToCooldownThenRecovers(t *testing.T) {
	repo := newFakeWalletRepo()
	w := repo.add("w1", "0xabc", domain.WalletAvailable)
	uc := newTestPool(repo)
	ctx := context.Background()

	_, err := uc.Acquire(ctx, "BEP20", "USDT", "deposit", "pur_1", "u1")
	require.NoError(t, err)

	// Zero cooldown: the address parks, then the very next acquire reclaims it.
	require.NoError(t, uc.Release(ctx, "0xabc", 0))
	assert.Equal(t, domain.WalletCooldown, w.Status)

	got, err := uc.Acquire(ctx, "BEP20", "USDT", "deposit", "pur_2", "u2")
	require.NoError(t, err)
	assert.Equal(t, "w1", got.ID)
	assert.Equal(t, "pur_2", *got.AssignedPurchaseID)
}

func TestReleaseDefaultCooldownBlocksReacquire(t *testing.T) {
	repo := newFakeWalletRepo()
	w := repo.add("w1", "0xabc", domain.WalletAvailable)
	uc := newTestPool(repo)
	ctx := context.Background()

	_, err := uc.Acquire(ctx, "BEP20", "USDT", "deposit", "pur_1", "u1")
	require.NoError(t, err)

	// A negative cooldown falls back to the pool default.
	require.NoError(t, uc.Release(ctx, "0xabc", -1))
	assert.Equal(t, domain.WalletCooldown, w.Status)
	require.NotNil(t, w.CooldownUntil)
	assert.True(t, w.CooldownUntil.After(time.Now()))

	_, err = uc.Acquire(ctx, "BEP20", "USDT", "deposit", "pur_2", "u2")
	assert.ErrorIs(t, err, xerrors.ErrNoWalletAvailable)
}

func TestReleaseUnassignedIsNoOp(t *testing.T) {
	repo := newFakeWalletRepo()
	repo.add("w1", "0xabc", domain.WalletAvailable)
	uc := newTestPool(repo)

	assert.NoError(t, uc.Release(context.Background(), "0xabc", -1))
}

func TestExpiredAssignmentReclaimedOnAcquire(t *testing.T) {
	repo := newFakeWalletRepo()
	w := repo.add("w1", "0xabc", domain.WalletAssigned)
	past := time.Now().Add(-time.Minute)
	purID := "pur_old"
	w.AssignedPurchaseID = &purID
	w.AssignedUntil = &past
	uc := newTestPool(repo)

	got, err := uc.Acquire(context.Background(), "BEP20", "USDT", "deposit", "pur_new", "u1")
	require.NoError(t, err)
	assert.Equal(t, "w1", got.ID)
	assert.Equal(t, "pur_new", *got.AssignedPurchaseID)
}

func TestDisabledWalletNeverPicked(t *testing.T) {
	repo := newFakeWalletRepo()
	repo.add("w1", "0xabc", domain.WalletDisabled)
	uc := newTestPool(repo)

	_, err := uc.Acquire(context.Background(), "BEP20", "USDT", "deposit", "pur_1", "u1")
	assert.ErrorIs(t, err, xerrors.ErrNoWalletAvailable)
}
