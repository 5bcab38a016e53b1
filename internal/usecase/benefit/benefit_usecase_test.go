package benefit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"licensing-service/internal/config"
	"licensing-service/internal/domain"
	ledgeruc "licensing-service/internal/usecase/ledger"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedgerRepo struct {
	mu       sync.Mutex
	byKey    map[string]*domain.LedgerEntry
	byUser   map[string][]*domain.LedgerEntry
	failKeys map[string]bool
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		byKey:    make(map[string]*domain.LedgerEntry),
		byUser:   make(map[string][]*domain.LedgerEntry),
		failKeys: make(map[string]bool),
	}
}

func (f *fakeLedgerRepo) GetByKey(_ context.Context, key string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.byKey[key]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeLedgerRepo) InsertWithBalance(_ context.Context, e *domain.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[e.IdempotencyKey] {
		return errors.New("simulated insert failure")
	}
	if _, ok := f.byKey[e.IdempotencyKey]; ok {
		return &pgconn.PgError{Code: "23505"}
	}
	prior := decimal.Zero
	entries := f.byUser[e.UserID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == domain.EntryStatusConfirmed {
			prior = entries[i].BalanceAfter
			break
		}
	}
	e.BalanceAfter = prior.Add(e.Amount)
	cp := *e
	f.byKey[e.IdempotencyKey] = &cp
	f.byUser[e.UserID] = append(f.byUser[e.UserID], &cp)
	return nil
}

func (f *fakeLedgerRepo) LatestConfirmedBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.byUser[userID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == domain.EntryStatusConfirmed {
			return entries[i].BalanceAfter, nil
		}
	}
	return decimal.Zero, nil
}

func (f *fakeLedgerRepo) ListByUser(_ context.Context, userID string, filter *domain.LedgerFilter) ([]*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range f.byUser[userID] {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeLedgerRepo) UpdateStatus(context.Context, string, domain.EntryStatus, domain.EntryStatus) error {
	return nil
}

type fakePurchaseRepo struct {
	mu        sync.Mutex
	purchases map[string]*domain.Purchase
}

func newFakePurchaseRepo() *fakePurchaseRepo {
	return &fakePurchaseRepo{purchases: make(map[string]*domain.Purchase)}
}

func (f *fakePurchaseRepo) Create(_ context.Context, p *domain.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.Status = domain.PurchasePending
	f.purchases[p.ID] = p
	return nil
}

func (f *fakePurchaseRepo) GetByID(_ context.Context, id string) (*domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.purchases[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakePurchaseRepo) Confirm(_ context.Context, id string, txHash *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok || p.Status != domain.PurchasePending {
		return false, nil
	}
	p.Status = domain.PurchaseConfirmed
	p.ConfirmedAt = &at
	p.TxHash = txHash
	return true, nil
}

func (f *fakePurchaseRepo) MarkCompleted(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok || p.Status != domain.PurchaseConfirmed {
		return xerrors.ErrInvalidTransition
	}
	p.Status = domain.PurchaseCompleted
	p.CompletedAt = &at
	return nil
}

func (f *fakePurchaseRepo) SetPaused(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok || p.Status != domain.PurchaseConfirmed {
		return xerrors.ErrInvalidTransition
	}
	p.Status = domain.PurchasePaused
	p.PausedAt = &at
	return nil
}

func (f *fakePurchaseRepo) SetResumed(_ context.Context, id string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok || p.Status != domain.PurchasePaused {
		return time.Time{}, xerrors.ErrInvalidTransition
	}
	pausedAt := *p.PausedAt
	p.Status = domain.PurchaseConfirmed
	p.PausedAt = nil
	return pausedAt, nil
}

func (f *fakePurchaseRepo) SetCancelled(_ context.Context, id string, from domain.PurchaseStatus, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok || p.Status != from {
		return xerrors.ErrInvalidTransition
	}
	p.Status = domain.PurchaseCancelled
	return nil
}

func (f *fakePurchaseRepo) CountConfirmedByUser(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.purchases {
		if p.UserID != userID {
			continue
		}
		switch p.Status {
		case domain.PurchaseConfirmed, domain.PurchasePaused, domain.PurchaseCompleted:
			n++
		}
	}
	return n, nil
}

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[string]*domain.BenefitSchedule // by id
	days      map[string]*domain.BenefitDay      // by id
	purchases *fakePurchaseRepo
}

func newFakeScheduleRepo(purchases *fakePurchaseRepo) *fakeScheduleRepo {
	return &fakeScheduleRepo{
		schedules: make(map[string]*domain.BenefitSchedule),
		days:      make(map[string]*domain.BenefitDay),
		purchases: purchases,
	}
}

func (f *fakeScheduleRepo) CreateSchedule(_ context.Context, s *domain.BenefitSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.schedules {
		if existing.PurchaseID == s.PurchaseID && existing.Cycle == s.Cycle {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	f.schedules[s.ID] = s
	for _, d := range s.Days {
		cp := *d
		f.days[d.ID] = &cp
	}
	return nil
}

func (f *fakeScheduleRepo) ListByPurchase(_ context.Context, purchaseID string) ([]*domain.BenefitSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.BenefitSchedule
	for _, s := range f.schedules {
		if s.PurchaseID == purchaseID {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, xerrors.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cycle < out[j].Cycle })
	return out, nil
}

func (f *fakeScheduleRepo) DueDays(_ context.Context, asOf time.Time, maxAttempts, limit int) ([]*domain.BenefitDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.BenefitDay
	for _, d := range f.days {
		if d.Status != domain.BenefitDayScheduled || d.DueAt.After(asOf) || d.Attempts >= maxAttempts {
			continue
		}
		p, ok := f.purchases.purchases[d.PurchaseID]
		if !ok || p.Status != domain.PurchaseConfirmed {
			continue
		}
		cp := *d
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (f *fakeScheduleRepo) MarkReleased(_ context.Context, dayID, ledgerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.days[dayID]
	if !ok || d.Status != domain.BenefitDayScheduled {
		return xerrors.ErrInvalidTransition
	}
	d.Status = domain.BenefitDayReleased
	d.LedgerID = &ledgerID
	d.ReleasedAt = &at
	return nil
}

func (f *fakeScheduleRepo) RecordFailure(_ context.Context, dayID, errMsg string, maxAttempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.days[dayID]
	if !ok || d.Status != domain.BenefitDayScheduled {
		return nil
	}
	d.Attempts++
	d.LastError = &errMsg
	if d.Attempts >= maxAttempts {
		d.Status = domain.BenefitDayFailed
	}
	return nil
}

func (f *fakeScheduleRepo) CountReleasedByPurchase(_ context.Context, purchaseID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.days {
		if d.PurchaseID == purchaseID && d.Status == domain.BenefitDayReleased {
			n++
		}
	}
	return n, nil
}

func (f *fakeScheduleRepo) ShiftScheduledDays(_ context.Context, purchaseID string, delta time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.days {
		if d.PurchaseID == purchaseID && d.Status == domain.BenefitDayScheduled {
			d.DueAt = d.DueAt.Add(delta)
			n++
		}
	}
	return n, nil
}

func testBenefitConfig() config.BenefitConfig {
	return config.BenefitConfig{
		Cycles:         5,
		ProductionDays: 8,
		PauseDays:      1,
		DailyRate:      decimal.RequireFromString("0.125"),
		CashbackRate:   decimal.RequireFromString("1.0"),
		CashbackDays:   8,
		MaxAttempts:    3,
	}
}

type benefitFixture struct {
	uc        *Usecase
	schedules *fakeScheduleRepo
	purchases *fakePurchaseRepo
	ledger    *fakeLedgerRepo
}

func newBenefitFixture() *benefitFixture {
	purchases := newFakePurchaseRepo()
	schedules := newFakeScheduleRepo(purchases)
	ledgerRepo := newFakeLedgerRepo()
	ledgerUC := ledgeruc.NewUsecase(ledgerRepo, nil, zap.NewNop())
	return &benefitFixture{
		uc:        NewUsecase(schedules, purchases, ledgerUC, testBenefitConfig(), zap.NewNop()),
		schedules: schedules,
		purchases: purchases,
		ledger:    ledgerRepo,
	}
}

func (fx *benefitFixture) confirmedPurchase(t *testing.T, id, userID, principal string, confirmedAt time.Time) *domain.Purchase {
	t.Helper()
	p := &domain.Purchase{
		ID: id, UserID: userID, PackageCode: "std",
		Principal: decimal.RequireFromString(principal), Currency: "USDT",
	}
	require.NoError(t, fx.purchases.Create(context.Background(), p))
	won, err := fx.purchases.Confirm(context.Background(), id, nil, confirmedAt)
	require.NoError(t, err)
	require.True(t, won)
	p.Status = domain.PurchaseConfirmed
	p.ConfirmedAt = &confirmedAt
	return p
}

func TestOnPurchaseConfirmedCreatesFullPlan(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	confirmedAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p := fx.confirmedPurchase(t, "pur_1", "u1", "800", confirmedAt)

	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	schedules, err := fx.uc.Schedules(ctx, "pur_1")
	require.NoError(t, err)
	require.Len(t, schedules, 5)

	for _, s := range schedules {
		assert.Equal(t, 8, s.ProductionDays)
		if s.Cycle == 1 {
			// Cashback: principal spread over the cycle.
			assert.True(t, s.DailyAmount.Equal(decimal.RequireFromString("100")),
				"cycle 1 daily: got %s", s.DailyAmount)
		} else {
			assert.True(t, s.DailyAmount.Equal(decimal.RequireFromString("100")),
				"cycle %d daily: got %s", s.Cycle, s.DailyAmount)
		}
		// Cycles begin 9 days apart: 8 production days plus the pause day.
		wantStart := confirmedAt.AddDate(0, 0, 9*(s.Cycle-1))
		assert.True(t, s.StartAt.Equal(wantStart), "cycle %d start", s.Cycle)
	}
	assert.Len(t, fx.schedules.days, 40)

	// Re-running confirmation changes nothing.
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))
	assert.Len(t, fx.schedules.schedules, 5)
	assert.Len(t, fx.schedules.days, 40)
}

func TestTickReleasesEverythingDue(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	confirmedAt := time.Now().UTC().AddDate(0, 0, -60)
	p := fx.confirmedPurchase(t, "pur_1", "u1", "1000", confirmedAt)
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	res, err := fx.uc.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 40, res.Processed)
	assert.Equal(t, 40, res.Released)
	assert.Equal(t, 0, res.Failed)

	// Cashback cycle pays back the principal; four standard cycles each pay
	// principal * 0.125 * 8 = principal. Five principals in total.
	want := decimal.RequireFromString("5000")
	assert.True(t, res.TotalAmount.Equal(want), "total: got %s want %s", res.TotalAmount, want)

	balance, err := fx.ledger.LatestConfirmedBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(want))

	got, err := fx.purchases.GetByID(ctx, "pur_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseCompleted, got.Status)
}

func TestDuplicateTickReleasesNothing(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	p := fx.confirmedPurchase(t, "pur_1", "u1", "1000", time.Now().UTC().AddDate(0, 0, -60))
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	first, err := fx.uc.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 40, first.Released)

	second, err := fx.uc.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.True(t, second.TotalAmount.IsZero())

	balance, err := fx.ledger.LatestConfirmedBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("5000")), "no double pay")
}

func TestTickIgnoresFutureDays(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	now := time.Now().UTC()
	p := fx.confirmedPurchase(t, "pur_1", "u1", "1000", now)
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	// First accrual is due one full day after confirmation.
	res, err := fx.uc.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	res, err = fx.uc.Tick(ctx, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)
}

func TestFailedDayRetriedThenParked(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	now := time.Now().UTC()
	p := fx.confirmedPurchase(t, "pur_1", "u1", "1000", now.AddDate(0, 0, -2))
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	// Break the posting for day 1 of cycle 1.
	fx.ledger.failKeys[domain.BenefitKey("pur_1", 1, 1)] = true

	for i := 0; i < 3; i++ {
		res, err := fx.uc.Tick(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed, "tick %d", i)
	}

	// Retry budget exhausted: the day is parked, not retried forever.
	res, err := fx.uc.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	var parked *domain.BenefitDay
	for _, d := range fx.schedules.days {
		if d.Cycle == 1 && d.DayIndex == 1 {
			parked = d
		}
	}
	require.NotNil(t, parked)
	assert.Equal(t, domain.BenefitDayFailed, parked.Status)
	assert.Equal(t, 3, parked.Attempts)
	require.NotNil(t, parked.LastError)
}

func TestPausedPurchaseFrozen(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	now := time.Now().UTC()
	p := fx.confirmedPurchase(t, "pur_1", "u1", "1000", now.AddDate(0, 0, -5))
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	require.NoError(t, fx.uc.Pause(ctx, "pur_1"))

	res, err := fx.uc.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed, "paused licenses accrue nothing")

	require.NoError(t, fx.uc.Resume(ctx, "pur_1"))

	res, err = fx.uc.Tick(ctx, now)
	require.NoError(t, err)
	assert.Greater(t, res.Released, 0, "resume restores accrual")
}

func TestResumeShiftsOnlyScheduledDays(t *testing.T) {
	fx := newBenefitFixture()
	ctx := context.Background()
	now := time.Now().UTC()
	p := fx.confirmedPurchase(t, "pur_1", "u1", "1000", now.AddDate(0, 0, -3))
	require.NoError(t, fx.uc.OnPurchaseConfirmed(ctx, p))

	// Release what is currently due, then pause.
	first, err := fx.uc.Tick(ctx, now)
	require.NoError(t, err)
	require.Greater(t, first.Released, 0)

	releasedBefore := map[string]time.Time{}
	scheduledBefore := map[string]time.Time{}
	for id, d := range fx.schedules.days {
		if d.Status == domain.BenefitDayReleased {
			releasedBefore[id] = d.DueAt
		} else if d.Status == domain.BenefitDayScheduled {
			scheduledBefore[id] = d.DueAt
		}
	}

	require.NoError(t, fx.uc.Pause(ctx, "pur_1"))
	fx.purchases.purchases["pur_1"].PausedAt = ptrTime(now.Add(-2 * time.Hour))
	require.NoError(t, fx.uc.Resume(ctx, "pur_1"))

	for id, d := range fx.schedules.days {
		if before, ok := releasedBefore[id]; ok {
			assert.True(t, d.DueAt.Equal(before), "released day %s must not move", id)
		}
		if before, ok := scheduledBefore[id]; ok {
			assert.True(t, d.DueAt.After(before), "scheduled day %s must shift forward", id)
		}
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
