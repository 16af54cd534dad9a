package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionAmount(t *testing.T) {
	tests := []struct {
		amount int64
		rate   string
		want   int64
	}{
		{450000, "0.10", 45000},
		{99, "0.10", 9},
		{5, "0.10", 0},
		{333, "0.15", 49},
		{0, "0.10", 0},
	}
	for _, tt := range tests {
		got := CommissionAmount(tt.amount, decimal.RequireFromString(tt.rate))
		assert.Equal(t, tt.want, got, "%d × %s", tt.amount, tt.rate)
	}
}

func TestScenario_VerifiedPurchaseCreditsReferrer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	before := f.overview(t, r.ID).PendingCommission

	p := f.purchase(t, u, 450000)
	res, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PurchaseVerified, res.Purchase.Status)
	assert.Equal(t, f.admin.ID, res.Purchase.DecidedBy)
	require.NotNil(t, res.Commission)
	assert.Equal(t, r.ID, res.Commission.ReferrerID)
	assert.Equal(t, u.ID, res.Commission.BuyerID)
	assert.EqualValues(t, 45000, res.Commission.Amount)
	assert.Equal(t, domain.CommissionPending, res.Commission.Status)
	assert.Equal(t, "0.1", res.Commission.Rate)

	o := f.overview(t, r.ID)
	assert.EqualValues(t, before+45000, o.PendingCommission)
	assert.Zero(t, o.ApprovedAvailable)
	assert.EqualValues(t, 1, o.TotalReferrals)

	assert.EqualValues(t, 450000, f.overview(t, u.ID).TotalSpent)

	entries, err := f.svc.ListUserCommissions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVerify_SecondDecisionIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 100000)

	_, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)

	for _, approve := range []bool{true, false} {
		_, err = f.svc.Verify(ctx, p.ID, approve, f.admin.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	}

	pending, err := f.svc.ListPurchases(ctx, domain.PurchasePending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries, err := f.svc.ListUserCommissions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.EqualValues(t, 10000, f.overview(t, r.ID).PendingCommission)
}

func TestVerify_ConcurrentCreatesOneEntry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 450000)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		decided  int
		unexpect []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyDecided), errors.Is(err, domain.ErrConcurrencyConflict):
				decided++
			default:
				unexpect = append(unexpect, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unexpect)
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, decided)

	entries, err := f.svc.ListUserCommissions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVerify_RejectHasNoSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 450000)

	res, err := f.svc.Verify(ctx, p.ID, false, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseRejected, res.Purchase.Status)
	assert.Nil(t, res.Commission)

	assert.Zero(t, f.overview(t, r.ID).PendingCommission)
	assert.Zero(t, f.overview(t, u.ID).TotalSpent)

	_, err = f.svc.RecordCommission(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestVerify_NoReferrer(t *testing.T) {
	f := newFixture(t, nil)
	u := f.register(t, "Solo", "", domain.RoleUser)
	p := f.purchase(t, u, 450000)

	res, err := f.svc.Verify(context.Background(), p.ID, true, f.admin.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Commission)
}

func TestVerify_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Verify(context.Background(), "missing", true, f.admin.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordCommission_Replay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 200000)

	res, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := f.svc.RecordCommission(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, res.Commission.ID, again.ID)
	}
	assert.EqualValues(t, 20000, f.overview(t, r.ID).PendingCommission)
}

func TestAutoApproveMode(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AutoApprove = true })
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 450000)

	res, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Commission)
	assert.Equal(t, domain.CommissionApproved, res.Commission.Status)
	assert.NotNil(t, res.Commission.ApprovedAt)

	o := f.overview(t, r.ID)
	assert.Zero(t, o.PendingCommission)
	assert.EqualValues(t, 45000, o.ApprovedAvailable)
}

func TestApproveCommission(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 450000)
	res, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)

	c, err := f.svc.ApproveCommission(ctx, res.Commission.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionApproved, c.Status)

	_, err = f.svc.ApproveCommission(ctx, res.Commission.ID, f.admin.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	_, err = f.svc.ApproveCommission(ctx, "missing", f.admin.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	o := f.overview(t, r.ID)
	assert.Zero(t, o.PendingCommission)
	assert.EqualValues(t, 45000, o.ApprovedAvailable)
}

func TestCreatePurchase_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.register(t, "Buyer", "", domain.RoleUser)

	_, err := f.svc.CreatePurchase(ctx, u.ID, PurchaseInput{ProductID: "p", Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.CreatePurchase(ctx, "missing", PurchaseInput{ProductID: "p", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.SetUserActive(ctx, u.ID, false)
	require.NoError(t, err)
	_, err = f.svc.CreatePurchase(ctx, u.ID, PurchaseInput{ProductID: "p", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrUserInactive)
}

func TestInTx_RetriesConflicts(t *testing.T) {
	f := newFixture(t, nil)
	flaky := &flakyStore{Store: f.store}
	flaky.failures.Store(2)
	f.svc.store = flaky

	u := f.register(t, "Retried", "", domain.RoleUser)
	assert.NotEmpty(t, u.ID)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

func TestInTx_SurfacesConflictAfterRetries(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ConflictRetries = 2 })
	flaky := &flakyStore{Store: f.store}
	flaky.failures.Store(100)
	f.svc.store = flaky

	err := f.svc.inTx(context.Background(), "test", func(q store.Queries) error { return nil })
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

type failingInsertCommission struct {
	store.Queries
}

func (failingInsertCommission) InsertCommission(context.Context, *domain.CommissionEntry) (bool, error) {
	return false, errors.New("insert commission: disk I/O error")
}

func TestVerify_CommissionFailureLeavesPurchasePending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 450000)

	f.svc.store = &hookStore{Store: f.store, wrap: func(q store.Queries) store.Queries {
		return failingInsertCommission{q}
	}}
	_, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.Error(t, err)
	f.svc.store = f.store

	pending, err := f.svc.ListPurchases(ctx, domain.PurchasePending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ID)

	entries, err := f.svc.ListUserCommissions(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, f.overview(t, u.ID).TotalSpent)

	res, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseVerified, res.Purchase.Status)
	require.NotNil(t, res.Commission)
	assert.EqualValues(t, 45000, res.Commission.Amount)
}
