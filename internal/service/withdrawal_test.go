package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectEntries(t *testing.T) {
	open := []domain.CommissionEntry{{ID: "a", Amount: 30000}, {ID: "b", Amount: 20000}, {ID: "c", Amount: 25000}}

	ids, err := selectEntries(open, 50000, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = selectEntries(open, 60000, true)
	assert.ErrorIs(t, err, domain.ErrAmountNotCoverable)

	ids, err = selectEntries(open, 60000, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	_, err = selectEntries(open, 75001, false)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = selectEntries(nil, 50000, false)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestScenario_WithdrawTwoEntries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	entries := f.earn(t, r, 30000, 20000)

	w, replay, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
	require.NoError(t, err)
	assert.False(t, replay)
	assert.Equal(t, domain.WithdrawalRequested, w.Status)

	o := f.overview(t, r.ID)
	assert.Zero(t, o.ApprovedAvailable)
	assert.EqualValues(t, 50000, o.ReservedCommission)

	decided, err := f.svc.DecideWithdrawal(ctx, w.ID, true, f.admin.ID, "transferred")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, decided.Status)
	assert.Equal(t, "transferred", decided.AdminNote)

	listed, err := f.svc.ListUserCommissions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for i, c := range listed {
		assert.Equal(t, entries[i].ID, c.ID)
		assert.Equal(t, domain.CommissionWithdrawn, c.Status)
		assert.Equal(t, w.ID, c.WithdrawalID)
	}

	o = f.overview(t, r.ID)
	assert.Zero(t, o.ApprovedAvailable)
	assert.Zero(t, o.ReservedCommission)
	assert.EqualValues(t, 50000, o.TotalWithdrawn)

	_, _, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestRequestWithdrawal_BelowMinimumCreatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	f.earn(t, r, 60000)

	_, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 49999, Bank: bank()})
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	list, err := f.svc.ListUserWithdrawals(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.EqualValues(t, 60000, f.overview(t, r.ID).ApprovedAvailable)
}

func TestRequestWithdrawal_PendingCommissionIsNotAvailable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	u := f.register(t, "Buyer", r.ReferralCode, domain.RoleUser)
	p := f.purchase(t, u, 1000000)
	_, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
	require.NoError(t, err)

	_, _, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 100000, Bank: bank()})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestRequestWithdrawal_ConcurrentSameFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	f.earn(t, r, 40000)
	f.svc.opts.WithdrawalMinimum = 10000

	const callers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		refused  int
		unexpect []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 40000, Bank: bank()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrConcurrencyConflict):
				refused++
			default:
				unexpect = append(unexpect, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unexpect)
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, refused)

	list, err := f.svc.ListUserWithdrawals(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRequestWithdrawal_Coverage(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		f := newFixture(t, nil)
		r := f.register(t, "Referrer", "", domain.RoleUser)
		f.earn(t, r, 30000, 30000)

		_, _, err := f.svc.RequestWithdrawal(context.Background(), WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
		assert.ErrorIs(t, err, domain.ErrAmountNotCoverable)
		assert.EqualValues(t, 60000, f.overview(t, r.ID).ApprovedAvailable)
	})

	t.Run("over", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.ExactCoverage = false })
		ctx := context.Background()
		r := f.register(t, "Referrer", "", domain.RoleUser)
		f.earn(t, r, 30000, 30000, 30000)

		w, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
		require.NoError(t, err)
		o := f.overview(t, r.ID)
		assert.EqualValues(t, 60000, o.ReservedCommission)
		assert.EqualValues(t, 30000, o.ApprovedAvailable)

		_, err = f.svc.DecideWithdrawal(ctx, w.ID, true, f.admin.ID, "")
		require.NoError(t, err)
		o = f.overview(t, r.ID)
		assert.EqualValues(t, 50000, o.TotalWithdrawn)
		assert.EqualValues(t, 10000, o.SettledSurplus)
		assert.EqualValues(t, 30000, o.ApprovedAvailable)
		assert.EqualValues(t, 90000, o.ApprovedAvailable+o.ReservedCommission+o.TotalWithdrawn+o.SettledSurplus)
	})
}

func TestRequestWithdrawal_Idempotency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	f.earn(t, r, 50000, 50000)

	in := WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank(), IdempotencyKey: "req-1"}
	first, replay, err := f.svc.RequestWithdrawal(ctx, in)
	require.NoError(t, err)
	assert.False(t, replay)

	again, replay, err := f.svc.RequestWithdrawal(ctx, in)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, first.ID, again.ID)
	assert.EqualValues(t, 50000, f.overview(t, r.ID).ApprovedAvailable)

	in.Amount = 100000
	_, _, err = f.svc.RequestWithdrawal(ctx, in)
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
}

func TestRequestWithdrawal_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)

	_, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "missing", Amount: 50000, Bank: bank()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.earn(t, r, 50000)
	_, err = f.svc.SetUserActive(ctx, r.ID, false)
	require.NoError(t, err)
	_, _, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
	assert.ErrorIs(t, err, domain.ErrUserInactive)
}

func TestDecideWithdrawal_RejectReleasesFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	f.earn(t, r, 50000)

	w, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
	require.NoError(t, err)

	rejected, err := f.svc.DecideWithdrawal(ctx, w.ID, false, f.admin.ID, "account name mismatch")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "account name mismatch", rejected.AdminNote)

	o := f.overview(t, r.ID)
	assert.EqualValues(t, 50000, o.ApprovedAvailable)
	assert.Zero(t, o.ReservedCommission)
	assert.Zero(t, o.TotalWithdrawn)

	for _, approve := range []bool{true, false} {
		_, err = f.svc.DecideWithdrawal(ctx, w.ID, approve, f.admin.ID, "")
		assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	}
	assert.EqualValues(t, 50000, f.overview(t, r.ID).ApprovedAvailable)

	_, err = f.svc.DecideWithdrawal(ctx, "missing", true, f.admin.ID, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Released funds back a new request.
	_, _, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
	assert.NoError(t, err)
}

func TestCancelWithdrawal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	other := f.register(t, "Other", "", domain.RoleUser)
	f.earn(t, r, 50000)

	w, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
	require.NoError(t, err)

	_, err = f.svc.CancelWithdrawal(ctx, w.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := f.svc.CancelWithdrawal(ctx, w.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCancelled, cancelled.Status)
	assert.EqualValues(t, 50000, f.overview(t, r.ID).ApprovedAvailable)

	_, err = f.svc.CancelWithdrawal(ctx, w.ID, r.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	_, err = f.svc.DecideWithdrawal(ctx, w.ID, true, f.admin.ID, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
}

// Outstanding plus paid withdrawals never exceed approved-or-consumed commission.
func TestOverviewBalancesAddUp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.register(t, "Referrer", "", domain.RoleUser)
	f.earn(t, r, 50000, 50000, 50000, 50000)

	var ids []string
	for i := 0; i < 6; i++ {
		w, _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 50000, Bank: bank()})
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
			continue
		}
		ids = append(ids, w.ID)
	}
	require.Len(t, ids, 4)

	_, err := f.svc.DecideWithdrawal(ctx, ids[0], true, f.admin.ID, "")
	require.NoError(t, err)
	_, err = f.svc.DecideWithdrawal(ctx, ids[1], false, f.admin.ID, "")
	require.NoError(t, err)
	_, err = f.svc.CancelWithdrawal(ctx, ids[2], r.ID)
	require.NoError(t, err)
	_, _, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: r.ID, Amount: 100000, Bank: bank()})
	require.NoError(t, err)

	list, err := f.svc.ListUserWithdrawals(ctx, r.ID)
	require.NoError(t, err)
	var committed int64
	for _, w := range list {
		if w.Status == domain.WithdrawalApproved || w.Status == domain.WithdrawalRequested {
			committed += w.Amount
		}
	}
	o := f.overview(t, r.ID)
	assert.LessOrEqual(t, committed, o.ApprovedAvailable+o.ReservedCommission+o.TotalWithdrawn)
	assert.EqualValues(t, 200000, o.ApprovedAvailable+o.ReservedCommission+o.TotalWithdrawn+o.SettledSurplus)
	assert.Zero(t, o.SettledSurplus)
	assert.Zero(t, o.ApprovedAvailable)

	requested, err := f.svc.ListWithdrawals(ctx, domain.WithdrawalRequested, 50)
	require.NoError(t, err)
	assert.Len(t, requested, 2)
}
