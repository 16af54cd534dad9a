// Package storetest holds a conformance suite that every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the store contract. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("UserRoundTrip", func(t *testing.T) { testUserRoundTrip(t, open(t)) })
	t.Run("DuplicatePhone", func(t *testing.T) { testDuplicatePhone(t, open(t)) })
	t.Run("SetReferrerOnce", func(t *testing.T) { testSetReferrerOnce(t, open(t)) })
	t.Run("DecidePurchaseOnce", func(t *testing.T) { testDecidePurchaseOnce(t, open(t)) })
	t.Run("CommissionUnique", func(t *testing.T) { testCommissionUnique(t, open(t)) })
	t.Run("ReserveConsumeRelease", func(t *testing.T) { testReserveConsumeRelease(t, open(t)) })
	t.Run("WithdrawalByKey", func(t *testing.T) { testWithdrawalByKey(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, open(t)) })
	t.Run("ListUsersPaging", func(t *testing.T) { testListUsersPaging(t, open(t)) })
}

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// NewUser builds an unsaved active user with unique phone and referral code.
func NewUser(name string) *domain.User {
	id := uuid.NewString()
	return &domain.User{
		ID:           id,
		Name:         name,
		PhoneNumber:  "08" + id[:10],
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		ReferralCode: id[:8],
		IsActive:     true,
		CreatedAt:    testNow,
	}
}

func mustTx(t *testing.T, s store.Store, fn func(q store.Queries) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func seedUser(t *testing.T, s store.Store, u *domain.User) {
	t.Helper()
	mustTx(t, s, func(q store.Queries) error { return q.CreateUser(context.Background(), u) })
}

func seedPurchase(t *testing.T, s store.Store, userID string, amount int64) *domain.Purchase {
	t.Helper()
	p := &domain.Purchase{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProductID:   "coaching-30",
		ProductName: "30 day coaching",
		Amount:      amount,
		Status:      domain.PurchasePending,
		CreatedAt:   testNow,
	}
	mustTx(t, s, func(q store.Queries) error { return q.CreatePurchase(context.Background(), p) })
	return p
}

func seedApproved(t *testing.T, s store.Store, referrer, buyer string, amount int64, offset time.Duration) *domain.CommissionEntry {
	t.Helper()
	p := seedPurchase(t, s, buyer, amount*10)
	at := testNow.Add(offset)
	c := &domain.CommissionEntry{
		ID:         uuid.NewString(),
		ReferrerID: referrer,
		PurchaseID: p.ID,
		BuyerID:    buyer,
		Amount:     amount,
		Rate:       "0.1",
		Status:     domain.CommissionApproved,
		CreatedAt:  at,
		ApprovedAt: &at,
	}
	mustTx(t, s, func(q store.Queries) error {
		_, err := q.InsertCommission(context.Background(), c)
		return err
	})
	return c
}

func testUserRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("Ayu")
	u.Email = "ayu@example.com"
	seedUser(t, s, u)

	mustTx(t, s, func(q store.Queries) error {
		got, err := q.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Name, got.Name)
		assert.Equal(t, u.Email, got.Email)
		assert.Equal(t, u.ReferralCode, got.ReferralCode)
		assert.True(t, got.IsActive)
		assert.True(t, got.CreatedAt.Equal(u.CreatedAt))

		byPhone, err := q.GetUserByPhone(ctx, u.PhoneNumber)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byPhone.ID)

		byCode, err := q.GetUserByReferralCode(ctx, u.ReferralCode)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byCode.ID)

		_, err = q.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
}

func testDuplicatePhone(t *testing.T, s store.Store) {
	u := NewUser("first")
	seedUser(t, s, u)

	dup := NewUser("second")
	dup.PhoneNumber = u.PhoneNumber
	err := s.WithTx(context.Background(), func(q store.Queries) error {
		return q.CreateUser(context.Background(), dup)
	})
	assert.ErrorIs(t, err, store.ErrDuplicatePhone)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	sameCode := NewUser("third")
	sameCode.ReferralCode = u.ReferralCode
	err = s.WithTx(context.Background(), func(q store.Queries) error {
		return q.CreateUser(context.Background(), sameCode)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NotErrorIs(t, err, store.ErrDuplicatePhone)
}

func testSetReferrerOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	referrer := NewUser("referrer")
	other := NewUser("other")
	buyer := NewUser("buyer")
	seedUser(t, s, referrer)
	seedUser(t, s, other)
	seedUser(t, s, buyer)

	mustTx(t, s, func(q store.Queries) error {
		ok, err := q.SetReferrer(ctx, buyer.ID, referrer.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.SetReferrer(ctx, buyer.ID, other.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := q.GetUser(ctx, buyer.ID)
		require.NoError(t, err)
		assert.Equal(t, referrer.ID, got.ReferredBy)

		n, err := q.CountReferrals(ctx, referrer.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		return nil
	})
}

func testDecidePurchaseOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	buyer := NewUser("buyer")
	seedUser(t, s, buyer)
	admin := NewUser("admin")
	seedUser(t, s, admin)
	p := seedPurchase(t, s, buyer.ID, 450000)

	mustTx(t, s, func(q store.Queries) error {
		return q.DecidePurchase(ctx, p.ID, domain.PurchaseVerified, admin.ID, testNow)
	})

	err := s.WithTx(ctx, func(q store.Queries) error {
		return q.DecidePurchase(ctx, p.ID, domain.PurchaseRejected, admin.ID, testNow)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	mustTx(t, s, func(q store.Queries) error {
		got, err := q.GetPurchase(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseVerified, got.Status)
		assert.Equal(t, admin.ID, got.DecidedBy)
		require.NotNil(t, got.DecidedAt)

		pending, err := q.ListPurchasesByStatus(ctx, domain.PurchasePending, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		spent, err := q.SumVerifiedPurchases(ctx, buyer.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 450000, spent)
		return nil
	})
}

func testCommissionUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	referrer := NewUser("referrer")
	buyer := NewUser("buyer")
	seedUser(t, s, referrer)
	seedUser(t, s, buyer)
	p := seedPurchase(t, s, buyer.ID, 450000)

	entry := func() *domain.CommissionEntry {
		return &domain.CommissionEntry{
			ID:         uuid.NewString(),
			ReferrerID: referrer.ID,
			PurchaseID: p.ID,
			BuyerID:    buyer.ID,
			Amount:     45000,
			Rate:       "0.1",
			Status:     domain.CommissionPending,
			CreatedAt:  testNow,
		}
	}

	first := entry()
	mustTx(t, s, func(q store.Queries) error {
		inserted, err := q.InsertCommission(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = q.InsertCommission(ctx, entry())
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := q.GetCommissionByPurchase(ctx, referrer.ID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		totals, err := q.SumCommissions(ctx, referrer.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 45000, totals.Pending)
		assert.Zero(t, totals.Approved)

		require.NoError(t, q.ApproveCommission(ctx, first.ID, testNow))
		assert.ErrorIs(t, q.ApproveCommission(ctx, first.ID, testNow), store.ErrConflict)

		totals, err = q.SumCommissions(ctx, referrer.ID)
		require.NoError(t, err)
		assert.Zero(t, totals.Pending)
		assert.EqualValues(t, 45000, totals.Approved)
		assert.EqualValues(t, 45000, totals.Available())
		return nil
	})
}

func testReserveConsumeRelease(t *testing.T, s store.Store) {
	ctx := context.Background()
	referrer := NewUser("referrer")
	buyer := NewUser("buyer")
	seedUser(t, s, referrer)
	seedUser(t, s, buyer)
	c1 := seedApproved(t, s, referrer.ID, buyer.ID, 30000, 0)
	c2 := seedApproved(t, s, referrer.ID, buyer.ID, 20000, time.Minute)
	c3 := seedApproved(t, s, referrer.ID, buyer.ID, 10000, 2*time.Minute)

	newWithdrawal := func(amount int64) *domain.WithdrawalRequest {
		return &domain.WithdrawalRequest{
			ID:        uuid.NewString(),
			UserID:    referrer.ID,
			Amount:    amount,
			Bank:      domain.BankDetails{BankName: "BCA", AccountNumber: "123", AccountName: "Referrer"},
			Status:    domain.WithdrawalRequested,
			CreatedAt: testNow,
		}
	}

	paid := newWithdrawal(50000)
	mustTx(t, s, func(q store.Queries) error {
		open, err := q.ListUnreservedApproved(ctx, referrer.ID)
		require.NoError(t, err)
		require.Len(t, open, 3)
		assert.Equal(t, []string{c1.ID, c2.ID, c3.ID}, []string{open[0].ID, open[1].ID, open[2].ID})

		require.NoError(t, q.CreateWithdrawal(ctx, paid))
		n, err := q.ReserveCommissions(ctx, []string{c1.ID, c2.ID}, paid.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		// Already reserved entries are not linked twice.
		n, err = q.ReserveCommissions(ctx, []string{c1.ID}, paid.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		totals, err := q.SumCommissions(ctx, referrer.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 60000, totals.Approved)
		assert.EqualValues(t, 50000, totals.Reserved)
		assert.EqualValues(t, 10000, totals.Available())
		return nil
	})

	mustTx(t, s, func(q store.Queries) error {
		require.NoError(t, q.DecideWithdrawal(ctx, paid.ID, domain.WithdrawalApproved, "", "paid", testNow))
		n, err := q.ConsumeCommissions(ctx, paid.ID, testNow)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		assert.ErrorIs(t, q.DecideWithdrawal(ctx, paid.ID, domain.WithdrawalRejected, "", "", testNow), store.ErrConflict)

		got, err := q.GetCommission(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CommissionWithdrawn, got.Status)
		assert.Equal(t, paid.ID, got.WithdrawalID)
		require.NotNil(t, got.WithdrawnAt)
		return nil
	})

	rejected := newWithdrawal(10000)
	mustTx(t, s, func(q store.Queries) error {
		require.NoError(t, q.CreateWithdrawal(ctx, rejected))
		n, err := q.ReserveCommissions(ctx, []string{c3.ID}, rejected.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		require.NoError(t, q.DecideWithdrawal(ctx, rejected.ID, domain.WithdrawalRejected, "", "wrong account", testNow))
		n, err = q.ReleaseCommissions(ctx, rejected.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		totals, err := q.SumCommissions(ctx, referrer.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 10000, totals.Approved)
		assert.Zero(t, totals.Reserved)
		assert.EqualValues(t, 50000, totals.Withdrawn)

		approvedSum, err := q.SumWithdrawals(ctx, referrer.ID, domain.WithdrawalApproved)
		require.NoError(t, err)
		assert.EqualValues(t, 50000, approvedSum)

		got, err := q.GetWithdrawal(ctx, rejected.ID)
		require.NoError(t, err)
		assert.Equal(t, "wrong account", got.AdminNote)
		assert.Equal(t, "BCA", got.Bank.BankName)

		mine, err := q.ListWithdrawalsByUser(ctx, referrer.ID)
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		requested, err := q.ListWithdrawalsByStatus(ctx, domain.WithdrawalRequested, 10)
		require.NoError(t, err)
		assert.Empty(t, requested)
		return nil
	})
}

func testWithdrawalByKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("keyed")
	seedUser(t, s, u)

	w := &domain.WithdrawalRequest{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		Amount:         50000,
		Status:         domain.WithdrawalRequested,
		IdempotencyKey: "key-1",
		CreatedAt:      testNow,
	}
	mustTx(t, s, func(q store.Queries) error { return q.CreateWithdrawal(ctx, w) })

	mustTx(t, s, func(q store.Queries) error {
		got, err := q.GetWithdrawalByKey(ctx, u.ID, "key-1")
		require.NoError(t, err)
		assert.Equal(t, w.ID, got.ID)

		_, err = q.GetWithdrawalByKey(ctx, u.ID, "key-2")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})

	again := *w
	again.ID = uuid.NewString()
	err := s.WithTx(ctx, func(q store.Queries) error { return q.CreateWithdrawal(ctx, &again) })
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testRollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("ghost")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q store.Queries) error {
		require.NoError(t, q.CreateUser(ctx, u))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	mustTx(t, s, func(q store.Queries) error {
		_, err := q.GetUser(ctx, u.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
}

func testListUsersPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		u := NewUser("user")
		u.CreatedAt = testNow.Add(time.Duration(i) * time.Second)
		seedUser(t, s, u)
	}

	mustTx(t, s, func(q store.Queries) error {
		page, total, err := q.ListUsers(ctx, 0, 2)
		require.NoError(t, err)
		assert.EqualValues(t, 5, total)
		require.Len(t, page, 2)
		assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

		rest, _, err := q.ListUsers(ctx, 4, 10)
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		require.NoError(t, q.SetUserActive(ctx, page[0].ID, false))
		got, err := q.GetUser(ctx, page[0].ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		assert.ErrorIs(t, q.SetUserActive(ctx, uuid.NewString(), false), store.ErrNotFound)
		return nil
	})
}
