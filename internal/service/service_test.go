package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/refledger/internal/auth"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/punchamoorthee/refledger/internal/store/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var phoneSeq atomic.Int64

type fixture struct {
	svc   *Service
	store store.Store
	admin *domain.User
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	svc := New(st, auth.NewService("test-secret", time.Hour), nil, zap.NewNop(), opts)
	svc.retryWait = time.Millisecond

	f := &fixture{svc: svc, store: st}
	f.admin = f.register(t, "Admin", "", domain.RoleAdmin)
	return f
}

func (f *fixture) register(t *testing.T, name, code string, role domain.Role) *domain.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Name:         name,
		PhoneNumber:  fmt.Sprintf("0812%08d", phoneSeq.Add(1)),
		Password:     "password123",
		ReferralCode: code,
		Role:         role,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) purchase(t *testing.T, buyer *domain.User, amount int64) *domain.Purchase {
	t.Helper()
	p, err := f.svc.CreatePurchase(context.Background(), buyer.ID, PurchaseInput{
		ProductID:   "coaching-30",
		ProductName: "30 day coaching",
		Amount:      amount,
	})
	require.NoError(t, err)
	return p
}

// earn gives referrer one approved commission entry per amount, oldest first.
func (f *fixture) earn(t *testing.T, referrer *domain.User, amounts ...int64) []*domain.CommissionEntry {
	t.Helper()
	ctx := context.Background()
	buyer := f.register(t, "Buyer", referrer.ReferralCode, domain.RoleUser)

	var out []*domain.CommissionEntry
	for _, amount := range amounts {
		p := f.purchase(t, buyer, amount*10)
		res, err := f.svc.Verify(ctx, p.ID, true, f.admin.ID)
		require.NoError(t, err)
		require.NotNil(t, res.Commission)
		require.Equal(t, amount, res.Commission.Amount)

		c := res.Commission
		if c.Status == domain.CommissionPending {
			c, err = f.svc.ApproveCommission(ctx, c.ID, f.admin.ID)
			require.NoError(t, err)
		}
		out = append(out, c)
	}
	return out
}

func (f *fixture) overview(t *testing.T, userID string) *domain.Overview {
	t.Helper()
	o, err := f.svc.Overview(context.Background(), userID)
	require.NoError(t, err)
	return o
}

func bank() domain.BankDetails {
	return domain.BankDetails{BankName: "BCA", AccountNumber: "1234567890", AccountName: "Rina"}
}

// flakyStore fails the first n transactions with a serialization conflict.
type flakyStore struct {
	store.Store
	failures atomic.Int64
	calls    atomic.Int64
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return fmt.Errorf("tx commit failed: %w", store.ErrConflict)
	}
	return f.Store.WithTx(ctx, fn)
}

// hookStore hands fn a wrapped Queries so tests can fail single operations
// inside an otherwise real transaction.
type hookStore struct {
	store.Store
	wrap func(store.Queries) store.Queries
}

func (h *hookStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return h.Store.WithTx(ctx, func(q store.Queries) error {
		return fn(h.wrap(q))
	})
}
