// Package store defines the ledger persistence contract shared by the
// Postgres and SQLite backends.
//
// The store owns users, purchases, commission entries and withdrawal
// requests. Callers never mutate rows outside WithTx, and every status change
// is a conditional update on the current status so that a concurrent loser
// observes ErrConflict instead of overwriting a decided row.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("concurrent modification")
	ErrDuplicate = errors.New("duplicate key")

	// ErrDuplicatePhone is the ErrDuplicate CreateUser returns for a taken phone number.
	ErrDuplicatePhone = fmt.Errorf("%w: phone number", ErrDuplicate)
)

// Store is the single source of truth for ledger state.
type Store interface {
	// WithTx runs fn inside one transaction. A non-nil return from fn rolls back.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Queries are the row-level operations available inside a transaction.
// Lock* variants take a write lock on the row until the transaction ends.
type Queries interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	LockUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error)
	// SetReferrer binds referrerID (may be empty) once. Returns false if the user was already attributed.
	SetReferrer(ctx context.Context, userID, referrerID string) (bool, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	ListUsers(ctx context.Context, offset, limit int) ([]domain.User, int64, error)
	CountReferrals(ctx context.Context, referrerID string) (int64, error)

	CreatePurchase(ctx context.Context, p *domain.Purchase) error
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	LockPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	// DecidePurchase moves a purchase out of pending. ErrConflict if it is no longer pending.
	DecidePurchase(ctx context.Context, id string, to domain.PurchaseStatus, adminID string, at time.Time) error
	ListPurchasesByStatus(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error)
	SumVerifiedPurchases(ctx context.Context, userID string) (int64, error)

	// InsertCommission returns false without writing when (referrer, purchase) already exists.
	InsertCommission(ctx context.Context, c *domain.CommissionEntry) (bool, error)
	GetCommission(ctx context.Context, id string) (*domain.CommissionEntry, error)
	GetCommissionByPurchase(ctx context.Context, referrerID, purchaseID string) (*domain.CommissionEntry, error)
	// ApproveCommission moves pending to approved. ErrConflict if it is not pending.
	ApproveCommission(ctx context.Context, id string, at time.Time) error
	// ListCommissions returns a referrer's entries oldest first.
	ListCommissions(ctx context.Context, referrerID string) ([]domain.CommissionEntry, error)
	// ListUnreservedApproved returns approved entries not backing any withdrawal, oldest first.
	ListUnreservedApproved(ctx context.Context, referrerID string) ([]domain.CommissionEntry, error)
	// ReserveCommissions links unreserved approved entries to a withdrawal and returns how many were linked.
	ReserveCommissions(ctx context.Context, ids []string, withdrawalID string) (int64, error)
	ReleaseCommissions(ctx context.Context, withdrawalID string) (int64, error)
	// ConsumeCommissions marks every entry reserved by withdrawalID as withdrawn.
	ConsumeCommissions(ctx context.Context, withdrawalID string, at time.Time) (int64, error)
	SumCommissions(ctx context.Context, referrerID string) (domain.CommissionTotals, error)

	CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	LockWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	GetWithdrawalByKey(ctx context.Context, userID, key string) (*domain.WithdrawalRequest, error)
	// DecideWithdrawal moves a requested withdrawal to a terminal status. ErrConflict if not requested.
	DecideWithdrawal(ctx context.Context, id string, to domain.WithdrawalStatus, adminID, note string, at time.Time) error
	ListWithdrawalsByStatus(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]domain.WithdrawalRequest, error)
	ListWithdrawalsByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error)
	SumWithdrawals(ctx context.Context, userID string, status domain.WithdrawalStatus) (int64, error)
}
