package domain

import "time"

// Role is the authorization level of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "pending"
	PurchaseVerified PurchaseStatus = "verified"
	PurchaseRejected PurchaseStatus = "rejected"
)

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionApproved  CommissionStatus = "approved"
	CommissionWithdrawn CommissionStatus = "withdrawn"
)

type WithdrawalStatus string

const (
	WithdrawalRequested WithdrawalStatus = "requested"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

// User is an account holder. ReferralCode and ReferredBy never change after registration.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	ReferralCode string    `json:"referral_code"`
	ReferredBy   string    `json:"referred_by,omitempty"`
	Attributed   bool      `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Purchase is a buyer's claim of payment awaiting admin verification.
// It leaves PurchasePending exactly once.
type Purchase struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ProductID    string         `json:"product_id"`
	ProductName  string         `json:"product_name"`
	Amount       int64          `json:"amount"`
	PaymentProof string         `json:"payment_proof,omitempty"`
	Status       PurchaseStatus `json:"status"`
	DecidedBy    string         `json:"decided_by,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CommissionEntry credits a referrer for one verified purchase.
// At most one entry exists per (ReferrerID, PurchaseID).
// WithdrawalID is set while the entry backs a requested or approved withdrawal.
type CommissionEntry struct {
	ID           string           `json:"id"`
	ReferrerID   string           `json:"referrer_id"`
	PurchaseID   string           `json:"purchase_id"`
	BuyerID      string           `json:"buyer_id"`
	Amount       int64            `json:"amount"`
	Rate         string           `json:"rate"`
	Status       CommissionStatus `json:"status"`
	WithdrawalID string           `json:"withdrawal_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	ApprovedAt   *time.Time       `json:"approved_at,omitempty"`
	WithdrawnAt  *time.Time       `json:"withdrawn_at,omitempty"`
}

// BankDetails identifies the payout destination of a withdrawal.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// WithdrawalRequest asks an admin to pay out approved commission.
type WithdrawalRequest struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Amount         int64            `json:"amount"`
	Bank           BankDetails      `json:"bank"`
	Status         WithdrawalStatus `json:"status"`
	AdminNote      string           `json:"admin_note,omitempty"`
	DecidedBy      string           `json:"decided_by,omitempty"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
	IdempotencyKey string           `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}

// CommissionTotals aggregates a referrer's entries by state.
// Reserved is the approved amount currently backing outstanding requests.
type CommissionTotals struct {
	Pending   int64
	Approved  int64
	Reserved  int64
	Withdrawn int64
}

// Available is approved commission that no withdrawal has claimed.
func (t CommissionTotals) Available() int64 {
	return t.Approved - t.Reserved
}

// Overview is the dashboard projection of a user's affiliate finances.
type Overview struct {
	UserID             string `json:"user_id"`
	PendingCommission  int64  `json:"pending_commission"`
	ApprovedAvailable  int64  `json:"approved_available"`
	ReservedCommission int64  `json:"reserved_commission"`
	TotalWithdrawn     int64  `json:"total_withdrawn"`
	// SettledSurplus is commission consumed by approved withdrawals beyond
	// their requested amounts.
	SettledSurplus     int64  `json:"settled_surplus"`
	TotalReferrals     int64  `json:"total_referrals"`
	TotalSpent         int64  `json:"total_spent"`
}
