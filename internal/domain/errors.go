package domain

import "errors"

// Business-rule violations. All are caller-visible; only ErrConcurrencyConflict is retried.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyDecided      = errors.New("already decided")
	ErrInsufficientBalance = errors.New("insufficient commission balance")
	ErrBelowMinimum        = errors.New("amount below withdrawal minimum")
	ErrAmountNotCoverable  = errors.New("amount does not match a whole number of commission entries")
	ErrUnknownReferralCode = errors.New("unknown referral code")
	ErrSelfReferral        = errors.New("user cannot refer themselves")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different payload")
	ErrInvalidCredentials  = errors.New("invalid phone number or password")
	ErrPhoneTaken          = errors.New("phone number already registered")
	ErrUserInactive        = errors.New("account is deactivated")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
)
