package models

import "github.com/punchamoorthee/refledger/internal/domain"

// RegisterRequest is the sign-up payload. ReferralCode is optional.
type RegisterRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	PhoneNumber  string `json:"phone_number" validate:"required,min=8,max=20"`
	Email        string `json:"email" validate:"omitempty,email"`
	Password     string `json:"password" validate:"required,min=6,max=72"`
	ReferralCode string `json:"referral_code" validate:"omitempty,alphanum,max=16"`
}

type LoginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *domain.User `json:"user"`
}

// PurchaseRequest is a buyer's payment claim. Amount is in minor units.
type PurchaseRequest struct {
	ProductID    string `json:"product_id" validate:"required,max=64"`
	ProductName  string `json:"product_name" validate:"required,max=200"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	PaymentProof string `json:"payment_proof" validate:"omitempty,max=2048"`
}

type WithdrawalRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	BankName      string `json:"bank_name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,max=34"`
	AccountName   string `json:"account_name" validate:"required,max=100"`
}

func (r WithdrawalRequest) Bank() domain.BankDetails {
	return domain.BankDetails{BankName: r.BankName, AccountNumber: r.AccountNumber, AccountName: r.AccountName}
}

type UserList struct {
	Users []domain.User `json:"users"`
	Total int64         `json:"total"`
	Skip  int           `json:"skip"`
	Limit int           `json:"limit"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
