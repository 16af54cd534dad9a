package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

type WithdrawalInput struct {
	UserID         string
	Amount         int64
	Bank           domain.BankDetails
	IdempotencyKey string
}

func (in WithdrawalInput) matches(w *domain.WithdrawalRequest) bool {
	return w.Amount == in.Amount && w.Bank == in.Bank
}

// selectEntries picks whole entries oldest first to back amount. With exact
// coverage the picked entries must sum to amount; otherwise they may exceed it
// by at most the last entry.
func selectEntries(open []domain.CommissionEntry, amount int64, exact bool) ([]string, error) {
	var available int64
	for _, c := range open {
		available += c.Amount
	}
	if amount > available {
		return nil, fmt.Errorf("requested %d, available %d: %w", amount, available, domain.ErrInsufficientBalance)
	}

	var (
		ids []string
		sum int64
	)
	for _, c := range open {
		ids = append(ids, c.ID)
		sum += c.Amount
		if sum >= amount {
			break
		}
	}
	if exact && sum != amount {
		return nil, fmt.Errorf("requested %d, nearest cover %d: %w", amount, sum, domain.ErrAmountNotCoverable)
	}
	return ids, nil
}

// RequestWithdrawal reserves approved commission for a payout. The user row is
// locked for the balance check so concurrent requests serialize. The returned
// bool is true when an earlier request with the same idempotency key was replayed.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*domain.WithdrawalRequest, bool, error) {
	if in.Amount < s.opts.WithdrawalMinimum {
		return nil, false, fmt.Errorf("minimum is %d: %w", s.opts.WithdrawalMinimum, domain.ErrBelowMinimum)
	}
	if strings.TrimSpace(in.Bank.BankName) == "" || strings.TrimSpace(in.Bank.AccountNumber) == "" ||
		strings.TrimSpace(in.Bank.AccountName) == "" {
		return nil, false, fmt.Errorf("bank details required: %w", domain.ErrInvalidInput)
	}

	var (
		out    *domain.WithdrawalRequest
		replay bool
	)
	err := s.inTx(ctx, "request_withdrawal", func(q store.Queries) error {
		replay = false
		u, err := q.LockUser(ctx, in.UserID)
		if err != nil {
			return notFound(err, "user")
		}
		if !u.IsActive {
			return domain.ErrUserInactive
		}

		if in.IdempotencyKey != "" {
			prior, err := q.GetWithdrawalByKey(ctx, u.ID, in.IdempotencyKey)
			switch {
			case err == nil:
				if !in.matches(prior) {
					return domain.ErrIdempotencyMismatch
				}
				out, replay = prior, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		open, err := q.ListUnreservedApproved(ctx, u.ID)
		if err != nil {
			return err
		}
		ids, err := selectEntries(open, in.Amount, s.opts.ExactCoverage)
		if err != nil {
			return err
		}

		w := &domain.WithdrawalRequest{
			ID:             s.newID(),
			UserID:         u.ID,
			Amount:         in.Amount,
			Bank:           in.Bank,
			Status:         domain.WithdrawalRequested,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      s.now(),
		}
		if err := q.CreateWithdrawal(ctx, w); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				// A concurrent request with the same key won; the retry replays it.
				return fmt.Errorf("%w: %v", store.ErrConflict, err)
			}
			return err
		}
		n, err := q.ReserveCommissions(ctx, ids, w.ID)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("reserved %d of %d entries: %w", n, len(ids), store.ErrConflict)
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if replay {
		return out, true, nil
	}

	withdrawalsDecided.WithLabelValues(string(domain.WithdrawalRequested)).Inc()
	s.invalidate(ctx, out.UserID)
	s.log.Info("withdrawal requested",
		zap.String("withdrawal_id", out.ID),
		zap.String("user_id", out.UserID),
		zap.Int64("amount", out.Amount),
	)
	return out, false, nil
}

// DecideWithdrawal approves or rejects a requested withdrawal. Approval
// consumes the reserved entries; rejection releases them.
func (s *Service) DecideWithdrawal(ctx context.Context, withdrawalID string, approve bool, adminID, note string) (*domain.WithdrawalRequest, error) {
	to := domain.WithdrawalRejected
	if approve {
		to = domain.WithdrawalApproved
	}
	w, err := s.closeWithdrawal(ctx, "decide_withdrawal", withdrawalID, to, adminID, note, nil)
	if err != nil {
		return nil, err
	}
	s.log.Info("withdrawal decided",
		zap.String("withdrawal_id", w.ID),
		zap.String("status", string(w.Status)),
		zap.String("admin_id", adminID),
	)
	return w, nil
}

// CancelWithdrawal lets the requester withdraw a request that is still pending review.
func (s *Service) CancelWithdrawal(ctx context.Context, withdrawalID, userID string) (*domain.WithdrawalRequest, error) {
	w, err := s.closeWithdrawal(ctx, "cancel_withdrawal", withdrawalID, domain.WithdrawalCancelled, "", "", func(w *domain.WithdrawalRequest) error {
		if w.UserID != userID {
			return domain.ErrForbidden
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("withdrawal cancelled", zap.String("withdrawal_id", w.ID), zap.String("user_id", userID))
	return w, nil
}

func (s *Service) closeWithdrawal(ctx context.Context, op, id string, to domain.WithdrawalStatus, adminID, note string, check func(*domain.WithdrawalRequest) error) (*domain.WithdrawalRequest, error) {
	var out *domain.WithdrawalRequest
	err := s.inTx(ctx, op, func(q store.Queries) error {
		w, err := q.LockWithdrawal(ctx, id)
		if err != nil {
			return notFound(err, "withdrawal")
		}
		if check != nil {
			if err := check(w); err != nil {
				return err
			}
		}
		if w.Status != domain.WithdrawalRequested {
			return fmt.Errorf("withdrawal %s is %s: %w", w.ID, w.Status, domain.ErrAlreadyDecided)
		}

		at := s.now()
		if err := q.DecideWithdrawal(ctx, w.ID, to, adminID, note, at); err != nil {
			return err
		}
		if to == domain.WithdrawalApproved {
			n, err := q.ConsumeCommissions(ctx, w.ID, at)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("withdrawal %s has no reserved commission", w.ID)
			}
		} else if _, err := q.ReleaseCommissions(ctx, w.ID); err != nil {
			return err
		}

		w.Status = to
		w.DecidedBy = adminID
		w.AdminNote = note
		w.DecidedAt = &at
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	withdrawalsDecided.WithLabelValues(string(to)).Inc()
	s.invalidate(ctx, out.UserID)
	return out, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		out, err = q.ListWithdrawalsByStatus(ctx, status, limit)
		return err
	})
	return out, err
}

func (s *Service) ListUserWithdrawals(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		out, err = q.ListWithdrawalsByUser(ctx, userID)
		return err
	})
	return out, err
}
