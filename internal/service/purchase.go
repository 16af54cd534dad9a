package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

type PurchaseInput struct {
	ProductID    string
	ProductName  string
	Amount       int64
	PaymentProof string
}

// VerifyResult is the purchase after the decision plus the commission it produced, if any.
type VerifyResult struct {
	Purchase   *domain.Purchase        `json:"purchase"`
	Commission *domain.CommissionEntry `json:"commission,omitempty"`
}

// CreatePurchase records a buyer's payment claim in pending state.
func (s *Service) CreatePurchase(ctx context.Context, userID string, in PurchaseInput) (*domain.Purchase, error) {
	if in.Amount <= 0 || strings.TrimSpace(in.ProductID) == "" {
		return nil, fmt.Errorf("product and positive amount required: %w", domain.ErrInvalidInput)
	}

	p := &domain.Purchase{
		ID:           s.newID(),
		UserID:       userID,
		ProductID:    strings.TrimSpace(in.ProductID),
		ProductName:  strings.TrimSpace(in.ProductName),
		Amount:       in.Amount,
		PaymentProof: in.PaymentProof,
		Status:       domain.PurchasePending,
		CreatedAt:    s.now(),
	}
	err := s.inTx(ctx, "create_purchase", func(q store.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return notFound(err, "user")
		}
		if !u.IsActive {
			return domain.ErrUserInactive
		}
		return q.CreatePurchase(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("purchase submitted", zap.String("purchase_id", p.ID), zap.String("user_id", userID), zap.Int64("amount", p.Amount))
	return p, nil
}

// Verify decides a pending purchase. Approval and the resulting commission
// entry commit together; rejection has no ledger side effects.
func (s *Service) Verify(ctx context.Context, purchaseID string, approve bool, adminID string) (*VerifyResult, error) {
	var (
		res      *VerifyResult
		inserted bool
	)
	err := s.inTx(ctx, "verify_purchase", func(q store.Queries) error {
		p, err := q.LockPurchase(ctx, purchaseID)
		if err != nil {
			return notFound(err, "purchase")
		}
		if p.Status != domain.PurchasePending {
			return fmt.Errorf("purchase %s is %s: %w", p.ID, p.Status, domain.ErrAlreadyDecided)
		}

		to := domain.PurchaseRejected
		if approve {
			to = domain.PurchaseVerified
		}
		at := s.now()
		if err := q.DecidePurchase(ctx, p.ID, to, adminID, at); err != nil {
			return err
		}
		p.Status = to
		p.DecidedBy = adminID
		p.DecidedAt = &at

		r := &VerifyResult{Purchase: p}
		if approve {
			c, ok, err := s.recordCommission(ctx, q, p, at)
			if err != nil {
				return err
			}
			r.Commission = c
			inserted = ok
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	purchasesDecided.WithLabelValues(string(res.Purchase.Status)).Inc()
	fields := []zap.Field{
		zap.String("purchase_id", res.Purchase.ID),
		zap.String("status", string(res.Purchase.Status)),
		zap.String("admin_id", adminID),
	}
	affected := []string{res.Purchase.UserID}
	if res.Commission != nil {
		if inserted {
			commissionsRecorded.WithLabelValues(string(res.Commission.Status)).Inc()
		}
		affected = append(affected, res.Commission.ReferrerID)
		fields = append(fields, zap.String("commission_id", res.Commission.ID), zap.Int64("commission", res.Commission.Amount))
	}
	s.invalidate(ctx, affected...)
	s.log.Info("purchase decided", fields...)
	return res, nil
}

func (s *Service) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		out, err = q.ListPurchasesByStatus(ctx, status, limit)
		return err
	})
	return out, err
}
