package service

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommissionAmount is amount × rate rounded down to the minor unit.
func CommissionAmount(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

// recordCommission appends the referrer's entry for a verified purchase. It
// returns nil when the buyer has no referrer, and the existing entry on replay.
func (s *Service) recordCommission(ctx context.Context, q store.Queries, p *domain.Purchase, at time.Time) (*domain.CommissionEntry, bool, error) {
	buyer, err := q.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, false, notFound(err, "buyer")
	}
	if buyer.ReferredBy == "" {
		return nil, false, nil
	}

	entry := &domain.CommissionEntry{
		ID:         s.newID(),
		ReferrerID: buyer.ReferredBy,
		PurchaseID: p.ID,
		BuyerID:    buyer.ID,
		Amount:     CommissionAmount(p.Amount, s.opts.CommissionRate),
		Rate:       s.opts.CommissionRate.String(),
		Status:     domain.CommissionPending,
		CreatedAt:  at,
	}
	if s.opts.AutoApprove {
		entry.Status = domain.CommissionApproved
		entry.ApprovedAt = &at
	}

	inserted, err := q.InsertCommission(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("insert commission: %w", err)
	}
	if !inserted {
		existing, err := q.GetCommissionByPurchase(ctx, buyer.ReferredBy, p.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return entry, true, nil
}

// RecordCommission records the commission for an already verified purchase.
// Calling it again for the same purchase returns the original entry.
func (s *Service) RecordCommission(ctx context.Context, purchaseID string) (*domain.CommissionEntry, error) {
	var (
		entry    *domain.CommissionEntry
		inserted bool
	)
	err := s.inTx(ctx, "record_commission", func(q store.Queries) error {
		p, err := q.GetPurchase(ctx, purchaseID)
		if err != nil {
			return notFound(err, "purchase")
		}
		if p.Status != domain.PurchaseVerified {
			return fmt.Errorf("purchase %s is %s: %w", p.ID, p.Status, domain.ErrInvalidInput)
		}
		entry, inserted, err = s.recordCommission(ctx, q, p, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		commissionsRecorded.WithLabelValues(string(entry.Status)).Inc()
		s.invalidate(ctx, entry.ReferrerID)
	}
	return entry, nil
}

// ApproveCommission promotes a pending entry so it can back a withdrawal.
func (s *Service) ApproveCommission(ctx context.Context, commissionID, adminID string) (*domain.CommissionEntry, error) {
	var entry *domain.CommissionEntry
	err := s.inTx(ctx, "approve_commission", func(q store.Queries) error {
		c, err := q.GetCommission(ctx, commissionID)
		if err != nil {
			return notFound(err, "commission")
		}
		if c.Status != domain.CommissionPending {
			return fmt.Errorf("commission %s is %s: %w", c.ID, c.Status, domain.ErrAlreadyDecided)
		}
		at := s.now()
		if err := q.ApproveCommission(ctx, c.ID, at); err != nil {
			return err
		}
		c.Status = domain.CommissionApproved
		c.ApprovedAt = &at
		entry = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, entry.ReferrerID)
	s.log.Info("commission approved",
		zap.String("commission_id", entry.ID),
		zap.String("referrer_id", entry.ReferrerID),
		zap.Int64("amount", entry.Amount),
		zap.String("admin_id", adminID),
	)
	return entry, nil
}

func (s *Service) ListUserCommissions(ctx context.Context, userID string) ([]domain.CommissionEntry, error) {
	var entries []domain.CommissionEntry
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		entries, err = q.ListCommissions(ctx, userID)
		return err
	})
	return entries, err
}
