package service

import (
	"context"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// Overview aggregates a user's commission and referral totals. Cached copies
// are served for at most the cache TTL. Mutations in this process drop the
// user's entry, and a computation that overlapped one does not leave its
// result behind; writers in other processes are bounded by the TTL alone.
// Withdrawal admission never reads this projection.
func (s *Service) Overview(ctx context.Context, userID string) (*domain.Overview, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.log.Warn("overview cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	v, err, _ := s.flight.Do(userID, func() (interface{}, error) {
		gen := s.generation(userID)
		o, err := s.computeOverview(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, o); err != nil {
				s.log.Warn("overview cache write failed", zap.String("user_id", userID), zap.Error(err))
			}
			// Invalidated while computing: o may predate the mutation.
			if s.generation(userID) != gen {
				if err := s.cache.Invalidate(ctx, userID); err != nil {
					s.log.Warn("overview cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
				}
			}
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	o := *v.(*domain.Overview)
	return &o, nil
}

func (s *Service) computeOverview(ctx context.Context, userID string) (*domain.Overview, error) {
	o := &domain.Overview{UserID: userID}
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return notFound(err, "user")
		}
		totals, err := q.SumCommissions(ctx, userID)
		if err != nil {
			return err
		}
		referrals, err := q.CountReferrals(ctx, userID)
		if err != nil {
			return err
		}
		spent, err := q.SumVerifiedPurchases(ctx, userID)
		if err != nil {
			return err
		}
		withdrawn, err := q.SumWithdrawals(ctx, userID, domain.WithdrawalApproved)
		if err != nil {
			return err
		}
		o.PendingCommission = totals.Pending
		o.ApprovedAvailable = totals.Available()
		o.ReservedCommission = totals.Reserved
		o.TotalWithdrawn = withdrawn
		o.SettledSurplus = totals.Withdrawn - withdrawn
		o.TotalReferrals = referrals
		o.TotalSpent = spent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
