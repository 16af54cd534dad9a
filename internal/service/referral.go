package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

const referralCodeLen = 8

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:referralCodeLen]
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ResolveReferrer returns the id of the user owning code.
func (s *Service) ResolveReferrer(ctx context.Context, code string) (string, error) {
	var referrerID string
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		id, err := resolveReferrer(ctx, q, code)
		referrerID = id
		return err
	})
	return referrerID, err
}

func resolveReferrer(ctx context.Context, q store.Queries, code string) (string, error) {
	u, err := q.GetUserByReferralCode(ctx, normalizeCode(code))
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("code %q: %w", code, domain.ErrUnknownReferralCode)
	}
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// Attribute binds userID to referrerID (empty for "no referrer"). Only the
// first call per user has an effect; later calls are no-ops.
func (s *Service) Attribute(ctx context.Context, userID, referrerID string) error {
	var bound bool
	err := s.inTx(ctx, "attribute", func(q store.Queries) error {
		ok, err := attribute(ctx, q, userID, referrerID)
		bound = ok
		return err
	})
	if err != nil {
		return err
	}
	if bound {
		s.invalidate(ctx, referrerID)
		s.log.Info("referral attributed", zap.String("user_id", userID), zap.String("referrer_id", referrerID))
	}
	return nil
}

func attribute(ctx context.Context, q store.Queries, userID, referrerID string) (bool, error) {
	if referrerID != "" && referrerID == userID {
		return false, domain.ErrSelfReferral
	}
	if _, err := q.GetUser(ctx, userID); err != nil {
		return false, notFound(err, "user")
	}
	if referrerID != "" {
		if _, err := q.GetUser(ctx, referrerID); err != nil {
			return false, notFound(err, "referrer")
		}
	}
	return q.SetReferrer(ctx, userID, referrerID)
}
