package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/refledger/internal/auth"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

const registerAttempts = 3

type RegisterInput struct {
	Name         string
	PhoneNumber  string
	Email        string
	Password     string
	ReferralCode string
	Role         domain.Role
}

// Register creates the account and fixes its referrer in one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.PhoneNumber) == "" || in.Password == "" {
		return nil, fmt.Errorf("name, phone number and password are required: %w", domain.ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	for attempt := 1; attempt <= registerAttempts; attempt++ {
		err = s.inTx(ctx, "register", func(q store.Queries) error {
			if _, err := q.GetUserByPhone(ctx, in.PhoneNumber); err == nil {
				return domain.ErrPhoneTaken
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			var referrerID string
			if strings.TrimSpace(in.ReferralCode) != "" {
				id, err := resolveReferrer(ctx, q, in.ReferralCode)
				if err != nil {
					return err
				}
				referrerID = id
			}

			u := &domain.User{
				ID:           s.newID(),
				Name:         strings.TrimSpace(in.Name),
				PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
				Email:        strings.TrimSpace(in.Email),
				PasswordHash: hash,
				Role:         role,
				ReferralCode: newReferralCode(),
				IsActive:     true,
				CreatedAt:    s.now(),
			}
			if err := q.CreateUser(ctx, u); err != nil {
				return err
			}
			if _, err := attribute(ctx, q, u.ID, referrerID); err != nil {
				return err
			}
			u.ReferredBy = referrerID
			u.Attributed = true
			user = u
			return nil
		})
		if errors.Is(err, store.ErrDuplicatePhone) {
			return nil, domain.ErrPhoneTaken
		}
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
		s.log.Warn("referral code collision, retrying", zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, user.ReferredBy)
	s.log.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("referrer_id", user.ReferredBy),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, phone, password string) (string, *domain.User, error) {
	var user *domain.User
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		u, err := q.GetUserByPhone(ctx, strings.TrimSpace(phone))
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", nil, domain.ErrUserInactive
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *Service) Me(ctx context.Context, userID string) (*domain.User, error) {
	var user *domain.User
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return notFound(err, "user")
		}
		user = u
		return nil
	})
	return user, err
}

func (s *Service) ListUsers(ctx context.Context, skip, limit int) ([]domain.User, int64, error) {
	var (
		users []domain.User
		total int64
	)
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		users, total, err = q.ListUsers(ctx, skip, limit)
		return err
	})
	return users, total, err
}

// SetUserActive enables or disables login and new withdrawals for a user.
func (s *Service) SetUserActive(ctx context.Context, userID string, active bool) (*domain.User, error) {
	var user *domain.User
	err := s.inTx(ctx, "set_user_active", func(q store.Queries) error {
		if err := q.SetUserActive(ctx, userID, active); err != nil {
			return notFound(err, "user")
		}
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user activity changed", zap.String("user_id", userID), zap.Bool("active", active))
	return user, nil
}
