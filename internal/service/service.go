// Package service implements the referral ledger workflows: attribution,
// commission recording, purchase verification, withdrawal settlement and the
// balance projection. Every state transition runs in one store transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refledger/internal/auth"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OverviewCache holds recently computed overviews. Implementations must tolerate
// concurrent use; a nil OverviewCache disables caching.
type OverviewCache interface {
	Get(ctx context.Context, userID string) (*domain.Overview, bool, error)
	Set(ctx context.Context, o *domain.Overview) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

type Options struct {
	CommissionRate    decimal.Decimal
	AutoApprove       bool
	WithdrawalMinimum int64
	ExactCoverage     bool
	ConflictRetries   uint
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CommissionRate:    cfg.CommissionRate,
		AutoApprove:       cfg.ApprovalMode == config.ApprovalAuto,
		WithdrawalMinimum: cfg.WithdrawalMinimum,
		ExactCoverage:     cfg.WithdrawalCoverage == config.CoverageExact,
		ConflictRetries:   cfg.ConflictRetries,
	}
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		CommissionRate:    decimal.RequireFromString("0.10"),
		WithdrawalMinimum: 50000,
		ExactCoverage:     true,
		ConflictRetries:   3,
	}
}

type Service struct {
	store  store.Store
	tokens *auth.Service
	cache  OverviewCache
	log    *zap.Logger
	opts   Options

	flight    singleflight.Group
	genMu     sync.Mutex
	gens      map[string]uint64
	now       func() time.Time
	newID     func() string
	retryWait time.Duration
}

func New(st store.Store, tokens *auth.Service, cache OverviewCache, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     st,
		tokens:    tokens,
		cache:     cache,
		log:       log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		retryWait: 10 * time.Millisecond,
		gens:      make(map[string]uint64),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// notFound translates a store miss into the caller-visible sentinel.
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

// generation counts the invalidations seen for userID in this process.
func (s *Service) generation(userID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[userID]
}

// invalidate drops cached overviews after a committed mutation.
func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	for _, id := range userIDs {
		if id != "" {
			s.gens[id]++
		}
	}
	s.genMu.Unlock()
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		s.log.Warn("overview cache invalidation failed", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}
