package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// inTx runs fn in a transaction and retries it when the store reports a
// serialization conflict. fn must not leak state between attempts.
func (s *Service) inTx(ctx context.Context, op string, fn func(q store.Queries) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryWait
	b.MaxInterval = 20 * s.retryWait

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.store.WithTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, store.ErrConflict) {
			conflictsTotal.WithLabelValues(op).Inc()
			s.log.Debug("transaction conflict", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.ConflictRetries+1))

	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%s: %w", op, domain.ErrConcurrencyConflict)
	}
	return err
}
