// README: Monthly trip-planning quota per authenticated caller, backed by Postgres.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type ledger interface {
	Use(ctx context.Context, uid, month string, allowance int) error
	Ensure(ctx context.Context, uid, month string, allowance int) error
	Remaining(ctx context.Context, uid, month string, allowance int) (int, error)
}

// Service meters planner calls. A nil *Service allows everything.
type Service struct {
	ledger    ledger
	allowance int
	now       func() time.Time
}

// NewService returns nil when store is nil so callers can leave metering off.
func NewService(store *Store, monthlyPlans int) *Service {
	if store == nil || store.db == nil {
		return nil
	}
	return newService(store, monthlyPlans)
}

func newService(l ledger, monthlyPlans int) *Service {
	if monthlyPlans <= 0 {
		monthlyPlans = DefaultMonthlyPlans
	}
	return &Service{ledger: l, allowance: monthlyPlans, now: time.Now}
}

// Use deducts one plan from uid's monthly allowance. A missing row is
// initialised and the deduction retried once.
func (s *Service) Use(ctx context.Context, uid string) error {
	if s == nil || uid == "" {
		return nil
	}
	month := s.month()
	err := s.ledger.Use(ctx, uid, month, s.allowance)
	if !errors.Is(err, ErrExhausted) {
		return err
	}
	if err := s.ledger.Ensure(ctx, uid, month, s.allowance); err != nil {
		return err
	}
	return s.ledger.Use(ctx, uid, month, s.allowance)
}

func (s *Service) Remaining(ctx context.Context, uid string) (int, error) {
	if s == nil || uid == "" {
		return 0, nil
	}
	return s.ledger.Remaining(ctx, uid, s.month(), s.allowance)
}

func (s *Service) month() string {
	return s.now().UTC().Format("2006-01")
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
