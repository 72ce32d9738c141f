package quota

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles plan_quota persistence.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Use atomically checks the monthly quota and deducts one plan.
// The counter resets to allowance when last_reset_month is behind month.
// Returns ErrExhausted when no row is updated (quota spent or caller absent).
func (s *Store) Use(ctx context.Context, uid, month string, allowance int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE plan_quota SET
			plans_remaining = CASE WHEN last_reset_month != $1 THEN $2 - 1 ELSE plans_remaining - 1 END,
			last_reset_month = $1
		WHERE uid = $3 AND (last_reset_month < $1 OR plans_remaining > 0)
	`, month, allowance, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExhausted
	}
	return nil
}

// Ensure inserts a row for uid with the full allowance. Existing rows are kept.
func (s *Store) Ensure(ctx context.Context, uid, month string, allowance int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO plan_quota (uid, plans_remaining, last_reset_month)
		VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO NOTHING
	`, uid, allowance, month)
	return err
}

// Remaining reports the plans left this month. Callers without a row, or
// whose row is from an earlier month, have the full allowance.
func (s *Store) Remaining(ctx context.Context, uid, month string, allowance int) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT CASE WHEN last_reset_month != $2 THEN $3 ELSE plans_remaining END
		FROM plan_quota WHERE uid = $1
	`, uid, month, allowance).Scan(&n)
	if err != nil {
		if isNoRows(err) {
			return allowance, nil
		}
		return 0, err
	}
	return n, nil
}
