// README: Quota tests (lazy monthly reset and exhaustion boundary).
package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// memLedger mirrors the SQL in Store.Use/Ensure.
type memLedger struct {
	mu   sync.Mutex
	rows map[string]*row
}

type row struct {
	remaining int
	month     string
}

func newMemLedger() *memLedger { return &memLedger{rows: map[string]*row{}} }

func (m *memLedger) Use(_ context.Context, uid, month string, allowance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[uid]
	if !ok || (r.month >= month && r.remaining <= 0) {
		return ErrExhausted
	}
	if r.month != month {
		r.remaining = allowance
	}
	r.remaining--
	r.month = month
	return nil
}

func (m *memLedger) Ensure(_ context.Context, uid, month string, allowance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[uid]; !ok {
		m.rows[uid] = &row{remaining: allowance, month: month}
	}
	return nil
}

func (m *memLedger) Remaining(_ context.Context, uid, month string, allowance int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[uid]
	if !ok || r.month != month {
		return allowance, nil
	}
	return r.remaining, nil
}

func TestNilServiceAllows(t *testing.T) {
	var svc *Service
	if err := svc.Use(context.Background(), "u1"); err != nil {
		t.Fatalf("nil service: %v", err)
	}
	if NewService(nil, 5) != nil {
		t.Fatal("expected nil service without a store")
	}
	if NewService(NewStore(nil), 5) != nil {
		t.Fatal("expected nil service without a db")
	}
}

func TestUseExhaustsAndResetsMonthly(t *testing.T) {
	ctx := context.Background()
	l := newMemLedger()
	svc := newService(l, 2)
	now := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := svc.Use(ctx, "u1"); err != nil {
			t.Fatalf("use %d: %v", i, err)
		}
	}
	if err := svc.Use(ctx, "u1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if n, _ := svc.Remaining(ctx, "u1"); n != 0 {
		t.Fatalf("expected 0 remaining, got %d", n)
	}

	now = now.Add(2 * time.Hour)
	if err := svc.Use(ctx, "u1"); err != nil {
		t.Fatalf("use after month rollover: %v", err)
	}
	if n, _ := svc.Remaining(ctx, "u1"); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}
}

func TestAnonymousCallersAreNotMetered(t *testing.T) {
	l := newMemLedger()
	svc := newService(l, 1)
	for i := 0; i < 3; i++ {
		if err := svc.Use(context.Background(), ""); err != nil {
			t.Fatalf("anonymous use: %v", err)
		}
	}
	if len(l.rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(l.rows))
	}
}

// TestStoreCrossMonthReset verifies that a caller with 0 plans left from a
// previous month is reset and the request succeeds.
func TestStoreCrossMonthReset(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	if _, err := db.Exec(ctx, "INSERT INTO plan_quota VALUES ('user_reset', 0, '2000-01')"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.Use(ctx, "user_reset"); err != nil {
		t.Fatalf("Use after cross-month reset: %v", err)
	}

	var remaining int
	if err := db.QueryRow(ctx, "SELECT plans_remaining FROM plan_quota WHERE uid = 'user_reset'").Scan(&remaining); err != nil {
		t.Fatalf("query: %v", err)
	}
	if remaining != DefaultMonthlyPlans-1 {
		t.Fatalf("expected %d plans remaining, got %d", DefaultMonthlyPlans-1, remaining)
	}
}

func TestStoreExhausted(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	if _, err := db.Exec(ctx, "INSERT INTO plan_quota VALUES ('user_zero', 0, TO_CHAR(NOW() AT TIME ZONE 'UTC', 'YYYY-MM'))"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.Use(ctx, "user_zero"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestStoreNewCaller(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if n, err := svc.Remaining(ctx, "user_new"); err != nil || n != DefaultMonthlyPlans {
		t.Fatalf("remaining before first use: %d, %v", n, err)
	}
	if err := svc.Use(ctx, "user_new"); err != nil {
		t.Fatalf("Use for new caller: %v", err)
	}
	if n, err := svc.Remaining(ctx, "user_new"); err != nil || n != DefaultMonthlyPlans-1 {
		t.Fatalf("remaining after first use: %d, %v", n, err)
	}
}

// setupTestService skips the test when NAVI_TEST_DSN is not set.
func setupTestService(t *testing.T) (*Service, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("NAVI_TEST_DSN")
	if dsn == "" {
		t.Skip("NAVI_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			t.Fatalf("apply migration: %v", err)
		}
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE plan_quota"); err != nil {
		t.Fatalf("truncate plan_quota: %v", err)
	}

	return NewService(NewStore(db), 0), db
}
