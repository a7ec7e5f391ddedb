package transaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

func TestWithRetry_SucceedsAfterDeadlock(t *testing.T) {
	mgr, store := newTestManager(Config{})
	attempts := 0

	err := mgr.WithRetryConfig(context.Background(), &RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond},
		func(ctx context.Context, tx *fakeTx) error {
			attempts++
			if attempts < 3 {
				return errors.New("pq: deadlock detected (SQLSTATE 40P01)")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("WithRetryConfig failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(store.begun) != 3 {
		t.Errorf("expected a fresh transaction per attempt, got %d", len(store.begun))
	}
	for i, tx := range store.begun[:2] {
		if tx.rolledBack != 1 {
			t.Errorf("attempt %d should have rolled back", i)
		}
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	mgr, _ := newTestManager(Config{})

	err := mgr.WithRetryConfig(context.Background(), &RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond},
		func(ctx context.Context, tx *fakeTx) error {
			return errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)")
		})
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("expected ErrDeadlock, got %v", err)
	}
	if !ormerrors.IsRetryable(err) {
		t.Error("exhausted retries should still be retryable by the caller")
	}
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	mgr, _ := newTestManager(Config{})
	attempts := 0

	err := mgr.WithRetry(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		attempts++
		return ormerrors.New(ormerrors.ConcurrencyConflict, "stale row")
	})
	if !errors.Is(err, ormerrors.ErrConcurrencyConflict) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithRetry_CancelledDuringBackoff(t *testing.T) {
	mgr, _ := newTestManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	err := mgr.WithRetryConfig(ctx, &RetryConfig{MaxRetries: 5, BaseBackoff: time.Hour},
		func(ctx context.Context, tx *fakeTx) error {
			cancel()
			return errors.New("deadlock detected")
		})
	if !errors.Is(err, ErrTransactionCancelled) {
		t.Fatalf("expected ErrTransactionCancelled, got %v", err)
	}
}

type stateErr string

func (e stateErr) Error() string    { return "driver error" }
func (e stateErr) SQLState() string { return string(e) }

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := &RetryConfig{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for attempt, w := range want {
		if got := cfg.backoff(attempt); got != w {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestWithRetry_ZeroRetriesStillRunsOnce(t *testing.T) {
	mgr, store := newTestManager(Config{})

	err := mgr.WithRetryConfig(context.Background(), &RetryConfig{}, func(ctx context.Context, tx *fakeTx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetryConfig failed: %v", err)
	}
	if len(store.begun) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(store.begun))
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{errors.New("Lock wait timeout exceeded; try restarting transaction"), true},
		{errors.New("database is locked"), true},
		{errors.New("pq: could not serialize access due to read/write dependencies"), true},
		{errors.New("SQLSTATE 40001"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
		{stateErr("40P01"), true},
		{fmt.Errorf("insert: %w", stateErr("40001")), true},
		{stateErr("23505"), false},
	}

	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
