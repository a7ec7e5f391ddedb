package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

type fakeTx struct {
	committed  int
	rolledBack int
	commitErr  error
}

func (t *fakeTx) Commit() error {
	t.committed++
	return t.commitErr
}

func (t *fakeTx) Rollback() error {
	t.rolledBack++
	return nil
}

type fakeStore struct {
	begun    []*fakeTx
	opts     []Options
	beginErr error
}

func (s *fakeStore) Begin(ctx context.Context, opts Options) (*fakeTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx := &fakeTx{}
	s.begun = append(s.begun, tx)
	s.opts = append(s.opts, opts)
	return tx, nil
}

func newTestManager(config Config) (*Manager[*fakeTx], *fakeStore) {
	store := &fakeStore{}
	return NewManager[*fakeTx](store, config), store
}

func TestManager_WithTransactionCommits(t *testing.T) {
	mgr, store := newTestManager(Config{})

	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
	if len(store.begun) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(store.begun))
	}
	if tx := store.begun[0]; tx.committed != 1 || tx.rolledBack != 0 {
		t.Errorf("expected commit only, got committed=%d rolledBack=%d", tx.committed, tx.rolledBack)
	}
}

func TestManager_WithTransactionRollsBackOnError(t *testing.T) {
	mgr, store := newTestManager(Config{})
	boom := errors.New("boom")

	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if tx := store.begun[0]; tx.committed != 0 || tx.rolledBack != 1 {
		t.Errorf("expected rollback only, got committed=%d rolledBack=%d", tx.committed, tx.rolledBack)
	}
}

func TestManager_WithTransactionRollsBackOnPanic(t *testing.T) {
	mgr, store := newTestManager(Config{})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic to be re-thrown")
		}
		if tx := store.begun[0]; tx.rolledBack != 1 || tx.committed != 0 {
			t.Errorf("expected rollback only, got committed=%d rolledBack=%d", tx.committed, tx.rolledBack)
		}
	}()

	_ = mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		panic("test panic in WithTransaction")
	})
}

func TestManager_CancelledContextNeverCommits(t *testing.T) {
	mgr, store := newTestManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	err := mgr.WithTransaction(ctx, func(ctx context.Context, tx *fakeTx) error {
		cancel()
		return nil
	})
	if !errors.Is(err, ErrTransactionCancelled) {
		t.Fatalf("expected ErrTransactionCancelled, got %v", err)
	}
	if !ormerrors.IsRetryable(err) {
		t.Error("cancellation should be reported as StoreUnavailable")
	}
	if tx := store.begun[0]; tx.committed != 0 || tx.rolledBack != 1 {
		t.Errorf("expected rollback only, got committed=%d rolledBack=%d", tx.committed, tx.rolledBack)
	}
}

func TestManager_AlreadyCancelledDoesNotBegin(t *testing.T) {
	mgr, store := newTestManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mgr.WithTransaction(ctx, func(ctx context.Context, tx *fakeTx) error {
		t.Error("fn should not run")
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.begun) != 0 {
		t.Errorf("expected no transaction, got %d", len(store.begun))
	}
}

func TestManager_BeginFailureIsStoreUnavailable(t *testing.T) {
	mgr, store := newTestManager(Config{})
	store.beginErr = errors.New("connection refused")

	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *fakeTx) error { return nil })
	if !errors.Is(err, ormerrors.ErrStoreUnavailable) {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
}

func TestManager_CommitFailure(t *testing.T) {
	mgr, store := newTestManager(Config{})
	var seen *fakeTx

	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		seen = tx
		tx.commitErr = errors.New("connection reset")
		return nil
	})
	if !errors.Is(err, ormerrors.ErrStoreUnavailable) {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
	if seen != store.begun[0] || seen.rolledBack != 0 {
		t.Errorf("a failed commit is not rolled back again, got rolledBack=%d", seen.rolledBack)
	}
}

func TestManager_IsolationPassedToStore(t *testing.T) {
	tests := []struct {
		name  string
		level IsolationLevel
	}{
		{"ReadUncommitted", ReadUncommitted},
		{"ReadCommitted", ReadCommitted},
		{"RepeatableRead", RepeatableRead},
		{"Serializable", Serializable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, store := newTestManager(Config{Isolation: tt.level})
			if err := mgr.Do(context.Background(), func(ctx context.Context, tx *fakeTx) error { return nil }); err != nil {
				t.Fatalf("Do failed: %v", err)
			}
			if store.opts[0].Isolation != tt.level {
				t.Errorf("expected %v, got %v", tt.level, store.opts[0].Isolation)
			}
		})
	}
}

func TestManager_DoTimeout(t *testing.T) {
	mgr, store := newTestManager(Config{Timeout: 20 * time.Millisecond})

	err := mgr.Do(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTransactionTimeout) {
		t.Fatalf("expected ErrTransactionTimeout, got %v", err)
	}
	if !errors.Is(err, ormerrors.ErrStoreUnavailable) {
		t.Errorf("expected StoreUnavailable, got %v", err)
	}
	if tx := store.begun[0]; tx.committed != 0 || tx.rolledBack != 1 {
		t.Errorf("expected rollback only, got committed=%d rolledBack=%d", tx.committed, tx.rolledBack)
	}
}

func TestManager_DoTimeoutBoundsRetries(t *testing.T) {
	mgr, store := newTestManager(Config{
		Isolation: Serializable,
		Timeout:   30 * time.Millisecond,
		Retry:     &RetryConfig{MaxRetries: 100, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})

	err := mgr.Do(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
	})
	if !errors.Is(err, ErrTransactionTimeout) && !errors.Is(err, ErrTransactionCancelled) {
		t.Fatalf("expected the deadline to end the retries, got %v", err)
	}
	if !errors.Is(err, ormerrors.ErrStoreUnavailable) {
		t.Errorf("expected StoreUnavailable, got %v", err)
	}
	if n := len(store.begun); n < 2 || n >= 100 {
		t.Errorf("expected a few attempts inside the deadline, got %d", n)
	}
	for _, opts := range store.opts {
		if opts.Isolation != Serializable {
			t.Errorf("expected serializable attempts, got %v", opts.Isolation)
		}
	}
}

func TestManager_DoRetryWithoutTimeout(t *testing.T) {
	mgr, store := newTestManager(Config{Retry: &RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond}})
	attempts := 0

	err := mgr.Do(context.Background(), func(ctx context.Context, tx *fakeTx) error {
		attempts++
		if attempts == 1 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(store.begun) != 2 || store.begun[1].committed != 1 {
		t.Errorf("expected the second attempt to commit, got %d transactions", len(store.begun))
	}
}

func TestManager_TimeoutKeepsDataErrors(t *testing.T) {
	mgr, _ := newTestManager(Config{})
	conflict := ormerrors.New(ormerrors.ConcurrencyConflict, "stale")

	err := mgr.WithTimeoutIsolation(context.Background(), time.Second, ReadCommitted, func(ctx context.Context, tx *fakeTx) error {
		return conflict
	})
	if !errors.Is(err, ormerrors.ErrConcurrencyConflict) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}
}

func TestParseIsolationLevel(t *testing.T) {
	tests := map[string]IsolationLevel{
		"read_uncommitted": ReadUncommitted,
		"read_committed":   ReadCommitted,
		"":                 ReadCommitted,
		"REPEATABLE READ":  RepeatableRead,
		"serializable":     Serializable,
	}
	for in, want := range tests {
		got, err := ParseIsolationLevel(in)
		if err != nil {
			t.Errorf("ParseIsolationLevel(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseIsolationLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseIsolationLevel("snapshot"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestOptions_ToSQLOptions(t *testing.T) {
	opts := Options{Isolation: Serializable, ReadOnly: true}.ToSQLOptions()
	if !opts.ReadOnly {
		t.Error("expected read only")
	}
	if opts.Isolation != Serializable.ToSQLOptions().Isolation {
		t.Errorf("unexpected isolation %v", opts.Isolation)
	}
}
