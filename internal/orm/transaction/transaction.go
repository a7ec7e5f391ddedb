// Package transaction scopes a unit of work to one store transaction that is
// committed on success and rolled back on every other exit path: error, panic,
// timeout and cancellation.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

var (
	// ErrDeadlock is returned when a deadlock persists through every retry
	ErrDeadlock = errors.New("deadlock detected")
	// ErrTransactionTimeout is returned when a transaction times out
	ErrTransactionTimeout = errors.New("transaction timeout")
	// ErrTransactionCancelled is returned when the caller's context ends before commit
	ErrTransactionCancelled = errors.New("transaction cancelled")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadUncommitted allows dirty reads
	ReadUncommitted IsolationLevel = iota
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// ParseIsolationLevel converts a config value such as "read_committed" to an IsolationLevel
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(s)) {
	case "read uncommitted":
		return ReadUncommitted, nil
	case "", "read committed":
		return ReadCommitted, nil
	case "repeatable read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return ReadCommitted, fmt.Errorf("unknown isolation level: %s", s)
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	var level sql.IsolationLevel
	switch l {
	case ReadUncommitted:
		level = sql.LevelReadUncommitted
	case ReadCommitted:
		level = sql.LevelReadCommitted
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	default:
		level = sql.LevelReadCommitted
	}
	return &sql.TxOptions{Isolation: level}
}

// Options are passed to the store when a transaction begins
type Options struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ToSQLOptions converts Options to sql.TxOptions
func (o Options) ToSQLOptions() *sql.TxOptions {
	opts := o.Isolation.ToSQLOptions()
	opts.ReadOnly = o.ReadOnly
	return opts
}

// Tx is a store transaction handle
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner starts store transactions of type T
type Beginner[T Tx] interface {
	Begin(ctx context.Context, opts Options) (T, error)
}

// Config holds the defaults applied by Manager.Do
type Config struct {
	Isolation IsolationLevel
	// Timeout bounds each transaction; zero means no bound beyond the caller's context
	Timeout time.Duration
	// Retry re-runs the whole transaction on deadlock; nil disables retries
	Retry *RetryConfig
}

// Manager manages store transactions
type Manager[T Tx] struct {
	beginner Beginner[T]
	config   Config
}

// NewManager creates a new transaction manager
func NewManager[T Tx](beginner Beginner[T], config Config) *Manager[T] {
	return &Manager[T]{beginner: beginner, config: config}
}

// Config returns the manager defaults
func (m *Manager[T]) Config() Config {
	return m.config
}

// Do runs fn with the manager defaults: isolation, timeout and retry
func (m *Manager[T]) Do(ctx context.Context, fn func(ctx context.Context, tx T) error) error {
	c := m.config
	switch {
	case c.Timeout > 0 && c.Retry != nil:
		return m.WithTimeoutRetry(ctx, c.Timeout, c.Isolation, c.Retry, fn)
	case c.Timeout > 0:
		return m.WithTimeoutIsolation(ctx, c.Timeout, c.Isolation, fn)
	case c.Retry != nil:
		return m.WithRetryIsolation(ctx, c.Isolation, c.Retry, fn)
	default:
		return m.WithTransactionIsolation(ctx, c.Isolation, fn)
	}
}

// WithTransaction executes a function within a transaction
// Automatically commits on success or rolls back on error
func (m *Manager[T]) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx T) error) error {
	return m.WithTransactionIsolation(ctx, ReadCommitted, fn)
}

// WithTransactionIsolation executes a function within a transaction with specified isolation level
func (m *Manager[T]) WithTransactionIsolation(ctx context.Context, level IsolationLevel, fn func(ctx context.Context, tx T) error) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	tx, err := m.beginner.Begin(ctx, Options{Isolation: level})
	if err != nil {
		if ormerrors.KindOf(err) != "" {
			return err
		}
		return ormerrors.Wrap(ormerrors.StoreUnavailable, err, "failed to begin transaction")
	}
	s := &scope{tx: tx}

	defer func() {
		if p := recover(); p != nil {
			s.rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := s.rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	// A context that ended while fn ran never commits.
	if err := ctx.Err(); err != nil {
		s.rollback()
		return cancelled(err)
	}
	return s.commit()
}

// scope tracks a live transaction so it is released exactly once
type scope struct {
	tx   Tx
	done atomic.Bool
}

func (s *scope) commit() error {
	if !s.done.CompareAndSwap(false, true) {
		return errors.New("transaction already finished")
	}
	if err := s.tx.Commit(); err != nil {
		// The store has rolled back a failed commit; nothing to release.
		if ormerrors.KindOf(err) != "" {
			return err
		}
		return ormerrors.Wrap(ormerrors.StoreUnavailable, err, "failed to commit transaction")
	}
	return nil
}

func (s *scope) rollback() error {
	if !s.done.CompareAndSwap(false, true) {
		return nil // Already released, no-op
	}
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func cancelled(cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return ormerrors.Wrap(ormerrors.StoreUnavailable, fmt.Errorf("%w: %v", ErrTransactionTimeout, cause), "transaction rolled back")
	}
	return ormerrors.Wrap(ormerrors.StoreUnavailable, fmt.Errorf("%w: %v", ErrTransactionCancelled, cause), "transaction rolled back")
}
