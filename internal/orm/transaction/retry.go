package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

const (
	// DefaultMaxRetries is the default number of attempts for a conflicting transaction
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the pause before the second attempt; it doubles each attempt
	DefaultBaseBackoff = 100 * time.Millisecond
	// DefaultMaxBackoff caps the pause between attempts
	DefaultMaxBackoff = 2 * time.Second
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	// MaxBackoff caps the doubling; zero means DefaultMaxBackoff
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// backoff returns the pause after the given zero-based failed attempt
func (c *RetryConfig) backoff(attempt int) time.Duration {
	limit := c.MaxBackoff
	if limit <= 0 {
		limit = DefaultMaxBackoff
	}
	d := c.BaseBackoff
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// WithRetry executes a transaction with the default retry configuration
func (m *Manager[T]) WithRetry(ctx context.Context, fn func(ctx context.Context, tx T) error) error {
	return m.WithRetryConfig(ctx, DefaultRetryConfig(), fn)
}

// WithRetryConfig executes a read-committed transaction with custom retry configuration
func (m *Manager[T]) WithRetryConfig(ctx context.Context, config *RetryConfig, fn func(ctx context.Context, tx T) error) error {
	return m.WithRetryIsolation(ctx, ReadCommitted, config, fn)
}

// WithRetryIsolation re-runs fn in a fresh transaction while it fails with
// a deadlock or serialization failure. fn must not carry state between
// attempts.
func (m *Manager[T]) WithRetryIsolation(
	ctx context.Context,
	level IsolationLevel,
	config *RetryConfig,
	fn func(ctx context.Context, tx T) error,
) error {
	attempts := max(config.MaxRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return cancelled(ctx.Err())
			case <-time.After(config.backoff(attempt - 1)):
			}
		}

		err := m.WithTransactionIsolation(ctx, level, fn)
		if err == nil || !IsRetryableError(err) {
			return err
		}
		lastErr = err
	}

	return ormerrors.Wrap(ormerrors.StoreUnavailable,
		fmt.Errorf("%w: %v", ErrDeadlock, lastErr), "transaction failed after %d attempts", attempts)
}

// sqlStater is implemented by driver errors that carry a SQLSTATE, such as
// *pgconn.PgError
type sqlStater interface {
	SQLState() string
}

var (
	// retryableStates are deadlock_detected and serialization_failure
	retryableStates = map[string]bool{"40P01": true, "40001": true}

	retryableMessages = []string{
		"40p01",
		"40001",
		"deadlock detected",
		"deadlock found",
		"lock wait timeout exceeded",
		"database is locked",
		"could not serialize access",
	}
)

// IsRetryableError reports whether err is a deadlock or serialization
// failure, for which re-running the whole transaction may succeed
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var st sqlStater
	if errors.As(err, &st) && retryableStates[st.SQLState()] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
