package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

// WithTimeoutIsolation executes a transaction that is rolled back if it
// has not committed within timeout
func (m *Manager[T]) WithTimeoutIsolation(
	ctx context.Context,
	timeout time.Duration,
	level IsolationLevel,
	fn func(ctx context.Context, tx T) error,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return timeoutError(timeoutCtx, timeout, m.WithTransactionIsolation(timeoutCtx, level, fn))
}

// WithTimeoutRetry retries deadlocked attempts until they succeed, run out
// or timeout elapses; the bound covers every attempt and backoff
func (m *Manager[T]) WithTimeoutRetry(
	ctx context.Context,
	timeout time.Duration,
	level IsolationLevel,
	config *RetryConfig,
	fn func(ctx context.Context, tx T) error,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return timeoutError(timeoutCtx, timeout, m.WithRetryIsolation(timeoutCtx, level, config, fn))
}

// timeoutError reports an expired deadline as a retryable store failure
func timeoutError(ctx context.Context, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, ErrTransactionTimeout) {
		return err
	}
	// Data errors raised before the deadline keep their kind.
	if kind := ormerrors.KindOf(err); kind != "" && kind != ormerrors.StoreUnavailable {
		return err
	}
	return ormerrors.Wrap(ormerrors.StoreUnavailable,
		fmt.Errorf("%w: transaction exceeded %v: %v", ErrTransactionTimeout, timeout, err), "transaction rolled back")
}
