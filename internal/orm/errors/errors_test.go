package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := New(ValidationFailed, "value is required").
		ForEntity("Order", []any{int64(-1)}).
		ForProperty("ShipName")

	assert.Equal(t, "northwind: ValidationFailed [Order [-1]] ShipName: value is required", err.Error())
}

func TestError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("save: %w", New(ConcurrencyConflict, "stale"))

	assert.True(t, stderrors.Is(err, ErrConcurrencyConflict))
	assert.False(t, stderrors.Is(err, ErrValidationFailed))
	assert.Equal(t, ConcurrencyConflict, KindOf(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(StoreUnavailable, cause, "insert failed")

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsRetryable_OnlyStoreUnavailable(t *testing.T) {
	for _, kind := range Kinds {
		err := New(kind, "x")
		assert.Equal(t, kind == StoreUnavailable, IsRetryable(err), kind)
		assert.Equal(t, kind == StoreUnavailable, err.Retryable(), kind)
	}
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestSentinel(t *testing.T) {
	for _, kind := range Kinds {
		s := Sentinel(kind)
		require.NotNil(t, s, kind)
		assert.Equal(t, kind, KindOf(s))
	}
	assert.Nil(t, Sentinel("Bogus"))
}

func TestAs(t *testing.T) {
	_, ok := As(stderrors.New("plain"))
	assert.False(t, ok)

	e, ok := As(fmt.Errorf("wrapped: %w", New(UnknownType, "Shipper")))
	require.True(t, ok)
	assert.Equal(t, UnknownType, e.Kind)
}
