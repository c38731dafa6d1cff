package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct{}

func (tempErr) Error() string   { return "temporary" }
func (tempErr) Temporary() bool { return true }

func TestNewRetrier_Validation(t *testing.T) {
	_, err := NewRetrier(0, time.Millisecond, time.Second, 2, 0, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = NewRetrier(1, time.Microsecond, time.Second, 2, 0, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidBaseDelay)

	_, err = NewRetrier(1, time.Millisecond, time.Second, 0.5, 0, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidFactor)

	_, err = NewRetrier(1, time.Millisecond, time.Second, 2, 2, ExponentialBackoff, nil)
	assert.ErrorIs(t, err, ErrInvalidJitter)
}

func TestRun_RetriesTemporaryErrors(t *testing.T) {
	r, err := NewRetrier(3, time.Millisecond, 2*time.Millisecond, 2, 0, ExponentialBackoff, nil)
	require.NoError(t, err)

	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return tempErr{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRun_StopsOnPermanentError(t *testing.T) {
	r, err := NewRetrier(5, time.Millisecond, time.Millisecond, 1, 0, LinearBackoff, nil)
	require.NoError(t, err)

	permanent := errors.New("permanent")
	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRun_ExhaustsAttempts(t *testing.T) {
	r, err := NewRetrier(2, time.Millisecond, time.Millisecond, 1, 0, FibonacciBackoff, func(error) bool { return true })
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.Run(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "max retry attempts reached")
}

func TestFibonacciDelay_Capped(t *testing.T) {
	r, err := NewRetrier(10, time.Millisecond, 5*time.Millisecond, 1, 0, FibonacciBackoff, nil)
	require.NoError(t, err)

	assert.Equal(t, time.Millisecond, r.fibonacciDelay(0))
	assert.Equal(t, 2*time.Millisecond, r.fibonacciDelay(2))
	assert.Equal(t, 5*time.Millisecond, r.fibonacciDelay(8))
}
