package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterTransientFailures(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("always down"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastRetryConfig(), func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	got, err := DoVal(context.Background(), fastRetryConfig(), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("temporary"), 502)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestDoVal_ShouldRetryOverride(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "retry me" }

	var calls int
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("retry me")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestBackoff_Doubles(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 500*time.Millisecond, backoff(0, cfg))
	assert.Equal(t, time.Second, backoff(1, cfg))
	assert.Equal(t, 2*time.Second, backoff(2, cfg))
}
