package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		Timeout:        time.Second,
	}
}

func TestDo_RecoversFromTransientError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Service: "primary", Code: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAfterAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, func(ctx context.Context) error {
		calls++
		return &StatusError{Service: "dem", Code: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, hydro.ErrExternalService))
	assert.Contains(t, err.Error(), "max attempts exceeded")
}

func TestDo_DomainMissNotRetried(t *testing.T) {
	for _, miss := range []error{hydro.ErrNoStreamFound, hydro.ErrNoWatershedAvailable} {
		calls := 0
		err := Do(context.Background(), fastConfig(), nil, func(ctx context.Context) error {
			calls++
			return fmt.Errorf("lookup: %w", miss)
		})
		assert.True(t, errors.Is(err, miss))
		assert.Equal(t, 1, calls)
	}
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, func(ctx context.Context) error {
		calls++
		return &StatusError{Service: "primary", Code: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_UnclassifiedErrorWrappedAsExternal(t *testing.T) {
	err := Do(context.Background(), fastConfig(), nil, func(ctx context.Context) error {
		return context.DeadlineExceeded
	})
	assert.True(t, errors.Is(err, hydro.ErrExternalService))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDo_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	calls := 0
	err := Do(ctx, cfg, nil, func(ctx context.Context) error {
		calls++
		cancel()
		return &StatusError{Code: 500}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(&StatusError{Code: 502}))
	assert.True(t, IsRetryable(&StatusError{Code: 429}))
	assert.False(t, IsRetryable(&StatusError{Code: 404}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("decode failed")))
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	assert.Equal(t, 3, c.Attempts)
	assert.Equal(t, time.Second, c.InitialBackoff)
	assert.Equal(t, 30*time.Second, c.MaxBackoff)
	assert.Equal(t, 2.0, c.Multiplier)
}
