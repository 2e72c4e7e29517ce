package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsedTime: time.Second}

	calls := 0
	err := RetryWithBackoff(context.Background(), logger.Noop(), "flaky", cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: time.Minute}
	err := RetryWithBackoff(ctx, logger.Noop(), "never", cfg, func() error { return errors.New("down") })
	assert.Error(t, err)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	assert.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))

	rl.UpdateLimits(1000, 10)
	assert.NoError(t, rl.Wait(context.Background()))
	rps, burst := rl.Limit()
	assert.Equal(t, 1000.0, rps)
	assert.Equal(t, 10, burst)
}

func TestNilRateLimiterNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	assert.Nil(t, rl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, rl.Wait(ctx))
}
