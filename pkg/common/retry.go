package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

// RetryConfig bounds an exponential backoff.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultConnectRetry is used when dialing infrastructure at startup.
var DefaultConnectRetry = RetryConfig{
	InitialInterval: 5 * time.Second,
	MaxInterval:     30 * time.Second,
	MaxElapsedTime:  5 * time.Minute,
}

// RetryWithBackoff calls op until it succeeds, the backoff gives up, or ctx
// is done. Each failed attempt is logged with name.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, name string, cfg RetryConfig, op func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		expBackoff.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		expBackoff.MaxInterval = cfg.MaxInterval
	}
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		err := op()
		if err != nil {
			log.Warn(ctx, "attempt failed, will retry", "operation", name, "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}
