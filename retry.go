package possync

import (
	"context"
	"time"

	"github.com/arteapos/possync/errors"
)

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) delay(attempt int) time.Duration {
	d := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		d *= eb.multiplier
	}
	result := time.Duration(d)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}
	return result
}

// withRetry runs op, retrying transient failures per the retry config.
// Non-retryable errors (revision mismatches, conflicts, validation) return
// immediately. Context cancellation wins over any pending delay.
func (s *Syncer) withRetry(ctx context.Context, op func() error) error {
	cfg := s.opts.Retry
	if cfg == nil || cfg.MaxAttempts <= 1 {
		return op()
	}

	eb := &exponentialBackoff{
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		multiplier:   cfg.Multiplier,
	}

	err := op()
	if err == nil || !errors.IsRetryable(err) {
		return err
	}

	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		timer := time.NewTimer(eb.delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.NewTransportError(errors.OpSync, "syncer", ctx.Err())
		case <-timer.C:
		}

		if err = op(); err == nil || !errors.IsRetryable(err) {
			return err
		}
	}
	return err
}

// sleepBackoff waits the configured mismatch backoff, honoring cancellation.
func (s *Syncer) sleepBackoff(ctx context.Context, attempt int) error {
	eb := &exponentialBackoff{
		initialDelay: s.opts.MismatchBackoff,
		maxDelay:     10 * time.Second,
		multiplier:   2.0,
	}
	timer := time.NewTimer(eb.delay(attempt - 1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.NewTransportError(errors.OpSync, "syncer", ctx.Err())
	case <-timer.C:
		return nil
	}
}
