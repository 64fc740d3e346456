package utils

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pablintino/deploy-executor/logging"
)

type BackoffConfig struct {
	Attempts     uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// NextBackoffDelay returns the delay to wait before attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt uint64, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return cfg.InitialDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// RetryWithBackoff runs fn up to cfg.Attempts times, sleeping the backoff
// delay between attempts. fnErrComp decides whether an error is worth
// retrying; a nil fnErrComp retries every error.
func RetryWithBackoff(ctx context.Context, cfg BackoffConfig, fn func() error, fnErrComp func(error) bool) error {
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var err error
	for attempt := uint64(1); attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := NextBackoffDelay(cfg, attempt, rng)
			logging.Logger.Debugw("retrying after backoff", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if fnErrComp != nil && !fnErrComp(err) {
			return err
		}
	}
	return err
}
