package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/config"
)

// RetryPolicy controls how a failed stage attempt is retried. The zero
// value and MaxAttempts == 1 mean fail fast. Discovery failures are never
// retried.
type RetryPolicy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	RetryStageErrors bool
}

func RetryFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      c.MaxAttempts,
		InitialBackoff:   c.InitialBackoff.Duration,
		MaxBackoff:       c.MaxBackoff.Duration,
		Multiplier:       c.Multiplier,
		RetryStageErrors: c.RetryStageErrors,
	}
}

func (p RetryPolicy) retryable(err error) bool {
	var se *stageError
	if errors.As(err, &se) {
		return p.RetryStageErrors && se.chunk.Kind != a2a.KindCanceled
	}
	if errors.Is(err, a2a.ErrStreamingUnsupported) {
		return false
	}
	var conn *a2a.ConnectionError
	return errors.As(err, &conn)
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// do runs op until it succeeds, fails permanently, or attempts run out.
// onRetry is called before each new attempt.
func (p RetryPolicy) do(ctx context.Context, op func() (string, error), onRetry func(err error, wait time.Duration)) (string, error) {
	if p.MaxAttempts <= 1 {
		return op()
	}
	return backoff.Retry(ctx, func() (string, error) {
		out, err := op()
		if err != nil && !p.retryable(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(onRetry),
	)
}
