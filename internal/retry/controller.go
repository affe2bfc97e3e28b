// Package retry runs one logical upstream call under a Policy: intra-credential
// exponential backoff on rate limiting, then rotation to the next standard
// credential once a credential's budget is spent.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storygate/internal/credentials"
	"storygate/internal/metrics"
	"storygate/internal/upstream"
)

type Kind int

const (
	Success Kind = iota
	Retryable
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Outcome is the result of a single attempt.
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

func Ok[T any](v T) Outcome[T] { return Outcome[T]{Kind: Success, Value: v} }

func Retry[T any](err error) Outcome[T] { return Outcome[T]{Kind: Retryable, Err: err} }

func Fail[T any](err error) Outcome[T] { return Outcome[T]{Kind: Fatal, Err: err} }

// Attempt performs one upstream call with the given credential.
type Attempt[T any] func(ctx context.Context, cred credentials.Credential) Outcome[T]

// Stats describes how a call was executed.
type Stats struct {
	Attempts   int
	Rotations  int
	Credential credentials.Credential
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Controller struct {
	Pool  *credentials.Pool
	Log   *zap.Logger
	Sleep SleepFunc
}

func NewController(pool *credentials.Pool, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{Pool: pool, Log: log, Sleep: Sleep}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs fn until it succeeds, fails fatally, or the policy and the
// credential pool are exhausted. Rate-limit exhaustion yields an error
// matching upstream.ErrRateLimitExhausted.
func Execute[T any](ctx context.Context, c *Controller, capability upstream.Capability, tier credentials.Tier, p Policy, fn Attempt[T]) (T, Stats, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	log := c.Log.With(zap.String("capability", string(capability)))

	cred := c.Pool.For(tier)
	schedule := p.Schedule()
	stats := Stats{Credential: cred}
	attempt, tried := 0, 1
	var last error

	for {
		if err := ctx.Err(); err != nil {
			return zero, stats, err
		}
		stats.Attempts++
		stats.Credential = cred
		out := fn(ctx, cred)
		metrics.UpstreamAttempts.WithLabelValues(string(capability), out.Kind.String()).Inc()

		switch out.Kind {
		case Success:
			return out.Value, stats, nil
		case Fatal:
			log.Warn("upstream call failed",
				zap.Int("attempt", attempt),
				zap.Int("credential_index", cred.Index),
				zap.Error(out.Err))
			return zero, stats, out.Err
		}
		last = out.Err

		if attempt+1 < maxAttempts {
			wait := schedule.NextBackOff()
			log.Info("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Int("credential_index", cred.Index),
				zap.Duration("wait", wait))
			if err := sleep(ctx, wait); err != nil {
				return zero, stats, err
			}
			attempt++
			continue
		}

		if p.AllowRotation && tier == credentials.TierStandard && tried < c.Pool.Len() {
			next, rotated := c.Pool.RotateFrom(cred)
			if rotated {
				stats.Rotations++
				metrics.Rotations.WithLabelValues(string(capability)).Inc()
			}
			log.Info("credential exhausted, rotating",
				zap.Int("from_index", cred.Index),
				zap.Int("to_index", next.Index),
				zap.Bool("rotated", rotated),
				zap.String("credential", credentials.Mask(next.Token)))
			cred = next
			tried++
			attempt = 0
			schedule.Reset()
			continue
		}

		log.Warn("rate limit retries exhausted",
			zap.Int("attempts", stats.Attempts),
			zap.Int("credentials_tried", tried),
			zap.Error(last))
		return zero, stats, fmt.Errorf("%s: %w", capability, upstream.ErrRateLimitExhausted)
	}
}
