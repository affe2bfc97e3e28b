package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storygate/internal/credentials"
	"storygate/internal/upstream"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newController(t *testing.T, tokens ...string) (*Controller, *recorder) {
	t.Helper()
	pool, err := credentials.NewPool(tokens, "elevated-token")
	require.NoError(t, err)
	rec := &recorder{}
	c := NewController(pool, nil)
	c.Sleep = rec.sleep
	return c, rec
}

func rateLimited() error {
	return &upstream.StatusError{Status: 429, Kind: upstream.ErrRateLimited}
}

func TestScheduleIsExponential(t *testing.T) {
	s := Policy{MaxAttempts: 5, Base: 5 * time.Second}.Schedule()
	assert.Equal(t, 5*time.Second, s.NextBackOff())
	assert.Equal(t, 10*time.Second, s.NextBackOff())
	assert.Equal(t, 20*time.Second, s.NextBackOff())
	assert.Equal(t, 40*time.Second, s.NextBackOff())
	s.Reset()
	assert.Equal(t, 5*time.Second, s.NextBackOff())
}

func TestScheduleFixed(t *testing.T) {
	s := For(upstream.CapabilityVideo).Schedule()
	assert.Equal(t, time.Minute, s.NextBackOff())
	assert.Equal(t, time.Minute, s.NextBackOff())
}

func TestPolicies(t *testing.T) {
	chat := For(upstream.CapabilityChat)
	assert.Equal(t, 3, chat.MaxAttempts)
	assert.Equal(t, 5*time.Second, chat.Base)
	assert.False(t, chat.AllowRotation)

	image := For(upstream.CapabilityImage)
	assert.Equal(t, 3, image.MaxAttempts)
	assert.Equal(t, 10*time.Second, image.Base)
	assert.True(t, image.AllowRotation)

	video := For(upstream.CapabilityVideo)
	assert.Equal(t, 2, video.MaxAttempts)
	assert.True(t, video.Fixed)
	assert.False(t, video.AllowRotation)

	assert.Equal(t, 1, For(upstream.CapabilityVisionImage).MaxAttempts)
	assert.Equal(t, 1, For(upstream.Capability("unknown")).MaxAttempts)
}

func TestChatRateLimitedTwiceThenSucceeds(t *testing.T) {
	c, rec := newController(t, "key-one-0001", "key-two-0002")
	var seen []int
	calls := 0
	got, stats, err := Execute(context.Background(), c, upstream.CapabilityChat, credentials.TierStandard, For(upstream.CapabilityChat),
		func(_ context.Context, cred credentials.Credential) Outcome[string] {
			seen = append(seen, cred.Index)
			calls++
			if calls <= 2 {
				return Retry[string](rateLimited())
			}
			return Ok("hello")
		})

	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.waits)
	assert.Equal(t, []int{0, 0, 0}, seen)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, 0, stats.Rotations)
}

func TestImageRotatesAfterExhaustingFirstCredential(t *testing.T) {
	c, rec := newController(t, "key-one-0001", "key-two-0002", "key-three-03")
	var seen []int
	got, stats, err := Execute(context.Background(), c, upstream.CapabilityImage, credentials.TierStandard, For(upstream.CapabilityImage),
		func(_ context.Context, cred credentials.Credential) Outcome[string] {
			seen = append(seen, cred.Index)
			if cred.Index == 0 {
				return Retry[string](rateLimited())
			}
			return Ok("https://img/1.png")
		})

	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", got)
	assert.Equal(t, []int{0, 0, 0, 1}, seen)
	// No wait after rotation; the new credential starts at attempt 0.
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, rec.waits)
	assert.Equal(t, 1, stats.Rotations)
	assert.Equal(t, 1, stats.Credential.Index)
	assert.Equal(t, 1, c.Pool.Current().Index)
}

func TestImageAttemptCountResetsAfterRotation(t *testing.T) {
	c, rec := newController(t, "key-one-0001", "key-two-0002")
	calls := 0
	_, _, err := Execute(context.Background(), c, upstream.CapabilityImage, credentials.TierStandard, For(upstream.CapabilityImage),
		func(_ context.Context, cred credentials.Credential) Outcome[int] {
			calls++
			if calls < 5 {
				return Retry[int](rateLimited())
			}
			return Ok(cred.Index)
		})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 10 * time.Second}, rec.waits)
}

func TestImageExhaustsEveryCredential(t *testing.T) {
	c, rec := newController(t, "key-one-0001", "key-two-0002")
	_, stats, err := Execute(context.Background(), c, upstream.CapabilityImage, credentials.TierStandard, For(upstream.CapabilityImage),
		func(context.Context, credentials.Credential) Outcome[string] {
			return Retry[string](rateLimited())
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrRateLimitExhausted)
	assert.ErrorIs(t, err, upstream.ErrRateLimited)
	assert.Equal(t, 6, stats.Attempts)
	assert.Equal(t, 1, stats.Rotations)
	assert.Len(t, rec.waits, 4)
}

func TestChatNeverRotates(t *testing.T) {
	c, _ := newController(t, "key-one-0001", "key-two-0002")
	_, stats, err := Execute(context.Background(), c, upstream.CapabilityChat, credentials.TierStandard, For(upstream.CapabilityChat),
		func(context.Context, credentials.Credential) Outcome[string] {
			return Retry[string](rateLimited())
		})
	assert.ErrorIs(t, err, upstream.ErrRateLimitExhausted)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, 0, c.Pool.Current().Index)
}

func TestElevatedTierNeverRotates(t *testing.T) {
	c, _ := newController(t, "key-one-0001", "key-two-0002")
	p := Policy{MaxAttempts: 1, AllowRotation: true}
	var seen []credentials.Tier
	_, _, err := Execute(context.Background(), c, upstream.CapabilitySearch, credentials.TierElevated, p,
		func(_ context.Context, cred credentials.Credential) Outcome[string] {
			seen = append(seen, cred.Tier)
			return Retry[string](rateLimited())
		})
	assert.ErrorIs(t, err, upstream.ErrRateLimitExhausted)
	assert.Equal(t, []credentials.Tier{credentials.TierElevated}, seen)
	assert.Equal(t, 0, c.Pool.Current().Index)
}

func TestFatalStopsImmediately(t *testing.T) {
	for _, status := range []int{400, 401, 403} {
		c, rec := newController(t, "key-one-0001", "key-two-0002")
		calls := 0
		_, _, err := Execute(context.Background(), c, upstream.CapabilityImage, credentials.TierStandard, For(upstream.CapabilityImage),
			func(context.Context, credentials.Credential) Outcome[string] {
				calls++
				return Fail[string](&upstream.StatusError{Status: status, Kind: upstream.KindFor(status)})
			})
		assert.ErrorIs(t, err, upstream.KindFor(status))
		assert.Equal(t, 1, calls)
		assert.Empty(t, rec.waits)
		assert.Equal(t, 0, c.Pool.Current().Index)
	}
}

func TestTransportErrorPropagatesAsIs(t *testing.T) {
	c, _ := newController(t, "key-one-0001")
	boom := errors.New("connection reset")
	_, _, err := Execute(context.Background(), c, upstream.CapabilityChat, credentials.TierStandard, For(upstream.CapabilityChat),
		func(context.Context, credentials.Credential) Outcome[string] {
			return Fail[string](boom)
		})
	assert.Same(t, boom, err)
}

func TestCancelledContextStopsBeforeAttempt(t *testing.T) {
	pool, err := credentials.NewPool([]string{"key-one-0001"}, "")
	require.NoError(t, err)
	c := NewController(pool, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, _, err = Execute(ctx, c, upstream.CapabilityChat, credentials.TierStandard, Policy{MaxAttempts: 3, Base: time.Hour},
		func(context.Context, credentials.Credential) Outcome[string] {
			calls++
			return Retry[string](rateLimited())
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
