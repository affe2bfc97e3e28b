package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storygate/internal/upstream"
)

// Policy bounds retries for one capability.
type Policy struct {
	MaxAttempts   int
	Base          time.Duration
	Fixed         bool
	AllowRotation bool
}

var policies = map[upstream.Capability]Policy{
	upstream.CapabilityChat:        {MaxAttempts: 3, Base: 5 * time.Second},
	upstream.CapabilityImage:       {MaxAttempts: 3, Base: 10 * time.Second, AllowRotation: true},
	upstream.CapabilityVideo:       {MaxAttempts: 2, Base: 60 * time.Second, Fixed: true},
	upstream.CapabilitySearch:      {MaxAttempts: 3, Base: 3 * time.Second},
	upstream.CapabilityVisionImage: {MaxAttempts: 1},
	upstream.CapabilityVisionVideo: {MaxAttempts: 1},
}

// For returns the policy for c. Unknown capabilities get a single attempt.
func For(c upstream.Capability) Policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return Policy{MaxAttempts: 1}
}

// Schedule returns a fresh wait schedule: Base, 2*Base, 4*Base... or a
// constant Base when Fixed is set.
func (p Policy) Schedule() backoff.BackOff {
	if p.Fixed {
		return backoff.NewConstantBackOff(p.Base)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
