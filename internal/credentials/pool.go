package credentials

import (
	"errors"
	"sync"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
)

// Credential is one bearer token plus its position in the standard pool.
// Elevated credentials carry Index -1.
type Credential struct {
	Token string
	Index int
	Tier  Tier
}

var ErrNoCredentials = errors.New("credential pool is empty")

// Pool is the ordered set of equivalent standard credentials plus the single
// elevated credential. The current index is the only state shared between
// in-flight requests and is guarded by mu.
type Pool struct {
	mu       sync.Mutex
	tokens   []string
	current  int
	elevated string
}

func NewPool(tokens []string, elevated string) (*Pool, error) {
	clean := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoCredentials
	}
	return &Pool{tokens: clean, elevated: elevated}, nil
}

func (p *Pool) Len() int { return len(p.tokens) }

func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credentialAt(p.current)
}

// Rotate advances the index circularly and returns the new current credential.
func (p *Pool) Rotate() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = (p.current + 1) % len(p.tokens)
	return p.credentialAt(p.current)
}

// RotateFrom advances past observed only if observed is still current.
// When another request already rotated away from it, the current credential
// is returned and rotated reports false.
func (p *Pool) RotateFrom(observed Credential) (next Credential, rotated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if observed.Index == p.current {
		p.current = (p.current + 1) % len(p.tokens)
		rotated = true
	}
	return p.credentialAt(p.current), rotated
}

// Elevated returns the privileged credential. It never rotates. When no
// elevated token is configured the first standard token stands in.
func (p *Pool) Elevated() Credential {
	token := p.elevated
	if token == "" {
		token = p.tokens[0]
	}
	return Credential{Token: token, Index: -1, Tier: TierElevated}
}

func (p *Pool) For(tier Tier) Credential {
	if tier == TierElevated {
		return p.Elevated()
	}
	return p.Current()
}

func (p *Pool) credentialAt(i int) Credential {
	return Credential{Token: p.tokens[i], Index: i, Tier: TierStandard}
}

// Mask hides a token for logging, keeping the first and last 4 characters.
func Mask(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
