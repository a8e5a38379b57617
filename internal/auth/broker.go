package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/internaltypes"
	"github.com/example/coursegrab/internal/obs"
)

// DefaultCacheDuration is how long an acquired token is trusted.
const DefaultCacheDuration = 1800 * time.Second

// Credential is an opaque bearer token. Values are replaced, never mutated.
// Generation identifies the acquisition that produced it; two acquisitions
// returning the same token string are still different credentials.
type Credential struct {
	Token      string
	ValidUntil time.Time
	Generation uint64
}

func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ValidUntil)
}

// Acquirer produces a fresh token, typically by logging in.
type Acquirer interface {
	Acquire(ctx context.Context) (string, error)
}

// Verifier checks a freshly acquired token against the portal.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

type Options struct {
	CacheDuration time.Duration
	Verifier      Verifier
	Cache         *TokenCache
	Logger        zerolog.Logger
	Metrics       *obs.Metrics
	Now           func() time.Time
}

// Broker owns the session credential. All acquisitions happen under one
// mutex, so concurrent callers wait for the in-flight refresh and share it.
type Broker struct {
	acq     Acquirer
	verify  Verifier
	cache   *TokenCache
	ttl     time.Duration
	log     zerolog.Logger
	metrics *obs.Metrics
	now     func() time.Time

	mu          sync.Mutex
	cur         Credential
	cacheTried  bool
	acquisition int
	generation  uint64
}

func NewBroker(acq Acquirer, opt Options) *Broker {
	if opt.CacheDuration <= 0 {
		opt.CacheDuration = DefaultCacheDuration
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Broker{
		acq:     acq,
		verify:  opt.Verifier,
		cache:   opt.Cache,
		ttl:     opt.CacheDuration,
		log:     opt.Logger.With().Str("component", "auth").Logger(),
		metrics: opt.Metrics,
		now:     opt.Now,
	}
}

// Token returns the cached credential while it is valid, unless forceRefresh
// is set. Otherwise it acquires a new one.
func (b *Broker) Token(ctx context.Context, forceRefresh bool) (Credential, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !forceRefresh {
		if b.cur.Valid(now) {
			return b.cur, nil
		}
		if c, ok := b.loadCacheLocked(now); ok {
			return c, nil
		}
	}
	return b.acquireLocked(ctx)
}

// Refresh handles an expiry signal for stale. When another caller already
// replaced stale with a valid credential, that one is returned without a new
// acquisition.
func (b *Broker) Refresh(ctx context.Context, stale Credential) (Credential, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur.Generation != stale.Generation && b.cur.Valid(b.now()) {
		b.metrics.Refresh("reused")
		return b.cur, nil
	}
	return b.acquireLocked(ctx)
}

// Current returns the held credential without refreshing it.
func (b *Broker) Current() Credential {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Acquisitions counts calls made to the Acquirer.
func (b *Broker) Acquisitions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquisition
}

func (b *Broker) loadCacheLocked(now time.Time) (Credential, bool) {
	if b.cache == nil || b.cacheTried {
		return Credential{}, false
	}
	b.cacheTried = true
	c, err := b.cache.Load()
	if err != nil {
		b.log.Debug().Err(err).Msg("token cache unusable")
		return Credential{}, false
	}
	if !c.Valid(now) {
		return Credential{}, false
	}
	b.generation++
	c.Generation = b.generation
	b.cur = c
	b.log.Info().Time("valid_until", c.ValidUntil).Msg("reusing cached token")
	return c, true
}

func (b *Broker) acquireLocked(ctx context.Context) (Credential, error) {
	// drop the old token first so a failed refresh never leaves it usable
	b.cur = Credential{}
	b.acquisition++

	b.log.Info().Msg("acquiring token")
	tok, err := b.acq.Acquire(ctx)
	if err != nil {
		b.metrics.Refresh("fail")
		return Credential{}, fmt.Errorf("%w: %v", internaltypes.ErrAuthUnavailable, err)
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		b.metrics.Refresh("fail")
		return Credential{}, fmt.Errorf("%w: acquirer returned an empty token", internaltypes.ErrAuthUnavailable)
	}
	if b.verify != nil {
		if err := b.verify.Verify(ctx, tok); err != nil {
			b.metrics.Refresh("fail")
			return Credential{}, fmt.Errorf("%w: verify: %v", internaltypes.ErrAuthUnavailable, err)
		}
	}

	now := b.now()
	until := now.Add(b.ttl)
	if exp, ok := tokenExpiry(tok); ok && exp.Before(until) {
		until = exp
	}
	if !until.After(now) {
		b.metrics.Refresh("fail")
		return Credential{}, fmt.Errorf("%w: token already expired at %s", internaltypes.ErrAuthUnavailable, until.Format(time.RFC3339))
	}

	b.generation++
	b.cur = Credential{Token: tok, ValidUntil: until, Generation: b.generation}
	b.cacheTried = true
	b.metrics.Refresh("ok")
	b.log.Info().Time("valid_until", until).Msg("token acquired")

	if b.cache != nil {
		if err := b.cache.Save(b.cur); err != nil {
			b.log.Warn().Err(err).Msg("token cache write failed")
		}
	}
	return b.cur, nil
}

// tokenExpiry reads the exp claim when the token happens to be a JWT. The
// signature is not checked; the portal remains the authority.
func tokenExpiry(tok string) (time.Time, bool) {
	tok = strings.TrimPrefix(tok, "Bearer ")
	if strings.Count(tok, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
