package auth

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/internaltypes"
)

// countingAcquirer returns tok-1, tok-2, ... and can be told to fail.
type countingAcquirer struct {
	calls atomic.Int32
	fail  atomic.Bool
	delay time.Duration
	fixed string // returned on every call when set
}

func (a *countingAcquirer) Acquire(ctx context.Context) (string, error) {
	n := a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail.Load() {
		return "", errors.New("login page unreachable")
	}
	if a.fixed != "" {
		return a.fixed, nil
	}
	return fmt.Sprintf("tok-%d", n), nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBroker(acq Acquirer, clock *fakeClock) *Broker {
	return NewBroker(acq, Options{Logger: zerolog.Nop(), Now: clock.Now})
}

func TestToken_CachedWithinWindow(t *testing.T) {
	acq := &countingAcquirer{}
	clock := &fakeClock{t: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
	b := newTestBroker(acq, clock)
	ctx := context.Background()

	c1, err := b.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	clock.Advance(10 * time.Minute)
	c2, err := b.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected identical credential, got %+v and %+v", c1, c2)
	}
	if n := acq.calls.Load(); n != 1 {
		t.Fatalf("acquisitions = %d, want 1", n)
	}
	if want := clock.Now().Add(-10 * time.Minute).Add(DefaultCacheDuration); !c1.ValidUntil.Equal(want) {
		t.Errorf("ValidUntil = %v, want %v", c1.ValidUntil, want)
	}
}

func TestToken_ExpiredOrForced(t *testing.T) {
	acq := &countingAcquirer{}
	clock := &fakeClock{t: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
	b := newTestBroker(acq, clock)
	ctx := context.Background()

	if _, err := b.Token(ctx, false); err != nil {
		t.Fatalf("Token: %v", err)
	}
	c, err := b.Token(ctx, true)
	if err != nil {
		t.Fatalf("forced Token: %v", err)
	}
	if c.Token != "tok-2" {
		t.Errorf("forced refresh token = %q, want tok-2", c.Token)
	}

	clock.Advance(DefaultCacheDuration)
	c, err = b.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token after expiry: %v", err)
	}
	if c.Token != "tok-3" {
		t.Errorf("token after expiry = %q, want tok-3", c.Token)
	}
}

func TestToken_AcquireFailure(t *testing.T) {
	acq := &countingAcquirer{}
	acq.fail.Store(true)
	b := newTestBroker(acq, &fakeClock{t: time.Now()})

	_, err := b.Token(context.Background(), false)
	if !errors.Is(err, internaltypes.ErrAuthUnavailable) {
		t.Fatalf("err = %v, want ErrAuthUnavailable", err)
	}
	if b.Current().Token != "" {
		t.Error("failed acquisition must not leave a credential behind")
	}
}

func TestRefresh_CollapsesConcurrentSignals(t *testing.T) {
	acq := &countingAcquirer{delay: 20 * time.Millisecond}
	b := newTestBroker(acq, &fakeClock{t: time.Now()})
	ctx := context.Background()

	stale, err := b.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	got := make([]Credential, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := b.Refresh(ctx, stale)
			if err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
			got[i] = c
		}(i)
	}
	wg.Wait()

	if n := acq.calls.Load(); n != 2 {
		t.Fatalf("acquisitions = %d, want 2 (initial + one refresh)", n)
	}
	for i, c := range got {
		if c.Token != "tok-2" {
			t.Errorf("worker %d got %q, want tok-2", i, c.Token)
		}
	}
}

func TestRefresh_CollapsesWhenTokenRepeats(t *testing.T) {
	acq := &countingAcquirer{delay: 20 * time.Millisecond, fixed: "session-cookie"}
	b := newTestBroker(acq, &fakeClock{t: time.Now()})
	ctx := context.Background()

	stale, err := b.Token(ctx, false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	const workers = 5
	var wg sync.WaitGroup
	got := make([]Credential, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := b.Refresh(ctx, stale)
			if err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
			got[i] = c
		}(i)
	}
	wg.Wait()

	if n := acq.calls.Load(); n != 2 {
		t.Fatalf("acquisitions = %d, want 2 (initial + one refresh)", n)
	}
	for i, c := range got {
		if c.Token != "session-cookie" || c.Generation == stale.Generation {
			t.Errorf("worker %d got %+v, want a newer generation than %d", i, c, stale.Generation)
		}
	}

	// an expiry signal for the refreshed credential itself still re-acquires
	if _, err := b.Refresh(ctx, got[0]); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n := acq.calls.Load(); n != 3 {
		t.Errorf("acquisitions = %d, want 3", n)
	}
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(ctx context.Context, token string) error {
	return errors.New("status 401")
}

func TestToken_VerifyFailure(t *testing.T) {
	b := NewBroker(StaticAcquirer{Token: "abc"}, Options{Logger: zerolog.Nop(), Verifier: rejectVerifier{}})
	if _, err := b.Token(context.Background(), false); !errors.Is(err, internaltypes.ErrAuthUnavailable) {
		t.Fatalf("err = %v, want ErrAuthUnavailable", err)
	}
}

func TestToken_JWTExpiry(t *testing.T) {
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	exp := now.Add(5 * time.Minute)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	b := NewBroker(StaticAcquirer{Token: signed}, Options{Logger: zerolog.Nop(), Now: func() time.Time { return now }})
	c, err := b.Token(context.Background(), false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !c.ValidUntil.Equal(exp) {
		t.Errorf("ValidUntil = %v, want token exp %v", c.ValidUntil, exp)
	}

	past := now.Add(-time.Minute)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": past.Unix()}).SignedString([]byte("k"))
	b = NewBroker(StaticAcquirer{Token: expired}, Options{Logger: zerolog.Nop(), Now: func() time.Time { return now }})
	if _, err := b.Token(context.Background(), false); !errors.Is(err, internaltypes.ErrAuthUnavailable) {
		t.Fatalf("expired JWT: err = %v, want ErrAuthUnavailable", err)
	}
}

func TestTokenExpiry_Opaque(t *testing.T) {
	if _, ok := tokenExpiry("opaque-session-value"); ok {
		t.Error("opaque token should have no expiry")
	}
	if _, ok := tokenExpiry("a.b.c"); ok {
		t.Error("garbage JWT should have no expiry")
	}
}

func TestTokenCache_ReusedAcrossBrokers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	hashKey := make([]byte, 32)
	blockKey := make([]byte, 32)
	for i := range hashKey {
		hashKey[i] = byte(i)
		blockKey[i] = byte(255 - i)
	}
	clock := &fakeClock{t: time.Now()}

	acq := &countingAcquirer{}
	b1 := NewBroker(acq, Options{Logger: zerolog.Nop(), Now: clock.Now, Cache: NewTokenCache(path, hashKey, blockKey, 0)})
	c1, err := b1.Token(context.Background(), false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	b2 := NewBroker(acq, Options{Logger: zerolog.Nop(), Now: clock.Now, Cache: NewTokenCache(path, hashKey, blockKey, 0)})
	c2, err := b2.Token(context.Background(), false)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if c2.Token != c1.Token {
		t.Errorf("second broker token = %q, want cached %q", c2.Token, c1.Token)
	}
	if n := acq.calls.Load(); n != 1 {
		t.Errorf("acquisitions = %d, want 1", n)
	}

	// wrong keys: the file is rejected and a fresh login happens
	other := make([]byte, 32)
	b3 := NewBroker(acq, Options{Logger: zerolog.Nop(), Now: clock.Now, Cache: NewTokenCache(path, other, other, 0)})
	if _, err := b3.Token(context.Background(), false); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if n := acq.calls.Load(); n != 2 {
		t.Errorf("acquisitions = %d, want 2", n)
	}
}

func TestCommandAcquirer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	a := CommandAcquirer{
		Command:  []string{"sh", "-c", `printf '\n  %s-%s\n' "$COURSEGRAB_USERNAME" "$COURSEGRAB_BROWSER"`},
		Username: "20121234",
		Browser:  "edge",
	}
	tok, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok != "20121234-edge" {
		t.Errorf("token = %q", tok)
	}

	fail := CommandAcquirer{Command: []string{"sh", "-c", "echo denied >&2; exit 3"}}
	if _, err := fail.Acquire(context.Background()); err == nil {
		t.Error("expected error for non-zero exit")
	}
	empty := CommandAcquirer{Command: []string{"sh", "-c", "true"}}
	if _, err := empty.Acquire(context.Background()); err == nil {
		t.Error("expected error for empty output")
	}
}

func TestStaticAcquirer_Empty(t *testing.T) {
	if _, err := (StaticAcquirer{}).Acquire(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
