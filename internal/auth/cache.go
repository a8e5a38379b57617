package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
)

const cacheName = "coursegrab_token"

// TokenCache keeps the credential on disk between runs, authenticated and
// encrypted so the file is useless without the keys.
type TokenCache struct {
	path string
	sc   *securecookie.SecureCookie
}

type cachedToken struct {
	Token      string
	ValidUntil time.Time
}

// NewTokenCache expects a 32 or 64 byte hash key and a 16, 24 or 32 byte
// block key.
func NewTokenCache(path string, hashKey, blockKey []byte, maxAge time.Duration) *TokenCache {
	sc := securecookie.New(hashKey, blockKey)
	if maxAge <= 0 {
		maxAge = DefaultCacheDuration
	}
	sc.MaxAge(int(maxAge.Seconds()))
	sc.MaxLength(16 * 1024)
	return &TokenCache{path: path, sc: sc}
}

func (c *TokenCache) Save(cred Credential) error {
	encoded, err := c.sc.Encode(cacheName, cachedToken{Token: cred.Token, ValidUntil: cred.ValidUntil})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(encoded), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func (c *TokenCache) Load() (Credential, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return Credential{}, err
	}
	var ct cachedToken
	if err := c.sc.Decode(cacheName, strings.TrimSpace(string(b)), &ct); err != nil {
		return Credential{}, fmt.Errorf("decode token cache: %w", err)
	}
	return Credential{Token: ct.Token, ValidUntil: ct.ValidUntil}, nil
}
