package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/crypto"
	"github.com/example/coursegrab/internal/internaltypes"
)

const (
	EnvUsername       = "COURSEGRAB_USERNAME"
	EnvPassword       = "COURSEGRAB_PASSWORD"
	EnvToken          = "COURSEGRAB_TOKEN"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvLogLevel       = "LOG_LEVEL"
	EnvCredKey        = "CRED_ENC_KEY"
	EnvCacheHashKey   = "TOKEN_CACHE_HASH_KEY"
	EnvCacheBlockKey  = "TOKEN_CACHE_BLOCK_KEY"
	DefaultConfigPath = "config.toml"
)

type Config struct {
	Username          string  `toml:"username" yaml:"username"`
	Password          string  `toml:"password" yaml:"password"`
	Browser           string  `toml:"browser" yaml:"browser"`
	UseMultithreading bool    `toml:"use_multithreading" yaml:"use_multithreading"`
	Workers           int     `toml:"workers" yaml:"workers"`
	WaitTime          float64 `toml:"wait_time" yaml:"wait_time"`
	AllowOverCapacity bool    `toml:"allow_over_capacity" yaml:"allow_over_capacity"`
	Goal              string  `toml:"goal" yaml:"goal"`
	Resume            bool    `toml:"resume" yaml:"resume"`
	MaxRounds         int     `toml:"max_rounds" yaml:"max_rounds"`
	AuthFailureLimit  int     `toml:"auth_failure_limit" yaml:"auth_failure_limit"`
	MetricsAddr       string  `toml:"metrics_addr" yaml:"metrics_addr"`

	Portal    Portal    `toml:"portal" yaml:"portal"`
	Token     Token     `toml:"token" yaml:"token"`
	RateLimit RateLimit `toml:"rate_limit" yaml:"rate_limit"`
	Store     Store     `toml:"store" yaml:"store"`
	Log       Log       `toml:"log" yaml:"log"`

	Courses []CourseEntry `toml:"courses" yaml:"courses"`
}

type Portal struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
	Timeout string `toml:"timeout" yaml:"timeout"`
}

type Token struct {
	Value         string   `toml:"value" yaml:"value"`
	Command       []string `toml:"command" yaml:"command"`
	CacheDuration string   `toml:"cache_duration" yaml:"cache_duration"`
	CacheFile     string   `toml:"cache_file" yaml:"cache_file"`
	Verify        bool     `toml:"verify" yaml:"verify"`
}

type RateLimit struct {
	MaxRequests int    `toml:"max_requests" yaml:"max_requests"`
	Window      string `toml:"window" yaml:"window"`
}

type Store struct {
	Driver string `toml:"driver" yaml:"driver"`
	Path   string `toml:"path" yaml:"path"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Pretty bool   `toml:"pretty" yaml:"pretty"`
}

type CourseEntry struct {
	CourseCode  string    `toml:"course_code" yaml:"course_code"`
	SectionCode string    `toml:"section_code" yaml:"section_code"`
	Priority    *int      `toml:"priority,omitempty" yaml:"priority,omitempty"`
	TimeSlot    *SlotSpec `toml:"time_slot,omitempty" yaml:"time_slot,omitempty"`
}

type SlotSpec struct {
	Day   string `toml:"day" yaml:"day"`
	Start string `toml:"start" yaml:"start"`
	End   string `toml:"end" yaml:"end"`
}

func defaults() *Config {
	return &Config{
		Browser:  "edge",
		Workers:  5,
		WaitTime: 5.0,
		Goal:     "first",
		Portal:   Portal{Timeout: "10s"},
		Token:    Token{CacheDuration: "1800s", Verify: true},
		RateLimit: RateLimit{
			MaxRequests: 60,
			Window:      "60s",
		},
		Store: Store{Driver: "file", Path: "selection.yaml"},
		Log:   Log{Level: "info"},
	}
}

// Load reads path (TOML, or YAML for .yaml/.yml), applies environment
// overrides and validates. A missing file is reported with fs.ErrNotExist.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes b over the defaults without validating.
func Parse(b []byte, format string) (*Config, error) {
	cfg := defaults()
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = toml.Unmarshal(b, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", internaltypes.ErrConfigInvalid, err)
	}
	return cfg, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvUsername, &c.Username)
	set(EnvPassword, &c.Password)
	set(EnvToken, &c.Token.Value)
	set(EnvDatabaseURL, &c.Store.DSN)
	set(EnvLogLevel, &c.Log.Level)
}

// Validate reports every problem at once, wrapped in ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Browser {
	case "edge", "chrome", "firefox":
	default:
		add("browser must be edge, chrome or firefox, got %q", c.Browser)
	}
	if c.Workers < 1 {
		add("workers must be at least 1")
	}
	if c.WaitTime < 0 {
		add("wait_time must not be negative")
	}
	if c.Goal != "first" && c.Goal != "all" {
		add("goal must be first or all, got %q", c.Goal)
	}
	if c.MaxRounds < 0 {
		add("max_rounds must not be negative")
	}
	if c.AuthFailureLimit < 0 {
		add("auth_failure_limit must not be negative")
	}

	if u, err := url.Parse(c.Portal.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("portal.base_url must be an absolute http(s) URL, got %q", c.Portal.BaseURL)
	}
	checkDuration := func(name, v string) {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			add("%s: invalid duration %q", name, v)
		}
	}
	checkDuration("portal.timeout", c.Portal.Timeout)
	checkDuration("token.cache_duration", c.Token.CacheDuration)
	if c.Token.Value == "" && len(c.Token.Command) == 0 {
		add("token.value (or %s) or token.command is required", EnvToken)
	}
	if c.Token.Value == "" {
		if strings.TrimSpace(c.Username) == "" {
			add("username (or %s) is required to log in", EnvUsername)
		}
		if c.Password == "" {
			add("password (or %s) is required to log in", EnvPassword)
		}
	}
	if c.RateLimit.MaxRequests < 0 {
		add("rate_limit.max_requests must not be negative")
	}
	if c.RateLimit.MaxRequests > 0 {
		checkDuration("rate_limit.window", c.RateLimit.Window)
	}

	switch c.Store.Driver {
	case "file", "sqlite", "none":
	case "postgres":
		if c.Store.DSN == "" {
			add("store.dsn (or %s) is required for the postgres driver", EnvDatabaseURL)
		}
	default:
		add("store.driver must be file, sqlite, postgres or none, got %q", c.Store.Driver)
	}

	if len(c.Courses) == 0 {
		add("at least one [[courses]] entry is required")
	}
	seen := make(map[string]bool, len(c.Courses))
	for i, ce := range c.Courses {
		if strings.TrimSpace(ce.CourseCode) == "" || strings.TrimSpace(ce.SectionCode) == "" {
			add("courses[%d]: course_code and section_code are required", i)
			continue
		}
		key := ce.CourseCode + "/" + ce.SectionCode
		if seen[key] {
			add("courses[%d]: %s listed twice", i, key)
		}
		seen[key] = true
		if ce.TimeSlot != nil {
			if _, err := course.ParseTimeSlot(ce.TimeSlot.Day, ce.TimeSlot.Start, ce.TimeSlot.End); err != nil {
				add("courses[%d] %s: time_slot: %v", i, key, err)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", internaltypes.ErrConfigInvalid, errors.Join(errs...))
}

// CourseList converts the configured entries. Call after Validate.
func (c *Config) CourseList() ([]course.Course, error) {
	out := make([]course.Course, 0, len(c.Courses))
	for _, ce := range c.Courses {
		crs := course.Course{
			Code:     strings.TrimSpace(ce.CourseCode),
			Section:  strings.TrimSpace(ce.SectionCode),
			Priority: ce.Priority,
		}
		if ce.TimeSlot != nil {
			s, err := course.ParseTimeSlot(ce.TimeSlot.Day, ce.TimeSlot.Start, ce.TimeSlot.End)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", internaltypes.ErrConfigInvalid, crs, err)
			}
			crs.Slot = &s
		}
		out = append(out, crs)
	}
	return out, nil
}

func (c *Config) PortalTimeout() time.Duration { return mustDuration(c.Portal.Timeout) }

func (c *Config) TokenCacheDuration() time.Duration { return mustDuration(c.Token.CacheDuration) }

func (c *Config) RateWindow() time.Duration { return mustDuration(c.RateLimit.Window) }

// Wait is the pause between rounds.
func (c *Config) Wait() time.Duration {
	return time.Duration(c.WaitTime * float64(time.Second))
}

func mustDuration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// ResolvePassword opens an enc: sealed password with the key in
// CRED_ENC_KEY. Plain passwords are returned unchanged.
func (c *Config) ResolvePassword() (string, error) {
	if !crypto.IsSealed(c.Password) {
		return c.Password, nil
	}
	aead, err := CredentialCipher()
	if err != nil {
		return "", err
	}
	pw, err := aead.Open(c.Password)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt password: %v", internaltypes.ErrConfigInvalid, err)
	}
	return pw, nil
}

// CredentialCipher builds the AEAD for sealed config values from CRED_ENC_KEY.
func CredentialCipher() (*crypto.AEAD, error) {
	raw := os.Getenv(EnvCredKey)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is not set (see coursegrab keys)", internaltypes.ErrConfigInvalid, EnvCredKey)
	}
	key, err := decodeB64(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", internaltypes.ErrConfigInvalid, EnvCredKey, err)
	}
	aead, err := crypto.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", internaltypes.ErrConfigInvalid, EnvCredKey, err)
	}
	return aead, nil
}

// TokenCacheKeys returns the securecookie keys for the on-disk token cache.
// ok is false when the cache is not configured.
func (c *Config) TokenCacheKeys() (hashKey, blockKey []byte, ok bool, err error) {
	if c.Token.CacheFile == "" {
		return nil, nil, false, nil
	}
	h, b := os.Getenv(EnvCacheHashKey), os.Getenv(EnvCacheBlockKey)
	if h == "" || b == "" {
		return nil, nil, false, fmt.Errorf("%w: token.cache_file needs %s and %s (see coursegrab keys)", internaltypes.ErrConfigInvalid, EnvCacheHashKey, EnvCacheBlockKey)
	}
	if hashKey, err = decodeB64(h); err != nil {
		return nil, nil, false, fmt.Errorf("%w: %s: %v", internaltypes.ErrConfigInvalid, EnvCacheHashKey, err)
	}
	if blockKey, err = decodeB64(b); err != nil {
		return nil, nil, false, fmt.Errorf("%w: %s: %v", internaltypes.ErrConfigInvalid, EnvCacheBlockKey, err)
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, nil, false, fmt.Errorf("%w: %s must decode to 16, 24 or 32 bytes", internaltypes.ErrConfigInvalid, EnvCacheBlockKey)
	}
	return hashKey, blockKey, true, nil
}

// decodeB64 accepts a base64 value or a path to a file holding one, so keys
// can come from mounted secrets.
func decodeB64(s string) ([]byte, error) {
	if b, err := os.ReadFile(s); err == nil {
		s = string(b)
	}
	return crypto.DecodeKey(s)
}
