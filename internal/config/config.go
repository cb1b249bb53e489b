// Package config resolves settings from flags, the environment and an
// optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeyDBPath       = "DB_PATH"
	KeyStatePath    = "STATE_PATH"
	KeyLogLevel     = "LOG_LEVEL"
	KeyLogPath      = "LOG_PATH"
	KeyServer       = "MASTODON_URL"
	KeyAccessToken  = "MASTODON_ACCESS_TOKEN"
	KeyMaxAttempts  = "SYNC_MAX_ATTEMPTS"
	KeyRetryDelay   = "SYNC_RETRY_DELAY"
	KeyExtraTags    = "SYNC_EXTRA_TAGS"
	KeyPageLimit    = "MASTODON_PAGE_LIMIT"
	KeyRateInterval = "MASTODON_RATE_INTERVAL"
	KeyTimeout      = "MASTODON_TIMEOUT"
)

// flagKeys maps command-line flags to the keys they override.
var flagKeys = map[string]string{
	"db":        KeyDBPath,
	"state-dir": KeyStatePath,
	"log-level": KeyLogLevel,
	"log-path":  KeyLogPath,
}

var defaults = map[string]any{
	KeyDBPath:       "betulon.db",
	KeyStatePath:    ".",
	KeyLogLevel:     "warn",
	KeyLogPath:      "",
	KeyMaxAttempts:  5,
	KeyRetryDelay:   "2s",
	KeyExtraTags:    "mastodon_bookmark",
	KeyPageLimit:    40,
	KeyRateInterval: "1s",
	KeyTimeout:      "30s",
}

var (
	ErrMissingServer = errors.New(KeyServer + " is not set")
	ErrMissingToken  = errors.New(KeyAccessToken + " is not set")
	ErrInvalidURL    = errors.New("invalid Mastodon server URL")
)

type Config struct {
	DBPath    string
	StatePath string
	LogLevel  string
	LogPath   string

	MastodonURL  string
	AccessToken  string
	PageLimit    int
	RateInterval time.Duration
	Timeout      time.Duration

	MaxAttempts int
	RetryDelay  time.Duration
	ExtraTags   []string
}

// Load reads envFile (if it exists) into the process environment without
// overriding variables already set, then resolves every key. flags may be nil.
func Load(flags *pflag.FlagSet, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	return &Config{
		DBPath:       v.GetString(KeyDBPath),
		StatePath:    v.GetString(KeyStatePath),
		LogLevel:     v.GetString(KeyLogLevel),
		LogPath:      v.GetString(KeyLogPath),
		MastodonURL:  strings.TrimSpace(v.GetString(KeyServer)),
		AccessToken:  strings.TrimSpace(v.GetString(KeyAccessToken)),
		PageLimit:    v.GetInt(KeyPageLimit),
		RateInterval: v.GetDuration(KeyRateInterval),
		Timeout:      v.GetDuration(KeyTimeout),
		MaxAttempts:  v.GetInt(KeyMaxAttempts),
		RetryDelay:   v.GetDuration(KeyRetryDelay),
		ExtraTags:    splitTags(v.GetString(KeyExtraTags)),
	}, nil
}

// splitTags parses a comma-separated list. The result is never nil so an
// explicit empty list is kept.
func splitTags(s string) []string {
	tags := []string{}
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Validate checks the settings a sync needs.
func (c *Config) Validate() error {
	if c.MastodonURL == "" {
		return ErrMissingServer
	}
	u, err := url.Parse(c.MastodonURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, c.MastodonURL)
	}
	if c.AccessToken == "" {
		return ErrMissingToken
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyMaxAttempts, c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyRetryDelay, c.RetryDelay)
	}
	if c.PageLimit < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyPageLimit, c.PageLimit)
	}
	return nil
}
