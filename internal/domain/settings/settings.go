// Package settings stores device-level application configuration: the report
// generation webhook and the optional remote store. Values saved here take
// priority over environment defaults, and a value that does not parse as a
// well-formed URL is treated as absent.
package settings

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openrad/openrad/internal/platform/localstore"
)

// SettingsKey is the local store key holding the app configuration.
const SettingsKey = "openrad_config"

// AppConfig is the locally saved configuration block.
type AppConfig struct {
	WebhookURL string `json:"webhook_url"`
	RemoteURL  string `json:"remote_url"`
	RemoteKey  string `json:"remote_key"`
}

// Store reads and writes the device configuration.
type Store struct {
	store  *localstore.Store
	logger zerolog.Logger
}

// NewStore returns a settings store over the device key-value store.
func NewStore(store *localstore.Store, logger zerolog.Logger) *Store {
	return &Store{store: store, logger: logger}
}

// Get returns the saved configuration, or an empty one when none exists.
func (s *Store) Get() AppConfig {
	var cfg AppConfig
	if err := s.store.Get(SettingsKey, &cfg); err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("loading settings failed")
		}
		return AppConfig{}
	}
	return cfg
}

// Put validates and overwrites the saved configuration. Supplied URLs must be
// well-formed; empty values are allowed and mean "unset".
func (s *Store) Put(cfg AppConfig) error {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	cfg.RemoteURL = strings.TrimSpace(cfg.RemoteURL)
	if cfg.WebhookURL != "" {
		if err := ValidateURL(cfg.WebhookURL, "http", "https"); err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
	}
	if cfg.RemoteURL != "" {
		if err := ValidateURL(cfg.RemoteURL, "http", "https", "postgres", "postgresql"); err != nil {
			return fmt.Errorf("remote url: %w", err)
		}
	}
	return s.store.Put(SettingsKey, cfg)
}

// ValidateURL checks that raw parses as an absolute URL with one of the
// accepted schemes and a host.
func ValidateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if scheme == s {
			return nil
		}
	}
	return fmt.Errorf("url scheme must be one of %s, got %q", strings.Join(schemes, "/"), u.Scheme)
}

// Resolver merges saved settings with environment defaults: a locally saved
// value wins, an env value fills the gap, and malformed values resolve to
// empty so callers degrade to unconfigured behavior instead of failing.
type Resolver struct {
	store         *Store
	envWebhookURL string
	envRemoteURL  string
	envRemoteKey  string
}

// NewResolver builds a Resolver over the settings store and env defaults.
func NewResolver(store *Store, envWebhookURL, envRemoteURL, envRemoteKey string) *Resolver {
	return &Resolver{
		store:         store,
		envWebhookURL: envWebhookURL,
		envRemoteURL:  envRemoteURL,
		envRemoteKey:  envRemoteKey,
	}
}

// WebhookURL returns the effective generation webhook URL, or "" when none is
// configured or the configured value is malformed.
func (r *Resolver) WebhookURL() string {
	raw := strings.TrimSpace(r.store.Get().WebhookURL)
	if raw == "" {
		raw = strings.TrimSpace(r.envWebhookURL)
	}
	if raw == "" {
		return ""
	}
	if err := ValidateURL(raw, "http", "https"); err != nil {
		return ""
	}
	return raw
}

// Remote returns the effective remote store URL and key. An empty URL means
// the remote adapter is unavailable and the application runs local-only.
func (r *Resolver) Remote() (rawURL, key string) {
	cfg := r.store.Get()
	rawURL = strings.TrimSpace(cfg.RemoteURL)
	key = cfg.RemoteKey
	if rawURL == "" {
		rawURL = strings.TrimSpace(r.envRemoteURL)
		key = r.envRemoteKey
	}
	if rawURL == "" {
		return "", ""
	}
	if err := ValidateURL(rawURL, "http", "https", "postgres", "postgresql"); err != nil {
		return "", ""
	}
	return rawURL, key
}
