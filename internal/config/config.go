// Package config loads and validates the crosspost configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultStoragePath = ".crosspost/crosspost.db"
	DefaultInterval    = 60 * time.Minute
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Feed kinds.
const (
	FeedRSS     = "rss"
	FeedYouTube = "youtube"
)

// Publisher kinds. The set is closed: adding a platform means a new
// constant, a new sender, and one registry entry.
const (
	KindTelegram    = "telegram"
	KindX           = "x"
	KindMastodon    = "mastodon"
	KindLinkedIn    = "linkedin"
	KindMatrix      = "matrix"
	KindBluesky     = "bluesky"
	KindThreads     = "threads"
	KindOpenObserve = "openobserve"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

type Config struct {
	Feeds      []Feed                `yaml:"feeds"`
	Publishers map[string]*Publisher `yaml:"publishers"`
	YouTube    YouTubeConfig         `yaml:"youtube"`
	Schedule   ScheduleConfig        `yaml:"schedule"`
	Storage    StorageConfig         `yaml:"storage"`
}

type Feed struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	Name       string   `yaml:"name"`
	Enabled    bool     `yaml:"enabled"`
	Publishers []string `yaml:"publishers"`

	// RSS/Atom.
	URL string `yaml:"url,omitempty"`

	// YouTube: one of channel_id, playlist_id, username.
	ChannelID  string `yaml:"channel_id,omitempty"`
	PlaylistID string `yaml:"playlist_id,omitempty"`
	Username   string `yaml:"username,omitempty"`
	MaxResults int    `yaml:"max_results,omitempty"`

	CheckInterval Duration `yaml:"check_interval,omitempty"`
	MaxRetries    int      `yaml:"max_retries,omitempty"`
	RetryDelay    Duration `yaml:"retry_delay,omitempty"`
}

// Publisher is a flat union of all platform settings; Type selects
// which fields are meaningful. Static secrets can be given inline or
// indirected through an environment variable name.
type Publisher struct {
	Type     string `yaml:"type"`
	Template string `yaml:"template,omitempty"`

	// Telegram.
	BotToken        string `yaml:"bot_token,omitempty"`
	BotTokenEnv     string `yaml:"bot_token_env,omitempty"`
	ChatID          string `yaml:"chat_id,omitempty"`
	ParseMode       string `yaml:"parse_mode,omitempty"`
	MessageThreadID string `yaml:"message_thread_id,omitempty"`

	// X and LinkedIn OAuth2 client.
	ClientID        string `yaml:"client_id,omitempty"`
	ClientSecret    string `yaml:"client_secret,omitempty"`
	ClientSecretEnv string `yaml:"client_secret_env,omitempty"`
	RedirectURI     string `yaml:"redirect_uri,omitempty"`

	// OAuth token state, written back by the token manager.
	AccessToken  string    `yaml:"access_token,omitempty"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	TokenExpiry  time.Time `yaml:"token_expiry,omitempty"`

	AccessTokenEnv string `yaml:"access_token_env,omitempty"`

	// Mastodon.
	ServerURL string `yaml:"server_url,omitempty"`

	// LinkedIn person or organization id; Threads numeric user id.
	UserID string `yaml:"user_id,omitempty"`

	// Matrix.
	HomeserverURL string `yaml:"homeserver_url,omitempty"`
	RoomID        string `yaml:"room_id,omitempty"`

	// Bluesky.
	Handle         string `yaml:"handle,omitempty"`
	AppPassword    string `yaml:"app_password,omitempty"`
	AppPasswordEnv string `yaml:"app_password_env,omitempty"`
	PDSURL         string `yaml:"pds_url,omitempty"`

	// OpenObserve.
	URL          string `yaml:"url,omitempty"`
	Organization string `yaml:"organization,omitempty"`
	Stream       string `yaml:"stream,omitempty"`
}

type YouTubeConfig struct {
	APIKey            string `yaml:"api_key,omitempty"`
	APIKeyEnv         string `yaml:"api_key_env,omitempty"`
	DefaultMaxResults int    `yaml:"default_max_results,omitempty"`
}

type ScheduleConfig struct {
	DefaultInterval Duration `yaml:"default_interval"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads the config file, applies defaults, resolves env vars, and validates.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Schedule.DefaultInterval.Duration == 0 {
		cfg.Schedule.DefaultInterval.Duration = DefaultInterval
	}
	if cfg.YouTube.DefaultMaxResults == 0 {
		cfg.YouTube.DefaultMaxResults = 10
	}
	for i := range cfg.Feeds {
		if cfg.Feeds[i].MaxRetries == 0 {
			cfg.Feeds[i].MaxRetries = DefaultMaxRetries
		}
		if cfg.Feeds[i].RetryDelay.Duration == 0 {
			cfg.Feeds[i].RetryDelay.Duration = DefaultRetryDelay
		}
		if cfg.Feeds[i].CheckInterval.Duration == 0 {
			cfg.Feeds[i].CheckInterval = cfg.Schedule.DefaultInterval
		}
	}
}

func resolveEnv(cfg *Config) {
	if cfg.YouTube.APIKeyEnv != "" {
		if v := os.Getenv(cfg.YouTube.APIKeyEnv); v != "" {
			cfg.YouTube.APIKey = v
		}
	}
	for _, p := range cfg.Publishers {
		if p.BotTokenEnv != "" {
			if v := os.Getenv(p.BotTokenEnv); v != "" {
				p.BotToken = v
			}
		}
		if p.ClientSecretEnv != "" {
			if v := os.Getenv(p.ClientSecretEnv); v != "" {
				p.ClientSecret = v
			}
		}
		if p.AccessTokenEnv != "" {
			if v := os.Getenv(p.AccessTokenEnv); v != "" {
				p.AccessToken = v
			}
		}
		if p.AppPasswordEnv != "" {
			if v := os.Getenv(p.AppPasswordEnv); v != "" {
				p.AppPassword = v
			}
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Feeds) == 0 {
		return errors.New("feeds: at least one feed must be configured")
	}
	if len(cfg.Publishers) == 0 {
		return errors.New("publishers: at least one publisher must be configured")
	}

	seen := make(map[string]bool)
	for _, f := range cfg.Feeds {
		if strings.TrimSpace(f.ID) == "" {
			return errors.New("feeds: id is required")
		}
		if seen[f.ID] {
			return fmt.Errorf("feeds: duplicate id %q", f.ID)
		}
		seen[f.ID] = true

		switch f.Type {
		case FeedRSS:
			if f.URL == "" {
				return fmt.Errorf("feed %q: url is required for rss feeds", f.ID)
			}
		case FeedYouTube:
			if f.ChannelID == "" && f.PlaylistID == "" && f.Username == "" {
				return fmt.Errorf("feed %q: channel_id, playlist_id, or username is required", f.ID)
			}
			if cfg.YouTube.APIKey == "" {
				return fmt.Errorf("feed %q: youtube.api_key is required for youtube feeds", f.ID)
			}
		default:
			return fmt.Errorf("feed %q: unknown type %q (want rss or youtube)", f.ID, f.Type)
		}

		for _, pid := range f.Publishers {
			if _, ok := cfg.Publishers[pid]; !ok {
				return fmt.Errorf("feed %q: references unknown publisher %q", f.ID, pid)
			}
		}
	}

	for id, p := range cfg.Publishers {
		if err := validatePublisher(id, p); err != nil {
			return err
		}
	}

	return nil
}

func validatePublisher(id string, p *Publisher) error {
	switch p.Type {
	case KindTelegram:
		if p.BotToken == "" || p.ChatID == "" {
			return fmt.Errorf("publisher %q: bot_token and chat_id are required", id)
		}
	case KindX:
		if p.ClientID == "" || p.ClientSecret == "" {
			return fmt.Errorf("publisher %q: client_id and client_secret are required", id)
		}
	case KindMastodon:
		if p.ServerURL == "" || p.AccessToken == "" {
			return fmt.Errorf("publisher %q: server_url and access_token are required", id)
		}
	case KindLinkedIn:
		if p.ClientID == "" || p.ClientSecret == "" {
			return fmt.Errorf("publisher %q: client_id and client_secret are required", id)
		}
	case KindMatrix:
		if p.HomeserverURL == "" || p.AccessToken == "" || p.RoomID == "" {
			return fmt.Errorf("publisher %q: homeserver_url, access_token, and room_id are required", id)
		}
	case KindBluesky:
		if p.Handle == "" || p.AppPassword == "" {
			return fmt.Errorf("publisher %q: handle and app_password are required", id)
		}
	case KindThreads:
		if p.AccessToken == "" || p.UserID == "" {
			return fmt.Errorf("publisher %q: access_token and user_id are required", id)
		}
	case KindOpenObserve:
		if p.URL == "" || p.Organization == "" || p.Stream == "" || p.AccessToken == "" {
			return fmt.Errorf("publisher %q: url, organization, stream, and access_token are required", id)
		}
	default:
		return fmt.Errorf("publisher %q: unknown type %q", id, p.Type)
	}
	return nil
}

// FeedByID returns the feed with the given id, or nil.
func (c *Config) FeedByID(id string) *Feed {
	for i := range c.Feeds {
		if c.Feeds[i].ID == id {
			return &c.Feeds[i]
		}
	}
	return nil
}
