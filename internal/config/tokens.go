package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenState is the persisted OAuth token state for one publisher.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

var tokenFileMu sync.Mutex

// SaveTokens rewrites the token fields of one publisher in the config
// file. It re-reads the raw file so resolved env secrets are never
// written back; only the token manager calls this.
func SaveTokens(path, publisherID string, ts TokenState) error {
	tokenFileMu.Lock()
	defer tokenFileMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	p, ok := cfg.Publishers[publisherID]
	if !ok {
		return fmt.Errorf("publisher %q not found in config", publisherID)
	}

	p.AccessToken = ts.AccessToken
	p.RefreshToken = ts.RefreshToken
	p.TokenExpiry = ts.Expiry

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
