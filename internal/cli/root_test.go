package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/crosspost/internal/config"
)

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestExecuteVersion(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	oldConfigFile := configFile
	configFile = filepath.Join(t.TempDir(), "config.yaml")
	defer func() { configFile = oldConfigFile }()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	if err := initAction(nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(configFile); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	// The example must pass the loader's validation as-is.
	if _, err := config.Load(configFile); err != nil {
		t.Fatalf("example config does not load: %v", err)
	}

	// Re-running init must not clobber the file.
	if err := initAction(nil, nil); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestOnlyPublisherOfKind(t *testing.T) {
	cfg := &config.Config{
		Publishers: map[string]*config.Publisher{
			"x-main": {Type: config.KindX},
			"tg-one": {Type: config.KindTelegram},
			"tg-two": {Type: config.KindTelegram},
		},
	}

	id, err := onlyPublisherOfKind(cfg, config.KindX)
	if err != nil {
		t.Fatalf("expected single match: %v", err)
	}
	if id != "x-main" {
		t.Fatalf("got %q", id)
	}

	if _, err := onlyPublisherOfKind(cfg, config.KindTelegram); err == nil {
		t.Fatalf("expected error for ambiguous kind")
	}
	if _, err := onlyPublisherOfKind(cfg, config.KindBluesky); err == nil {
		t.Fatalf("expected error for missing kind")
	}
}
