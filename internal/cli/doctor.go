package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/oauth"
	"github.com/ppiankov/crosspost/internal/publish"
	"github.com/ppiankov/crosspost/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, storage, and publisher health",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config file
	if _, err := os.Stat(configFile); err != nil {
		printCheck(false, "config file %s (run: crosspost init)", configFile)
		return fmt.Errorf("some checks failed")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		printCheck(false, "config: %v", err)
		return fmt.Errorf("some checks failed")
	}
	enabled := 0
	for _, f := range cfg.Feeds {
		if f.Enabled {
			enabled++
		}
	}
	printCheck(true, "config %s (%d feeds, %d enabled, %d publishers)",
		configFile, len(cfg.Feeds), enabled, len(cfg.Publishers))

	// Database
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "database %s", cfg.Storage.Path)

		ctx := cmd.Context()
		for _, f := range cfg.Feeds {
			if !f.Enabled {
				continue
			}
			n, err := db.PublicationCount(ctx, f.ID)
			if err != nil {
				continue
			}
			cache, err := db.GetCache(ctx, f.ID)
			if err == nil && !cache.LastChecked.IsZero() {
				printInfo("feed %s: %d publications, last checked %s", f.ID, n, cache.LastChecked.Format("2006-01-02 15:04"))
			} else {
				printInfo("feed %s: %d publications, never checked", f.ID, n)
			}
		}
	}

	// Publishers build cleanly (templates parse, types are known)
	tokens := oauth.NewManager(configFile, cfg.Publishers)
	reg, err := publish.NewRegistry(cfg, tokens)
	switch {
	case err != nil:
		printCheck(false, "publishers: %v", err)
		ok = false
	case len(reg.IDs()) != len(cfg.Publishers):
		printCheck(false, "publishers: %d of %d usable (check templates)", len(reg.IDs()), len(cfg.Publishers))
		ok = false
	default:
		printCheck(true, "publishers (%d configured)", len(cfg.Publishers))
	}

	// OAuth publishers have token state
	for id, p := range cfg.Publishers {
		if p.Type != config.KindX && p.Type != config.KindLinkedIn {
			continue
		}
		if p.RefreshToken == "" && p.AccessToken == "" {
			printCheck(false, "publisher %s: no tokens (run: crosspost oauth %s --publisher %s)", id, p.Type, id)
			ok = false
		} else {
			printCheck(true, "publisher %s: tokens present", id)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
