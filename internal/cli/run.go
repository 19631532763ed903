package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/logging"
	"github.com/ppiankov/crosspost/internal/oauth"
	"github.com/ppiankov/crosspost/internal/publish"
	"github.com/ppiankov/crosspost/internal/scheduler"
	"github.com/ppiankov/crosspost/internal/store"
	"github.com/ppiankov/crosspost/internal/youtube"
)

var (
	runOnce   bool
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch feeds and republish new posts",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "check every feed once, then exit")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "fetch and select posts but send nothing and write nothing")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	var yt *youtube.Client
	if cfg.YouTube.APIKey != "" {
		yt = youtube.NewClient(cfg.YouTube.APIKey)
	}

	tokens := oauth.NewManager(configFile, cfg.Publishers)

	registry, err := publish.NewRegistry(cfg, tokens)
	if err != nil {
		return fmt.Errorf("build publishers: %w", err)
	}

	sched := scheduler.New(cfg, feed.NewFetcher(yt), db, registry, scheduler.Options{
		Once:   runOnce,
		DryRun: runDryRun,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runDryRun {
		logging.Logger.Info("dry run: nothing will be sent or recorded")
	}

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Logger.Info("shutting down")
		return nil
	}
	return err
}
