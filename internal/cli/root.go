// Package cli provides the command-line interface for crosspost.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crosspost/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "crosspost",
	Short: "Republish RSS and YouTube feeds to social platforms",
	Long:  "crosspost watches RSS/Atom feeds and YouTube channels and republishes new posts to Telegram, X, Mastodon, LinkedIn, Matrix, Bluesky, Threads, and OpenObserve, exactly once per destination.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("crosspost %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigFile, "path to config file")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
