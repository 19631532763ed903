package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/oauth"
)

var oauthPublisher string

var oauthCmd = &cobra.Command{
	Use:       "oauth <x|linkedin>",
	Short:     "Run the interactive OAuth2 authorization flow for a publisher",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{config.KindX, config.KindLinkedIn},
	RunE:      oauthAction,
}

func init() {
	oauthCmd.Flags().StringVar(&oauthPublisher, "publisher", "", "publisher id (defaults to the only publisher of the given type)")
	rootCmd.AddCommand(oauthCmd)
}

func oauthAction(cmd *cobra.Command, args []string) error {
	kind := args[0]

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id := oauthPublisher
	if id == "" {
		id, err = onlyPublisherOfKind(cfg, kind)
		if err != nil {
			return err
		}
	}

	p, ok := cfg.Publishers[id]
	if !ok {
		return fmt.Errorf("unknown publisher %q", id)
	}
	if p.Type != kind {
		return fmt.Errorf("publisher %q has type %q, not %q", id, p.Type, kind)
	}

	tokens := oauth.NewManager(configFile, cfg.Publishers)
	tokens.Input = os.Stdin
	return tokens.Authorize(cmd.Context(), id, os.Stdout)
}

func onlyPublisherOfKind(cfg *config.Config, kind string) (string, error) {
	var ids []string
	for id, p := range cfg.Publishers {
		if p.Type == kind {
			ids = append(ids, id)
		}
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no %s publisher configured", kind)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("multiple %s publishers configured, pick one with --publisher", kind)
}
