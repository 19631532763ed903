package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/crosspost/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultConfigFile
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	fmt.Println("Edit the file, then check it with: crosspost doctor")
	return nil
}

const exampleConfig = `# crosspost configuration

feeds:
  - id: blog
    type: rss
    name: "My Blog"
    enabled: true
    url: "https://example.com/feed.xml"
    check_interval: 30m
    publishers: [tg-main]

  # - id: channel
  #   type: youtube
  #   name: "My Channel"
  #   enabled: true
  #   channel_id: "UCxxxxxxxxxxxxxxxxxxxxxx"
  #   publishers: [tg-main]

publishers:
  tg-main:
    type: telegram
    bot_token_env: TELEGRAM_BOT_TOKEN
    chat_id: "@my_channel"
    parse_mode: HTML

  # x-main:
  #   type: x
  #   client_id: "your-client-id"
  #   client_secret_env: X_CLIENT_SECRET
  #   # then run: crosspost oauth x

  # mastodon-main:
  #   type: mastodon
  #   server_url: "https://mastodon.social"
  #   access_token_env: MASTODON_ACCESS_TOKEN

  # bsky-main:
  #   type: bluesky
  #   handle: "me.bsky.social"
  #   app_password_env: BLUESKY_APP_PASSWORD

# youtube:
#   api_key_env: YOUTUBE_API_KEY

schedule:
  default_interval: 60m

storage:
  path: .crosspost/crosspost.db
`
