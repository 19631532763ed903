package publish

import (
	"context"
	"net/http"
	"strings"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/retry"
)

type mastodonSender struct {
	id          string
	serverURL   string
	accessToken string
	client      *http.Client
	render      renderFunc
}

func newMastodon(id string, p *config.Publisher, client *http.Client, rf renderFunc) *mastodonSender {
	return &mastodonSender{
		id:          id,
		serverURL:   strings.TrimRight(p.ServerURL, "/"),
		accessToken: p.AccessToken,
		client:      client,
		render:      rf,
	}
}

func (s *mastodonSender) ID() string   { return s.id }
func (s *mastodonSender) Kind() string { return config.KindMastodon }

func (s *mastodonSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	status, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}

	payload := map[string]any{
		"status":     status,
		"visibility": "public",
	}
	headers := map[string]string{"Authorization": "Bearer " + s.accessToken}

	var res struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, s.client, http.MethodPost, s.serverURL+"/api/v1/statuses", headers, payload, &res); err != nil {
		return "", retry.Classify(err)
	}

	return res.ID, nil
}
