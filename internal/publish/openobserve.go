package publish

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/retry"
)

// openobserveSender ships posts as structured records into an
// OpenObserve stream, making the ingestion endpoint behave like any
// other destination.
type openobserveSender struct {
	id     string
	url    string
	org    string
	stream string
	// token is the base64 user:password pair for basic auth.
	token  string
	client *http.Client
	render renderFunc
}

func newOpenObserve(id string, p *config.Publisher, client *http.Client, rf renderFunc) *openobserveSender {
	return &openobserveSender{
		id:     id,
		url:    strings.TrimRight(p.URL, "/"),
		org:    p.Organization,
		stream: p.Stream,
		token:  p.AccessToken,
		client: client,
		render: rf,
	}
}

func (s *openobserveSender) ID() string   { return s.id }
func (s *openobserveSender) Kind() string { return config.KindOpenObserve }

func (s *openobserveSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	message, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}

	record := map[string]any{
		"_timestamp":  time.Now().UnixMicro(),
		"feed_id":     post.FeedID,
		"external_id": post.ExternalID,
		"title":       post.Title,
		"url":         post.URL,
		"published":   post.Published.UTC().Format(time.RFC3339),
		"message":     message,
	}
	payload := []map[string]any{record}
	headers := map[string]string{"Authorization": "Basic " + s.token}

	ingestURL := fmt.Sprintf("%s/api/%s/%s/_json", s.url, s.org, s.stream)
	if err := doJSON(ctx, s.client, http.MethodPost, ingestURL, headers, payload, nil); err != nil {
		return "", retry.Classify(err)
	}

	return post.ExternalID, nil
}
