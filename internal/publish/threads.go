package publish

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/retry"
)

// Threads post length limit.
const threadsMaxLen = 500

// The Graph API needs a moment between container creation and publish.
const threadsPublishDelay = 2 * time.Second

// Overridable in tests.
var threadsSleep = sleepCtx

type threadsSender struct {
	id          string
	userID      string
	accessToken string
	client      *http.Client
	render      renderFunc
	baseURL     string
}

func newThreads(id string, p *config.Publisher, client *http.Client, rf renderFunc) *threadsSender {
	return &threadsSender{
		id:          id,
		userID:      p.UserID,
		accessToken: p.AccessToken,
		client:      client,
		render:      rf,
		baseURL:     "https://graph.threads.net",
	}
}

func (s *threadsSender) ID() string   { return s.id }
func (s *threadsSender) Kind() string { return config.KindThreads }

// Publish runs the two-step Graph API flow: create a media container,
// wait for it to become ready, then publish it.
func (s *threadsSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	text, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}
	text = truncateRunes(text, threadsMaxLen)

	createPayload := map[string]any{
		"media_type":   "TEXT",
		"text":         text,
		"access_token": s.accessToken,
	}

	var container struct {
		ID string `json:"id"`
	}
	createURL := fmt.Sprintf("%s/v1.0/%s/threads", s.baseURL, s.userID)
	if err := doJSON(ctx, s.client, http.MethodPost, createURL, nil, createPayload, &container); err != nil {
		return "", retry.Classify(err)
	}
	if container.ID == "" {
		return "", retry.Terminal(fmt.Errorf("threads: container creation returned no id"))
	}

	if err := threadsSleep(ctx, threadsPublishDelay); err != nil {
		return "", err
	}

	publishPayload := map[string]any{
		"creation_id":  container.ID,
		"access_token": s.accessToken,
	}

	var published struct {
		ID string `json:"id"`
	}
	publishURL := fmt.Sprintf("%s/v1.0/%s/threads_publish", s.baseURL, s.userID)
	if err := doJSON(ctx, s.client, http.MethodPost, publishURL, nil, publishPayload, &published); err != nil {
		return "", retry.Classify(err)
	}

	return published.ID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
