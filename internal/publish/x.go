package publish

import (
	"context"
	"errors"
	"net/http"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/oauth"
	"github.com/ppiankov/crosspost/internal/retry"
)

// X post length limit.
const xMaxLen = 280

type xSender struct {
	id      string
	client  *http.Client
	tokens  *oauth.Manager
	render  renderFunc
	baseURL string
}

func newX(id string, client *http.Client, tokens *oauth.Manager, rf renderFunc) *xSender {
	return &xSender{
		id:      id,
		client:  client,
		tokens:  tokens,
		render:  rf,
		baseURL: "https://api.twitter.com",
	}
}

func (s *xSender) ID() string   { return s.id }
func (s *xSender) Kind() string { return config.KindX }

func (s *xSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	text, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}
	text = truncateRunes(text, xMaxLen)

	id, err := s.send(ctx, text)
	if err == nil {
		return id, nil
	}

	// An expired bearer gets one immediate refresh-and-retry before
	// the error surfaces to the retry executor.
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
		s.tokens.Invalidate(s.id)
		id, retryErr := s.send(ctx, text)
		if retryErr == nil {
			return id, nil
		}
		return "", retry.Classify(retryErr)
	}

	return "", retry.Classify(err)
}

func (s *xSender) send(ctx context.Context, text string) (string, error) {
	token, err := s.tokens.Token(ctx, s.id)
	if err != nil {
		if errors.Is(err, oauth.ErrReauthorizeRequired) {
			return "", retry.Terminal(err)
		}
		return "", err
	}

	payload := map[string]any{"text": text}
	headers := map[string]string{"Authorization": "Bearer " + token}

	var res struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/2/tweets", headers, payload, &res); err != nil {
		return "", err
	}

	return res.Data.ID, nil
}
