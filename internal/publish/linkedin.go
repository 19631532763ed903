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

type linkedinSender struct {
	id      string
	userID  string
	client  *http.Client
	tokens  *oauth.Manager
	render  renderFunc
	baseURL string
}

func newLinkedIn(id string, p *config.Publisher, client *http.Client, tokens *oauth.Manager, rf renderFunc) *linkedinSender {
	return &linkedinSender{
		id:      id,
		userID:  p.UserID,
		client:  client,
		tokens:  tokens,
		render:  rf,
		baseURL: "https://api.linkedin.com",
	}
}

func (s *linkedinSender) ID() string   { return s.id }
func (s *linkedinSender) Kind() string { return config.KindLinkedIn }

// authorURN decides between a personal profile and an organization
// purely from the identifier's shape: LinkedIn organization ids are
// numeric, member ids are not.
func authorURN(userID string) string {
	if userID == "" {
		return ""
	}
	numeric := true
	for _, r := range userID {
		if r < '0' || r > '9' {
			numeric = false
			break
		}
	}
	if numeric {
		return "urn:li:organization:" + userID
	}
	return "urn:li:person:" + userID
}

func (s *linkedinSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	commentary, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}

	urn := authorURN(s.userID)
	if urn == "" {
		return "", retry.Terminal(errors.New("linkedin: user_id is required to resolve the author"))
	}

	id, err := s.send(ctx, urn, commentary, post)
	if err == nil {
		return id, nil
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
		s.tokens.Invalidate(s.id)
		id, retryErr := s.send(ctx, urn, commentary, post)
		if retryErr == nil {
			return id, nil
		}
		return "", retry.Classify(retryErr)
	}

	return "", retry.Classify(err)
}

func (s *linkedinSender) send(ctx context.Context, urn, commentary string, post feed.Post) (string, error) {
	token, err := s.tokens.Token(ctx, s.id)
	if err != nil {
		if errors.Is(err, oauth.ErrReauthorizeRequired) {
			return "", retry.Terminal(err)
		}
		return "", err
	}

	payload := map[string]any{
		"author":         urn,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": commentary},
				"shareMediaCategory": "ARTICLE",
				"media": []map[string]any{{
					"status":      "READY",
					"originalUrl": post.URL,
					"title":       map[string]any{"text": post.Title},
					"description": map[string]any{"text": post.Description},
				}},
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	headers := map[string]string{
		"Authorization":             "Bearer " + token,
		"X-Restli-Protocol-Version": "2.0.0",
	}

	var res struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/v2/ugcPosts", headers, payload, &res); err != nil {
		return "", err
	}

	return res.ID, nil
}
