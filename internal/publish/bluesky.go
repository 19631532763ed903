package publish

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/retry"
)

// Bluesky post length limit in graphemes; runes are close enough for
// feed titles.
const blueskyMaxLen = 300

const defaultPDSURL = "https://bsky.social"

type blueskySession struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
}

type blueskySender struct {
	id          string
	handle      string
	appPassword string
	pdsURL      string
	client      *http.Client
	render      renderFunc

	mu      sync.Mutex
	session *blueskySession
}

func newBluesky(id string, p *config.Publisher, client *http.Client, rf renderFunc) *blueskySender {
	pds := strings.TrimRight(p.PDSURL, "/")
	if pds == "" {
		pds = defaultPDSURL
	}
	return &blueskySender{
		id:          id,
		handle:      p.Handle,
		appPassword: p.AppPassword,
		pdsURL:      pds,
		client:      client,
		render:      rf,
	}
}

func (s *blueskySender) ID() string   { return s.id }
func (s *blueskySender) Kind() string { return config.KindBluesky }

func (s *blueskySender) Publish(ctx context.Context, post feed.Post) (string, error) {
	text, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}
	text = truncateRunes(text, blueskyMaxLen)

	uri, err := s.createRecord(ctx, text, post.URL)
	if err == nil {
		return uri, nil
	}

	// Sessions expire; renew once and resend before classifying.
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
		s.dropSession()
		uri, retryErr := s.createRecord(ctx, text, post.URL)
		if retryErr == nil {
			return uri, nil
		}
		return "", retry.Classify(retryErr)
	}

	return "", retry.Classify(err)
}

func (s *blueskySender) createRecord(ctx context.Context, text, linkURL string) (string, error) {
	sess, err := s.getSession(ctx)
	if err != nil {
		return "", err
	}

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if facets := linkFacets(text, linkURL); len(facets) > 0 {
		record["facets"] = facets
	}

	payload := map[string]any{
		"repo":       sess.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}
	headers := map[string]string{"Authorization": "Bearer " + sess.AccessJwt}

	var res struct {
		URI string `json:"uri"`
	}
	url := s.pdsURL + "/xrpc/com.atproto.repo.createRecord"
	if err := doJSON(ctx, s.client, http.MethodPost, url, headers, payload, &res); err != nil {
		return "", err
	}

	return res.URI, nil
}

func (s *blueskySender) getSession(ctx context.Context) (*blueskySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return s.session, nil
	}

	payload := map[string]any{
		"identifier": s.handle,
		"password":   s.appPassword,
	}

	var sess blueskySession
	url := s.pdsURL + "/xrpc/com.atproto.server.createSession"
	if err := doJSON(ctx, s.client, http.MethodPost, url, nil, payload, &sess); err != nil {
		return nil, err
	}

	s.session = &sess
	return s.session, nil
}

func (s *blueskySender) dropSession() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

// linkFacets marks every occurrence of linkURL in text as a clickable
// link. Offsets are byte positions, per the atproto facet contract.
func linkFacets(text, linkURL string) []map[string]any {
	if linkURL == "" {
		return nil
	}

	var facets []map[string]any
	for start := 0; ; {
		i := strings.Index(text[start:], linkURL)
		if i < 0 {
			break
		}
		begin := start + i
		end := begin + len(linkURL)
		facets = append(facets, map[string]any{
			"index": map[string]any{
				"byteStart": begin,
				"byteEnd":   end,
			},
			"features": []map[string]any{{
				"$type": "app.bsky.richtext.facet#link",
				"uri":   linkURL,
			}},
		})
		start = end
	}
	return facets
}
