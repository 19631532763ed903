// Package publish maps publisher ids to concrete platform senders.
// The platform set is closed; a new platform is one sender file and
// one registry case.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/logging"
	"github.com/ppiankov/crosspost/internal/oauth"
	"github.com/ppiankov/crosspost/internal/render"
	"github.com/ppiankov/crosspost/internal/retry"
)

const sendTimeout = 30 * time.Second

// Publisher sends one rendered post to one destination. Publish
// returns a remote id on success; errors are classified for the retry
// executor (platform rejections come back marked terminal).
type Publisher interface {
	ID() string
	Kind() string
	Publish(ctx context.Context, post feed.Post) (string, error)
}

// renderFunc renders a post with the publisher's configured template.
type renderFunc func(post feed.Post) (string, error)

// Registry holds the configured publishers by id.
type Registry struct {
	publishers map[string]Publisher
}

// NewRegistry builds senders from configuration. Templates are parsed
// here; a publisher with a broken template is disabled rather than
// blocking the rest. OAuth-backed senders get their tokens exclusively
// through the manager.
func NewRegistry(cfg *config.Config, tokens *oauth.Manager) (*Registry, error) {
	renderer := render.New()
	client := &http.Client{Timeout: sendTimeout}

	reg := &Registry{publishers: make(map[string]Publisher)}

	for id, p := range cfg.Publishers {
		tmpl := p.Template
		if tmpl == "" {
			tmpl = render.DefaultTemplate(p.Type)
		}
		if err := renderer.Add(id, tmpl); err != nil {
			logging.Logger.Error("publisher disabled", "publisher", id, "err", err)
			continue
		}
		rf := func(id string) renderFunc {
			return func(post feed.Post) (string, error) {
				return renderer.Render(id, post)
			}
		}(id)

		var pub Publisher
		switch p.Type {
		case config.KindTelegram:
			pub = newTelegram(id, p, client, rf)
		case config.KindX:
			pub = newX(id, client, tokens, rf)
		case config.KindMastodon:
			pub = newMastodon(id, p, client, rf)
		case config.KindLinkedIn:
			pub = newLinkedIn(id, p, client, tokens, rf)
		case config.KindMatrix:
			pub = newMatrix(id, p, client, rf)
		case config.KindBluesky:
			pub = newBluesky(id, p, client, rf)
		case config.KindThreads:
			pub = newThreads(id, p, client, rf)
		case config.KindOpenObserve:
			pub = newOpenObserve(id, p, client, rf)
		default:
			return nil, fmt.Errorf("publisher %q: unknown type %q", id, p.Type)
		}
		reg.publishers[id] = pub
	}

	return reg, nil
}

// Get returns the publisher with the given id.
func (r *Registry) Get(id string) (Publisher, bool) {
	p, ok := r.publishers[id]
	return p, ok
}

// IDs returns all registered publisher ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.publishers))
	for id := range r.publishers {
		ids = append(ids, id)
	}
	return ids
}

// doJSON performs an HTTP request with a JSON body and decodes a JSON
// response into out. Non-2xx statuses come back as *retry.HTTPError
// with a body excerpt, unclassified so senders can special-case 401.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return retry.Terminal(fmt.Errorf("encode payload: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return retry.Terminal(fmt.Errorf("build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &retry.HTTPError{Status: res.StatusCode, Body: string(excerpt)}
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return retry.Terminal(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// truncateRunes hard-caps s at a platform character limit.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
