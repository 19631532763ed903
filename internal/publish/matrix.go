package publish

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/render"
	"github.com/ppiankov/crosspost/internal/retry"
)

type matrixSender struct {
	id            string
	homeserverURL string
	accessToken   string
	roomID        string
	client        *http.Client
	renderHTML    renderFunc
}

func newMatrix(id string, p *config.Publisher, client *http.Client, rf renderFunc) *matrixSender {
	return &matrixSender{
		id:            id,
		homeserverURL: strings.TrimRight(p.HomeserverURL, "/"),
		accessToken:   p.AccessToken,
		roomID:        p.RoomID,
		client:        client,
		renderHTML:    rf,
	}
}

func (s *matrixSender) ID() string   { return s.id }
func (s *matrixSender) Kind() string { return config.KindMatrix }

func (s *matrixSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	formatted, err := s.renderHTML(post)
	if err != nil {
		return "", retry.Terminal(err)
	}

	// Transaction id makes the send idempotent on the homeserver side.
	txnID := uuid.NewString()
	sendURL := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		s.homeserverURL, url.PathEscape(s.roomID), txnID)

	payload := map[string]any{
		"msgtype":        "m.text",
		"body":           plainBody(post),
		"format":         "org.matrix.custom.html",
		"formatted_body": formatted,
	}
	headers := map[string]string{"Authorization": "Bearer " + s.accessToken}

	var res struct {
		EventID string `json:"event_id"`
	}
	if err := doJSON(ctx, s.client, http.MethodPut, sendURL, headers, payload, &res); err != nil {
		return "", retry.Classify(err)
	}

	return res.EventID, nil
}

// plainBody is the fallback for clients that do not render HTML.
func plainBody(post feed.Post) string {
	parts := []string{post.Title}
	if d := render.StripHTML(post.Description); d != "" {
		parts = append(parts, d)
	}
	parts = append(parts, post.URL)
	return strings.Join(parts, "\n\n")
}
