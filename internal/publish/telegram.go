package publish

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/feed"
	"github.com/ppiankov/crosspost/internal/retry"
)

// Telegram message length limit.
const telegramMaxLen = 4096

type telegramSender struct {
	id       string
	botToken string
	chatID   string
	// parseMode is "HTML" or empty for plain text.
	parseMode string
	threadID  string
	client    *http.Client
	render    renderFunc
	baseURL   string
}

func newTelegram(id string, p *config.Publisher, client *http.Client, rf renderFunc) *telegramSender {
	return &telegramSender{
		id:        id,
		botToken:  p.BotToken,
		chatID:    p.ChatID,
		parseMode: p.ParseMode,
		threadID:  p.MessageThreadID,
		client:    client,
		render:    rf,
		baseURL:   "https://api.telegram.org",
	}
}

func (s *telegramSender) ID() string   { return s.id }
func (s *telegramSender) Kind() string { return config.KindTelegram }

func (s *telegramSender) Publish(ctx context.Context, post feed.Post) (string, error) {
	text, err := s.render(post)
	if err != nil {
		return "", retry.Terminal(err)
	}
	if len(text) > telegramMaxLen {
		return "", retry.Terminal(fmt.Errorf("message too long for telegram: %d characters (max %d)", len(text), telegramMaxLen))
	}

	payload := map[string]any{
		"chat_id": s.chatID,
		"text":    text,
	}
	if s.parseMode != "" {
		payload["parse_mode"] = s.parseMode
	}
	if s.threadID != "" {
		// Topic groups only accept positive thread ids.
		if id, err := strconv.ParseInt(s.threadID, 10, 64); err == nil && id > 0 {
			payload["message_thread_id"] = id
		}
	}

	var res struct {
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	if err := doJSON(ctx, s.client, http.MethodPost, url, nil, payload, &res); err != nil {
		return "", retry.Classify(err)
	}

	return strconv.FormatInt(res.Result.MessageID, 10), nil
}
