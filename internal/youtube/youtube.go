// Package youtube is a minimal Data API v3 client for listing the
// latest uploads of a channel, playlist, or legacy username.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ppiankov/crosspost/internal/retry"
)

const apiBase = "https://www.googleapis.com/youtube/v3"

// Fetch at least a full page so the newest items are always present
// even when playlists return in upload order.
const minPageSize = 50

type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// Video is one playlist item with its watch URL synthesized.
type Video struct {
	ID          string
	Title       string
	Description string
	URL         string
	Published   time.Time
}

// Query selects what to list. Exactly one of ChannelID, PlaylistID,
// or Username must be set; usernames resolve to a channel first.
type Query struct {
	ChannelID  string
	PlaylistID string
	Username   string
	MaxResults int
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    apiBase,
	}
}

// FetchVideos lists the latest uploads for the query, newest first.
func (c *Client) FetchVideos(ctx context.Context, q Query) ([]Video, error) {
	playlistID := q.PlaylistID
	if playlistID == "" {
		channelID := q.ChannelID
		if channelID == "" {
			if q.Username == "" {
				return nil, retry.Terminal(fmt.Errorf("youtube: channel_id, playlist_id, or username required"))
			}
			var err error
			channelID, err = c.channelIDForUsername(ctx, q.Username)
			if err != nil {
				return nil, err
			}
		}
		var err error
		playlistID, err = c.uploadsPlaylistID(ctx, channelID)
		if err != nil {
			return nil, err
		}
	}

	return c.playlistVideos(ctx, playlistID, q.MaxResults)
}

type channelListResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (c *Client) channelIDForUsername(ctx context.Context, username string) (string, error) {
	var res channelListResponse
	err := c.get(ctx, "/channels", url.Values{
		"part":        {"id"},
		"forUsername": {username},
	}, &res)
	if err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return "", retry.Terminal(fmt.Errorf("youtube: channel not found for username %q", username))
	}
	return res.Items[0].ID, nil
}

func (c *Client) uploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	var res channelListResponse
	err := c.get(ctx, "/channels", url.Values{
		"part": {"contentDetails"},
		"id":   {channelID},
	}, &res)
	if err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return "", retry.Terminal(fmt.Errorf("youtube: channel not found: %s", channelID))
	}
	return res.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

type playlistItemsResponse struct {
	Items []struct {
		Snippet struct {
			PublishedAt string `json:"publishedAt"`
			Title       string `json:"title"`
			Description string `json:"description"`
			ResourceID  struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

func (c *Client) playlistVideos(ctx context.Context, playlistID string, maxResults int) ([]Video, error) {
	pageSize := maxResults
	if pageSize < minPageSize {
		pageSize = minPageSize
	}

	var res playlistItemsResponse
	err := c.get(ctx, "/playlistItems", url.Values{
		"part":       {"snippet"},
		"playlistId": {playlistID},
		"maxResults": {fmt.Sprint(pageSize)},
	}, &res)
	if err != nil {
		return nil, err
	}

	var videos []Video
	for _, item := range res.Items {
		s := item.Snippet
		// Private and deleted entries keep their slot in the playlist
		// but carry nothing publishable.
		if s.ResourceID.VideoID == "" || s.Title == "" ||
			s.Title == "Private video" || s.Title == "Deleted video" {
			continue
		}

		published, err := time.Parse(time.RFC3339, s.PublishedAt)
		if err != nil {
			continue
		}

		videos = append(videos, Video{
			ID:          s.ResourceID.VideoID,
			Title:       s.Title,
			Description: s.Description,
			URL:         "https://www.youtube.com/watch?v=" + s.ResourceID.VideoID,
			Published:   published,
		})
	}

	return videos, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return retry.Terminal(fmt.Errorf("youtube: build request: %w", err))
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("youtube: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return retry.Classify(&retry.HTTPError{Status: res.StatusCode, Body: string(body)})
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return retry.Terminal(fmt.Errorf("youtube: decode response: %w", err))
	}
	return nil
}
