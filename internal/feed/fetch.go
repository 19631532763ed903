package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/crosspost/internal/config"
	"github.com/ppiankov/crosspost/internal/retry"
	"github.com/ppiankov/crosspost/internal/store"
	"github.com/ppiankov/crosspost/internal/youtube"
)

const (
	fetchTimeout = 30 * time.Second
	userAgent    = "Mozilla/5.0 (compatible; crosspost/1.0; +https://github.com/ppiankov/crosspost)"
)

// Status of a conditional fetch.
type Status int

const (
	// NotModified: the server answered 304; nothing was downloaded.
	NotModified Status = iota
	// Unchanged: a body was downloaded but its hash matches the cached
	// one, so it was not re-parsed. Guards servers that ignore validators.
	Unchanged
	// Changed: new content was downloaded and parsed.
	Changed
)

func (s Status) String() string {
	switch s {
	case NotModified:
		return "not-modified"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return "unknown"
}

// Outcome is the result of one conditional fetch. Cache carries the
// validators and content hash to commit, and is populated only when
// Status is Changed. The commit belongs to the caller, after a
// successful parse.
type Outcome struct {
	Status Status
	Posts  []Post
	Cache  store.CacheEntry
}

// Fetcher performs caching fetches for RSS/Atom and YouTube feeds.
type Fetcher struct {
	client  *http.Client
	youtube *youtube.Client
}

func NewFetcher(yt *youtube.Client) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: fetchTimeout},
		youtube: yt,
	}
}

// Fetch retrieves the feed and reports whether its content changed.
// Transport errors are retried per the feed's policy; exhaustion
// abandons the feed for this cycle with the cache untouched.
func (f *Fetcher) Fetch(ctx context.Context, fd config.Feed, cache store.CacheEntry) (Outcome, error) {
	policy := retry.Policy{
		MaxAttempts: fd.MaxRetries,
		BaseDelay:   fd.RetryDelay.Duration,
		Factor:      2,
		MaxDelay:    time.Minute,
		Jitter:      0.1,
	}

	var out Outcome
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		switch fd.Type {
		case config.FeedYouTube:
			out, err = f.fetchYouTube(ctx, fd, cache)
		default:
			out, err = f.fetchRSS(ctx, fd, cache)
		}
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (f *Fetcher) fetchRSS(ctx context.Context, fd config.Feed, cache store.CacheEntry) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fd.URL, nil)
	if err != nil {
		return Outcome{}, retry.Terminal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if cache.ETag != "" {
		req.Header.Set("If-None-Match", cache.ETag)
	}
	if cache.LastModified != "" {
		req.Header.Set("If-Modified-Since", cache.LastModified)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch %s: %w", fd.URL, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified {
		return Outcome{Status: NotModified}, nil
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Outcome{}, retry.Classify(&retry.HTTPError{Status: res.StatusCode, Body: string(body)})
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("read body: %w", err)
	}

	hash := contentHash(body)
	if cache.ContentHash != "" && hash == cache.ContentHash {
		return Outcome{Status: Unchanged}, nil
	}

	posts, err := normalize(body, fd.ID)
	if err != nil {
		// Withhold the cache commit so the next cycle retries
		// fetch and parse together.
		return Outcome{}, retry.Terminal(fmt.Errorf("parse feed %s: %w", fd.ID, err))
	}

	return Outcome{
		Status: Changed,
		Posts:  posts,
		Cache: store.CacheEntry{
			ETag:         res.Header.Get("Etag"),
			LastModified: res.Header.Get("Last-Modified"),
			ContentHash:  hash,
			LastChecked:  time.Now(),
		},
	}, nil
}

// fetchYouTube calls the Data API. The API sends no cache validators,
// so change detection is purely hash-based over the returned items.
func (f *Fetcher) fetchYouTube(ctx context.Context, fd config.Feed, cache store.CacheEntry) (Outcome, error) {
	if f.youtube == nil {
		return Outcome{}, retry.Terminal(fmt.Errorf("feed %s: youtube client not configured", fd.ID))
	}

	videos, err := f.youtube.FetchVideos(ctx, youtube.Query{
		ChannelID:  fd.ChannelID,
		PlaylistID: fd.PlaylistID,
		Username:   fd.Username,
		MaxResults: fd.MaxResults,
	})
	if err != nil {
		return Outcome{}, err
	}

	posts := make([]Post, 0, len(videos))
	digest := sha256.New()
	for _, v := range videos {
		posts = append(posts, Post{
			FeedID:      fd.ID,
			ExternalID:  v.ID,
			Title:       v.Title,
			Description: v.Description,
			URL:         v.URL,
			Published:   v.Published,
		})
		fmt.Fprintf(digest, "%s\x00%s\x00", v.ID, v.Published.UTC().Format(time.RFC3339))
	}
	hash := hex.EncodeToString(digest.Sum(nil))

	if cache.ContentHash != "" && hash == cache.ContentHash {
		return Outcome{Status: Unchanged}, nil
	}

	sortNewestFirst(posts)

	return Outcome{
		Status: Changed,
		Posts:  posts,
		Cache: store.CacheEntry{
			ContentHash: hash,
			LastChecked: time.Now(),
		},
	}, nil
}

func contentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
