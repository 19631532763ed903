package feed

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mmcdole/gofeed"
)

// normalize converts a raw RSS/Atom body into Posts, newest first.
// Items missing an id, title, or link are skipped.
func normalize(body []byte, feedID string) ([]Post, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var posts []Post
	for _, item := range parsed.Items {
		p := postFromItem(item, feedID)
		if p.ExternalID == "" || p.Title == "" || p.URL == "" {
			continue
		}
		posts = append(posts, p)
	}

	sortNewestFirst(posts)
	return posts, nil
}

func postFromItem(item *gofeed.Item, feedID string) Post {
	p := Post{
		FeedID:     feedID,
		ExternalID: item.GUID,
		Title:      item.Title,
		URL:        item.Link,
	}
	if p.ExternalID == "" {
		p.ExternalID = item.Link
	}

	// Content is usually fuller than Description (YouTube Atom feeds
	// put media:description there).
	p.Description = item.Content
	if p.Description == "" {
		p.Description = item.Description
	}

	if item.PublishedParsed != nil {
		p.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		p.Published = *item.UpdatedParsed
	}

	return p
}

func sortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Published.After(posts[j].Published)
	})
}
