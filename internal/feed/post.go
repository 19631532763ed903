// Package feed fetches configured sources conditionally and
// normalizes their items into Posts.
package feed

import "time"

// Post is one normalized item from a source. Two Posts with equal
// (FeedID, ExternalID) are the same logical item regardless of
// textual drift.
type Post struct {
	FeedID      string
	ExternalID  string
	Title       string
	Description string
	URL         string
	Published   time.Time
}
