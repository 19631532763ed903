package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "crosspost.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "crosspost.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
}

func TestRecordExactlyOnce(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	pub := Publication{
		FeedID:      "blog",
		ExternalID:  "post-1",
		PublisherID: "tg-main",
		PublishedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Outcome:     "telegram:42",
	}

	done, err := st.IsPublished(ctx, pub.FeedID, pub.ExternalID, pub.PublisherID)
	if err != nil {
		t.Fatalf("is published: %v", err)
	}
	if done {
		t.Fatalf("expected unpublished before first record")
	}

	if err := st.Record(ctx, pub); err != nil {
		t.Fatalf("record: %v", err)
	}

	// A replayed cycle records the same triple again; the row count
	// must not move.
	pub.Outcome = "telegram:99"
	if err := st.Record(ctx, pub); err != nil {
		t.Fatalf("record replay: %v", err)
	}

	n, err := st.PublicationCount(ctx, "blog")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 publication, got %d", n)
	}

	var outcome string
	if err := st.db.QueryRow("SELECT outcome FROM publications").Scan(&outcome); err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if outcome != "telegram:42" {
		t.Fatalf("replay must not rewrite the row, got outcome %q", outcome)
	}

	done, err = st.IsPublished(ctx, pub.FeedID, pub.ExternalID, pub.PublisherID)
	if err != nil {
		t.Fatalf("is published: %v", err)
	}
	if !done {
		t.Fatalf("expected published after record")
	}
}

func TestIsPublishedPerDestination(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.Record(ctx, Publication{FeedID: "blog", ExternalID: "post-1", PublisherID: "tg-main"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	done, err := st.IsPublished(ctx, "blog", "post-1", "mastodon-main")
	if err != nil {
		t.Fatalf("is published: %v", err)
	}
	if done {
		t.Fatalf("a different publisher must still be pending")
	}
}

func TestRecordRequiresKey(t *testing.T) {
	st, _ := openTestStore(t)

	if err := st.Record(context.Background(), Publication{FeedID: "blog"}); err == nil {
		t.Fatalf("expected error for missing key fields")
	}
}

func TestRecordFailureCounts(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.RecordFailure(ctx, "blog", "post-1", "tg-main", "unexpected status 500"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	var failures int
	var lastErr string
	err := st.db.QueryRow("SELECT failures, last_error FROM send_failures WHERE feed_id = 'blog'").Scan(&failures, &lastErr)
	if err != nil {
		t.Fatalf("read failures: %v", err)
	}
	if failures != 3 {
		t.Fatalf("expected 3 failures, got %d", failures)
	}
	if lastErr != "unexpected status 500" {
		t.Fatalf("unexpected last error: %q", lastErr)
	}

	// Failures never make an item ineligible.
	done, err := st.IsPublished(ctx, "blog", "post-1", "tg-main")
	if err != nil {
		t.Fatalf("is published: %v", err)
	}
	if done {
		t.Fatalf("failed sends must not count as published")
	}
}

func TestPruneBefore(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := st.Record(ctx, Publication{FeedID: "blog", ExternalID: "old", PublisherID: "tg", PublishedAt: old}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := st.Record(ctx, Publication{FeedID: "blog", ExternalID: "recent", PublisherID: "tg", PublishedAt: recent}); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := st.PruneBefore(ctx, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}

	count, err := st.PublicationCount(ctx, "blog")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining publication, got %d", count)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	entry, err := st.GetCache(ctx, "blog")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if entry != (CacheEntry{}) {
		t.Fatalf("expected zero entry for unknown feed, got %+v", entry)
	}

	checked := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	want := CacheEntry{
		ETag:         `"abc123"`,
		LastModified: "Sat, 30 Aug 2026 11:00:00 GMT",
		ContentHash:  "deadbeef",
		LastChecked:  checked,
	}
	if err := st.PutCache(ctx, "blog", want); err != nil {
		t.Fatalf("put cache: %v", err)
	}

	got, err := st.GetCache(ctx, "blog")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if got.ETag != want.ETag || got.LastModified != want.LastModified || got.ContentHash != want.ContentHash {
		t.Fatalf("cache mismatch: got %+v", got)
	}
	if !got.LastChecked.Equal(checked) {
		t.Fatalf("last checked mismatch: got %s", got.LastChecked)
	}

	// Upsert replaces in place.
	want.ContentHash = "cafef00d"
	if err := st.PutCache(ctx, "blog", want); err != nil {
		t.Fatalf("put cache again: %v", err)
	}
	got, err = st.GetCache(ctx, "blog")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if got.ContentHash != "cafef00d" {
		t.Fatalf("expected updated hash, got %q", got.ContentHash)
	}
}

func TestTouchCacheKeepsValidators(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.PutCache(ctx, "blog", CacheEntry{ETag: `"v1"`, ContentHash: "h1", LastChecked: time.Now()}); err != nil {
		t.Fatalf("put cache: %v", err)
	}

	later := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if err := st.TouchCache(ctx, "blog", later); err != nil {
		t.Fatalf("touch cache: %v", err)
	}

	got, err := st.GetCache(ctx, "blog")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if got.ETag != `"v1"` || got.ContentHash != "h1" {
		t.Fatalf("touch must not disturb validators: %+v", got)
	}
	if !got.LastChecked.Equal(later) {
		t.Fatalf("expected updated last checked, got %s", got.LastChecked)
	}

	// Touching an unseen feed creates a validator-free row.
	if err := st.TouchCache(ctx, "fresh", later); err != nil {
		t.Fatalf("touch new feed: %v", err)
	}
	got, err = st.GetCache(ctx, "fresh")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if got.ETag != "" || got.ContentHash != "" {
		t.Fatalf("expected empty validators, got %+v", got)
	}
}

func TestDeleteCache(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.PutCache(ctx, "blog", CacheEntry{ContentHash: "h1"}); err != nil {
		t.Fatalf("put cache: %v", err)
	}
	if err := st.DeleteCache(ctx, "blog"); err != nil {
		t.Fatalf("delete cache: %v", err)
	}

	got, err := st.GetCache(ctx, "blog")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if got != (CacheEntry{}) {
		t.Fatalf("expected zero entry after delete, got %+v", got)
	}
}
