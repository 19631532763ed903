package render

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/crosspost/internal/feed"
)

func testPost() feed.Post {
	return feed.Post{
		FeedID:      "blog",
		ExternalID:  "post-1",
		Title:       "Release 2.0",
		Description: "<p>Big <b>changes</b> landed.</p><p>See the notes.</p>",
		URL:         "https://example.com/release-2.0",
		Published:   time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderVariables(t *testing.T) {
	r := New()
	if err := r.Add("p1", "{{.Title}} | {{.URL}} | {{.FeedID}} | {{.Published}}"); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := r.Render("p1", testPost())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Release 2.0 | https://example.com/release-2.0 | blog | 2026-08-30T10:00:00Z"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderPipeline(t *testing.T) {
	r := New()
	if err := r.Add("p1", "{{.Description | stripHTML | truncate 10}}"); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := r.Render("p1", testPost())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "Big change..." {
		t.Fatalf("got %q", got)
	}
}

func TestRenderUnknownPublisher(t *testing.T) {
	r := New()
	if _, err := r.Render("ghost", testPost()); err == nil {
		t.Fatalf("expected error for unknown publisher")
	}
}

func TestAddRejectsBadTemplate(t *testing.T) {
	r := New()
	if err := r.Add("p1", "{{.Title"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultTemplatesParse(t *testing.T) {
	kinds := []string{
		"telegram", "x", "mastodon", "linkedin",
		"matrix", "bluesky", "threads", "openobserve", "something-else",
	}

	r := New()
	for _, kind := range kinds {
		if err := r.Add(kind, DefaultTemplate(kind)); err != nil {
			t.Fatalf("default template for %s: %v", kind, err)
		}
		out, err := r.Render(kind, testPost())
		if err != nil {
			t.Fatalf("render default for %s: %v", kind, err)
		}
		if !strings.Contains(out, "Release 2.0") {
			t.Fatalf("default for %s lost the title: %q", kind, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		n    int
		in   string
		want string
	}{
		{"short enough", 10, "hello", "hello"},
		{"exact", 5, "hello", "hello"},
		{"cut", 4, "hello", "hell..."},
		{"zero", 0, "hello", ""},
		{"multibyte", 3, "héllo wörld", "hél..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.n, tt.in); got != tt.want {
				t.Fatalf("truncate(%d, %q) = %q, want %q", tt.n, tt.in, got, tt.want)
			}
		})
	}
}

func TestWordLimit(t *testing.T) {
	if got := wordLimit(2, "one two three four"); got != "one two..." {
		t.Fatalf("got %q", got)
	}
	if got := wordLimit(10, "one two"); got != "one two" {
		t.Fatalf("got %q", got)
	}
	if got := wordLimit(0, "one two"); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "no markup", "no markup"},
		{"tags", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"breaks", "line one<br>line two<br/>line three", "line one\nline two\nline three"},
		{"paragraphs", "<p>first</p><p>second</p>", "first\n\nsecond"},
		{"entities", "a &amp; b &lt;c&gt;", "a & b <c>"},
		{"collapses blank lines", "<p>a</p><p></p><p></p><p>b</p>", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
