// Package render turns a Post into platform-specific text through a
// small template contract: the variables .Title, .Description, .URL,
// .Published, and .FeedID, plus the filters truncate, wordLimit, and
// stripHTML.
package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/ppiankov/crosspost/internal/feed"
)

// Context is the fixed variable set available to every template.
type Context struct {
	Title       string
	Description string
	URL         string
	Published   string
	FeedID      string
}

var funcs = template.FuncMap{
	"truncate":  truncate,
	"wordLimit": wordLimit,
	"stripHTML": StripHTML,
}

// Renderer holds parsed templates keyed by publisher id.
type Renderer struct {
	templates map[string]*template.Template
}

func New() *Renderer {
	return &Renderer{templates: make(map[string]*template.Template)}
}

// Add parses and registers a template for a publisher. Parse errors
// are configuration errors and surface at load time.
func (r *Renderer) Add(publisherID, text string) error {
	tmpl, err := template.New(publisherID).Funcs(funcs).Parse(text)
	if err != nil {
		return fmt.Errorf("template for publisher %q: %w", publisherID, err)
	}
	r.templates[publisherID] = tmpl
	return nil
}

// Render executes the publisher's template against the post.
func (r *Renderer) Render(publisherID string, post feed.Post) (string, error) {
	tmpl, ok := r.templates[publisherID]
	if !ok {
		return "", fmt.Errorf("no template registered for publisher %q", publisherID)
	}

	var b strings.Builder
	err := tmpl.Execute(&b, Context{
		Title:       post.Title,
		Description: post.Description,
		URL:         post.URL,
		Published:   post.Published.Format(time.RFC3339),
		FeedID:      post.FeedID,
	})
	if err != nil {
		return "", fmt.Errorf("render template for publisher %q: %w", publisherID, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// DefaultTemplate returns the built-in template for a publisher kind.
func DefaultTemplate(kind string) string {
	switch kind {
	case "telegram":
		return "<b>{{.Title}}</b>\n\n{{.Description | stripHTML | truncate 480}}\n\n{{.URL}}"
	case "x":
		return "{{.Title | truncate 240}}\n\n{{.URL}}"
	case "mastodon":
		return "{{.Title}}\n\n{{.Description | stripHTML | truncate 400}}\n\n{{.URL}}"
	case "linkedin":
		return "{{.Title}}\n\n{{.Description | stripHTML | truncate 700}}\n\nRead more: {{.URL}}"
	case "matrix":
		return `<h3>{{.Title}}</h3><p>{{.Description | stripHTML | truncate 500}}</p><p><a href="{{.URL}}">Read more</a></p>`
	case "bluesky":
		return "{{.Title | truncate 250}}\n\n{{.URL}}"
	case "threads":
		return "{{.Title}}\n\n{{.Description | stripHTML | truncate 450}}\n\n{{.URL}}"
	case "openobserve":
		return "Feed: {{.Title}}\nDescription: {{.Description | stripHTML}}\nURL: {{.URL}}"
	}
	return "{{.Title}}\n\n{{.Description | stripHTML}}\n\n{{.URL}}"
}

// truncate hard-caps s at n runes, appending an ellipsis when cut.
// No word-boundary awareness: remote character limits are hard limits.
func truncate(n int, s string) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// wordLimit keeps the first n whitespace-delimited words.
func wordLimit(n int, s string) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "..."
}

var (
	brRe         = regexp.MustCompile(`(?i)<br\s*/?>|</p>|<p>`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes markup and preserves the text, turning breaks and
// paragraphs into newlines.
func StripHTML(s string) string {
	s = brRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
