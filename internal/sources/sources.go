// Package sources fetches the reference pages cited by a ruleset event and
// turns them into short markdown previews.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/user/taxprep/internal/ruleset"
)

const (
	defaultMaxChars = 1500
	maxBodyBytes    = 2 << 20
	cacheSize       = 64
	cacheTTL        = time.Hour
)

// ErrNoSource is returned for events without a source_url.
var ErrNoSource = errors.New("event has no source")

// Preview is the fetched excerpt of one source.
type Preview struct {
	Event     string    `json:"event"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Markdown  string    `json:"markdown"`
}

// Fetcher downloads source pages and converts their HTML to markdown.
// Converted pages are cached for an hour.
type Fetcher struct {
	client   *http.Client
	maxChars int
	cache    *expirable.LRU[string, string]
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client (default 30s timeout).
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxChars bounds the excerpt length.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxChars: defaultMaxChars,
		cache:    expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the page at url as truncated markdown.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url is required")
	}
	if md, ok := f.cache.Get(url); ok {
		return md, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Taxprep/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	md = truncate(strings.TrimSpace(md), f.maxChars)
	f.cache.Add(url, md)
	return md, nil
}

// Preview fetches every source cited by ev. A source that fails to load is
// reported in its Markdown field rather than failing the whole preview.
func (f *Fetcher) Preview(ctx context.Context, ev *ruleset.Event) ([]Preview, error) {
	if len(ev.Sources) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, ev.Key)
	}
	out := make([]Preview, 0, len(ev.Sources))
	for _, src := range ev.Sources {
		p := Preview{Event: ev.Key, URL: src.URL, Title: src.Title, UpdatedAt: src.UpdatedAt}
		md, err := f.Fetch(ctx, src.URL)
		if err != nil {
			p.Markdown = fmt.Sprintf("_(could not load source: %v)_", err)
		} else {
			p.Markdown = md
		}
		out = append(out, p)
	}
	return out, nil
}

// Format renders previews as a chat message.
func Format(previews []Preview) string {
	parts := make([]string, 0, len(previews))
	for _, p := range previews {
		var b strings.Builder
		title := p.Title
		if title == "" {
			title = p.URL
		}
		fmt.Fprintf(&b, "📄 **%s**\n%s", title, p.URL)
		if !p.UpdatedAt.IsZero() {
			fmt.Fprintf(&b, "\nUpdated: %s", p.UpdatedAt.Format(time.DateOnly))
		}
		b.WriteString("\n\n")
		b.WriteString(p.Markdown)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n\n[Content truncated]"
}
