package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/user/taxprep/internal/ruleset"
)

func eventWithSource(t *testing.T, url string) *ruleset.Event {
	t.Helper()
	doc := fmt.Sprintf(`
events:
  - key: new_baby
    keywords: [baby]
    docs: [Birth certificate]
    source_url: %s
    source_title: Family payments
    updated_at: "2025-07-01"
`, url)
	rs, err := ruleset.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	ev, _ := rs.Get("new_baby")
	return ev
}

func TestFetchConvertsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Family payments</h1><p>Claim within 52 weeks.</p></body></html>`))
	}))
	defer server.Close()

	md, err := NewFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "Family payments") || !strings.Contains(md, "Claim within 52 weeks.") {
		t.Errorf("unexpected markdown %q", md)
	}
}

func TestFetchCachesPages(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`<p>cached</p>`))
	}))
	defer server.Close()

	f := NewFetcher()
	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), server.URL); err != nil {
			t.Fatal(err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 upstream request, got %d", n)
	}
}

func TestFetchTruncates(t *testing.T) {
	long := strings.Repeat("x", 5000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>" + long + "</p>"))
	}))
	defer server.Close()

	md, err := NewFetcher(WithMaxChars(100)).Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(md, "[Content truncated]") {
		t.Errorf("expected truncation marker, got %q", md[len(md)-40:])
	}
	if len(md) > 100+len("\n\n[Content truncated]") {
		t.Errorf("excerpt too long: %d", len(md))
	}
}

func TestFetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := NewFetcher()
	if _, err := f.Fetch(context.Background(), ""); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := f.Fetch(context.Background(), server.URL); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<h2>Parental leave pay</h2>`))
	}))
	defer server.Close()

	previews, err := NewFetcher().Preview(context.Background(), eventWithSource(t, server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 {
		t.Fatalf("expected 1 preview, got %d", len(previews))
	}
	out := Format(previews)
	for _, want := range []string{"📄 **Family payments**", server.URL, "Updated: 2025-07-01", "Parental leave pay"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestPreviewWithoutSource(t *testing.T) {
	rs, _ := ruleset.Default()
	ev, _ := rs.Get("job_loss")
	if _, err := NewFetcher().Preview(context.Background(), ev); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestPreviewReportsBrokenSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	previews, err := NewFetcher().Preview(context.Background(), eventWithSource(t, server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(previews[0].Markdown, "could not load source") {
		t.Errorf("expected load failure note, got %q", previews[0].Markdown)
	}
}
