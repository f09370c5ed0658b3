package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/source"
)

const indexHTML = `
<html><body>
  <article class="post-1"><h2 class="entry-title"><a href="/2024/01/02/second-post/">Second</a></h2></article>
  <article class="post-2"><h2 class="entry-title"><a href="/2024/01/01/first-post/">First</a></h2></article>
  <article class="post-3"><h2 class="entry-title"><a href="/private/draft/">Draft</a></h2></article>
</body></html>`

func articleHTML(title, date string) string {
	return fmt.Sprintf(`
<html><head>
  <title>%[1]s | Blog</title>
  <meta name="author" content="Tim Ferriss">
  <link rel="canonical" href="https://tim.blog/canonical/%[1]s">
</head><body>
  <nav>Home About</nav>
  <h1 class="entry-title">%[1]s</h1>
  <time datetime="%[2]s">ignored</time>
  <div class="entry-content">
    <p>First paragraph of %[1]s.</p>
    <script>var x = 1;</script>
    <p>Second   paragraph.</p>
  </div>
  <div class="tags"><a rel="tag">habits</a><a rel="tag">habits</a></div>
</body></html>`, title, date)
}

func newBlogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(indexHTML))
		case "/2024/01/02/second-post/":
			_, _ = w.Write([]byte(articleHTML("Second", "2024-01-02T08:00:00Z")))
		case "/2024/01/01/first-post/":
			_, _ = w.Write([]byte(articleHTML("First", "2024-01-01T08:00:00Z")))
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestPageFetcherFetchPage(t *testing.T) {
	t.Parallel()

	server := newBlogServer(t)
	f := NewPageFetcher(PageFetcherConfig{Platform: domain.PlatformBlog, Client: server.Client(), ObeyRobots: true})

	req := source.Request{
		Subject:   domain.Subject{ID: "tim_ferriss"},
		Endpoints: []domain.SourceEndpoint{{Platform: domain.PlatformBlog, Name: "tim.blog", URL: server.URL + "/"}},
	}

	page, err := f.FetchPage(context.Background(), req)
	if err != nil {
		t.Fatalf("FetchPage returned error: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items (draft disallowed by robots), got %d", len(page.Items))
	}
	if page.NextToken != "0:2" {
		t.Fatalf("expected next token 0:2, got %q", page.NextToken)
	}

	item := page.Items[0]
	if item.Title != "Second" {
		t.Fatalf("unexpected title: %s", item.Title)
	}
	if item.Body != "First paragraph of Second.\n\nSecond paragraph." {
		t.Fatalf("unexpected body: %q", item.Body)
	}
	if item.PublishedAt == nil || !item.PublishedAt.Equal(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published date: %v", item.PublishedAt)
	}
	if item.ID != domain.NewContentID("tim_ferriss", domain.PlatformBlog, "", item.URL) {
		t.Fatalf("unexpected id: %s", item.ID)
	}
	if item.Author != "Tim Ferriss" || item.ContentType != domain.ContentArticle {
		t.Fatalf("unexpected author/type: %s/%s", item.Author, item.ContentType)
	}
	if tags, _ := item.RawMetadata["tags"].([]string); len(tags) != 1 || tags[0] != "habits" {
		t.Fatalf("unexpected tags: %v", item.RawMetadata["tags"])
	}

	// Page 2 does not exist: the endpoint is exhausted.
	req.PageToken = page.NextToken
	page, err = f.FetchPage(context.Background(), req)
	if err != nil {
		t.Fatalf("second page returned error: %v", err)
	}
	if len(page.Items) != 0 || page.NextToken != "" {
		t.Fatalf("expected exhausted page, got %d items and token %q", len(page.Items), page.NextToken)
	}
}

func TestPageFetcherSkipsSeenAndHonoursBudget(t *testing.T) {
	t.Parallel()

	server := newBlogServer(t)
	f := NewPageFetcher(PageFetcherConfig{Client: server.Client()})

	seenURL := server.URL + "/2024/01/02/second-post/"
	req := source.Request{
		Subject:   domain.Subject{ID: "tim_ferriss"},
		Endpoints: []domain.SourceEndpoint{{Name: "tim.blog", URL: server.URL, Options: map[string]string{"maxPages": "1"}}},
		Since: &domain.SourceState{
			ItemsSeen: []string{domain.NewContentID("tim_ferriss", domain.PlatformBlog, "", seenURL)},
		},
		MaxItems: 1,
	}

	page, err := f.FetchPage(context.Background(), req)
	if err != nil {
		t.Fatalf("FetchPage returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "First" {
		t.Fatalf("expected only the unseen article, got %+v", page.Items)
	}
	if page.NextToken != "" {
		t.Fatalf("maxPages=1 should exhaust the endpoint, got %q", page.NextToken)
	}
}

func TestPageFetcherClassifiesIndexFailures(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	f := NewPageFetcher(PageFetcherConfig{Client: server.Client()})
	req := source.Request{Endpoints: []domain.SourceEndpoint{{Name: "down", URL: server.URL}}}

	_, err := f.FetchPage(context.Background(), req)
	if !errors.Is(err, domain.ErrTransientFetch) {
		t.Fatalf("expected transient error, got %v", err)
	}

	status.Store(http.StatusForbidden)
	_, err = f.FetchPage(context.Background(), req)
	if !errors.Is(err, domain.ErrPermanentFetch) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestIndexPageURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base       string
		page       int
		pagination string
		want       string
	}{
		{"https://tim.blog", 1, paginationWordPress, "https://tim.blog"},
		{"https://tim.blog/", 3, paginationWordPress, "https://tim.blog/page/3/"},
		{"https://balajis.com/archive", 2, paginationNone, "https://balajis.com/archive"},
	}
	for _, tc := range cases {
		got, err := indexPageURL(tc.base, tc.page, tc.pagination)
		if err != nil {
			t.Fatalf("indexPageURL(%s) error: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("indexPageURL(%s, %d) = %s, want %s", tc.base, tc.page, got, tc.want)
		}
	}

	if _, err := indexPageURL("not a url", 1, paginationNone); err == nil {
		t.Fatalf("expected error for relative url")
	}
}

func TestExtractArticleLinksFallback(t *testing.T) {
	t.Parallel()

	html := `<div>
	  <a href="/essays/one">One</a>
	  <a href="/essays/one#comments">One again</a>
	  <a href="/tag/startups">Tag</a>
	  <a href="https://elsewhere.com/essays/two">Elsewhere</a>
	  <a href="mailto:someone@example.com">Mail</a>
	</div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	links := extractArticleLinks(doc, "https://balajis.com/", "https://balajis.com/", "")
	if len(links) != 1 || links[0] != "https://balajis.com/essays/one" {
		t.Fatalf("unexpected links: %v", links)
	}
}

func TestPageTokens(t *testing.T) {
	t.Parallel()

	idx, page, err := parsePageToken("")
	if err != nil || idx != 0 || page != 1 {
		t.Fatalf("empty token: %d %d %v", idx, page, err)
	}
	idx, page, err = parsePageToken(formatPageToken(2, 7))
	if err != nil || idx != 2 || page != 7 {
		t.Fatalf("round trip: %d %d %v", idx, page, err)
	}
	for _, bad := range []string{"x", "1:0", "-1:2", "a:b"} {
		if _, _, err := parsePageToken(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
