package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/source"
)

const (
	defaultLinkSelector = "article h2.entry-title a, article h2 a, article h1 a, h2.entry-title a"
	defaultMaxPages     = 5

	paginationWordPress = "wordpress"
	paginationNone      = "none"
)

var (
	titleFallbacks   = []string{"h1.entry-title", "h1.post-title", "h1", "title"}
	contentFallbacks = []string{"div.entry-content", "div.post-content", "article", "main"}
	dateFallbacks    = []string{"time[datetime]", "meta[property='article:published_time']", ".entry-date", "time"}

	// Links containing these fragments are archive or navigation pages, not articles.
	nonArticleHints = []string{"#", "/tag/", "/category/", "/author/", "/page/", "/feed", "/wp-json", "/comments"}
)

// PageFetcherConfig configures a PageFetcher.
type PageFetcherConfig struct {
	Platform   domain.Platform
	Client     *http.Client
	UserAgent  string
	Delay      time.Duration
	ObeyRobots bool
	MaxPages   int
	Logger     *slog.Logger
}

// PageFetcher scrapes HTML index pages (blog archives, book tables of contents) and the articles they link to.
//
// Endpoint options:
//   - linkSelector, titleSelector, contentSelector, dateSelector: CSS selectors overriding the defaults
//   - pagination: "wordpress" (follow /page/N/) or "none"
//   - maxPages: index pages walked per endpoint
type PageFetcher struct {
	platform domain.Platform
	http     *politeClient
	maxPages int
	logger   *slog.Logger
	now      func() time.Time
}

var _ source.Fetcher = (*PageFetcher)(nil)

// NewPageFetcher wires an HTTP client; blog endpoints paginate WordPress-style by default.
func NewPageFetcher(cfg PageFetcherConfig) *PageFetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	platform := cfg.Platform
	if platform == "" {
		platform = domain.PlatformBlog
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	logger = logger.With("component", "page_fetcher", "platform", platform)

	return &PageFetcher{
		platform: platform,
		http:     newPoliteClient(cfg.Client, cfg.UserAgent, cfg.Delay, cfg.ObeyRobots, logger),
		maxPages: maxPages,
		logger:   logger,
		now:      time.Now,
	}
}

// Platform identifies the strategy inside the registry.
func (f *PageFetcher) Platform() domain.Platform {
	return f.platform
}

// FetchPage walks one index page of one endpoint and scrapes the articles it links to.
func (f *PageFetcher) FetchPage(ctx context.Context, req source.Request) (source.Page, error) {
	if len(req.Endpoints) == 0 {
		return source.Page{}, domain.NewPermanentError(f.platform, "index", fmt.Errorf("no endpoints configured for %s", req.Subject.ID))
	}

	idx, pageNum, err := parsePageToken(req.PageToken)
	if err != nil {
		return source.Page{}, domain.NewPermanentError(f.platform, "index", err)
	}
	if idx >= len(req.Endpoints) {
		return source.Page{}, nil
	}
	ep := req.Endpoints[idx]

	pageURL, err := indexPageURL(ep.URL, pageNum, f.pagination(ep))
	if err != nil {
		return source.Page{}, domain.NewPermanentError(f.platform, "index", err)
	}

	f.logger.Debug("fetch index page", "endpoint", ep.Name, "url", pageURL, "page", pageNum)
	body, err := f.http.get(ctx, f.platform, "index", pageURL)
	if err != nil {
		var fe *domain.FetchError
		if pageNum > 1 && errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
			// Past the last archive page.
			return source.Page{NextToken: f.nextEndpoint(idx, req)}, nil
		}
		return source.Page{}, fmt.Errorf("endpoint %s: %w", ep.Name, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return source.Page{}, domain.NewPermanentError(f.platform, "index", fmt.Errorf("parse index: %w", err))
	}

	links := extractArticleLinks(doc, pageURL, ep.URL, ep.Options["linkSelector"])
	seen := seenSet(req.Since)

	var (
		items    []domain.ContentItem
		allOlder = req.DateFrom != nil
	)
	for _, link := range links {
		if req.MaxItems > 0 && len(items) >= req.MaxItems {
			break
		}
		id := domain.NewContentID(req.Subject.ID, f.platform, "", link)
		if _, ok := seen[id]; ok {
			continue
		}

		item, err := f.fetchArticle(ctx, req.Subject.ID, ep, id, link)
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return source.Page{Items: items}, err
			}
			f.logger.Warn("skip article", "url", link, "error", err)
			continue
		}
		if item == nil {
			continue
		}
		if allOlder && (item.PublishedAt == nil || !item.PublishedAt.Before(*req.DateFrom)) {
			allOlder = false
		}
		items = append(items, *item)
	}

	next := f.nextEndpoint(idx, req)
	morePages := len(links) > 0 &&
		f.pagination(ep) == paginationWordPress &&
		pageNum < f.endpointMaxPages(ep) &&
		!(allOlder && len(items) > 0)
	if morePages {
		next = formatPageToken(idx, pageNum+1)
	}

	f.logger.Debug("index page done", "endpoint", ep.Name, "page", pageNum, "links", len(links), "items", len(items))
	return source.Page{Items: items, NextToken: next}, nil
}

func (f *PageFetcher) fetchArticle(ctx context.Context, subjectID string, ep domain.SourceEndpoint, id, link string) (*domain.ContentItem, error) {
	body, err := f.http.get(ctx, f.platform, "article", link)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse article: %w", err)
	}

	title := firstText(doc, ep.Options["titleSelector"], titleFallbacks)
	content := ""
	if sel := firstSelection(doc, ep.Options["contentSelector"], contentFallbacks); sel != nil {
		content = selectionText(sel)
	}
	if title == "" && content == "" {
		return nil, nil
	}

	metadata := map[string]any{
		"endpoint": ep.Name,
		"domain":   domain.HostOf(link),
	}
	if tags := collectTexts(doc, ".tags a, [rel='tag']"); len(tags) > 0 {
		metadata["tags"] = tags
	}
	if cats := collectTexts(doc, ".categories a, [rel='category'], [rel='category tag']"); len(cats) > 0 {
		metadata["categories"] = cats
	}
	if canonical, ok := doc.Find("link[rel='canonical']").Attr("href"); ok && canonical != "" {
		metadata["canonical_url"] = canonical
	}

	item := &domain.ContentItem{
		ID:          id,
		SubjectID:   subjectID,
		Platform:    f.platform,
		ContentType: f.contentType(),
		Title:       title,
		Body:        content,
		URL:         link,
		Author:      strings.TrimSpace(doc.Find("meta[name='author']").AttrOr("content", "")),
		FetchedAt:   f.now().UTC(),
		RawMetadata: metadata,
	}
	if published, ok := extractDate(doc, ep.Options["dateSelector"]); ok {
		item.PublishedAt = &published
	}
	return item, nil
}

func (f *PageFetcher) contentType() domain.ContentType {
	if f.platform == domain.PlatformBook {
		return domain.ContentChapter
	}
	return domain.ContentArticle
}

func (f *PageFetcher) pagination(ep domain.SourceEndpoint) string {
	if p := strings.ToLower(strings.TrimSpace(ep.Options["pagination"])); p != "" {
		return p
	}
	if f.platform == domain.PlatformBook {
		return paginationNone
	}
	return paginationWordPress
}

func (f *PageFetcher) endpointMaxPages(ep domain.SourceEndpoint) int {
	if n, err := strconv.Atoi(ep.Options["maxPages"]); err == nil && n > 0 {
		return n
	}
	return f.maxPages
}

func (f *PageFetcher) nextEndpoint(idx int, req source.Request) string {
	if idx+1 < len(req.Endpoints) {
		return formatPageToken(idx+1, 1)
	}
	return ""
}

func parsePageToken(token string) (int, int, error) {
	if token == "" {
		return 0, 1, nil
	}
	left, right, ok := strings.Cut(token, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed page token %q", token)
	}
	idx, err := strconv.Atoi(left)
	if err != nil || idx < 0 {
		return 0, 0, fmt.Errorf("malformed page token %q", token)
	}
	page, err := strconv.Atoi(right)
	if err != nil || page < 1 {
		return 0, 0, fmt.Errorf("malformed page token %q", token)
	}
	return idx, page, nil
}

func formatPageToken(idx, page int) string {
	return strconv.Itoa(idx) + ":" + strconv.Itoa(page)
}

// indexPageURL builds the archive URL of a page: base for page 1, base/page/N/ after that.
func indexPageURL(base string, page int, pagination string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid endpoint url %q", base)
	}
	if page <= 1 || pagination != paginationWordPress {
		return parsed.String(), nil
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/page/" + strconv.Itoa(page) + "/"
	return parsed.String(), nil
}

// extractArticleLinks returns absolute, de-duplicated article URLs in page order.
// Without selector matches it falls back to same-host links that do not look like archive pages.
func extractArticleLinks(doc *goquery.Document, pageURL, endpointURL, selector string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	root, err := url.Parse(endpointURL)
	if err != nil {
		root = base
	}
	if strings.TrimSpace(selector) == "" {
		selector = defaultLinkSelector
	}

	var (
		links []string
		seen  = map[string]struct{}{}
	)
	add := func(href string, sameHostOnly bool) {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if sameHostOnly && domain.HostOf(abs.String()) != domain.HostOf(base.String()) {
			return
		}
		abs.Fragment = ""
		key := domain.CanonicalURL(abs.String())
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, abs.String())
	}

	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href, false)
		}
	})
	if len(links) > 0 {
		return links
	}

	basePath := strings.TrimRight(root.Path, "/")
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		lower := strings.ToLower(href)
		for _, hint := range nonArticleHints {
			if strings.Contains(lower, hint) {
				return
			}
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		path := strings.TrimRight(abs.Path, "/")
		if path == "" || path == basePath || !strings.HasPrefix(path, basePath) {
			return
		}
		add(href, true)
	})
	return links
}

func firstSelection(doc *goquery.Document, custom string, fallbacks []string) *goquery.Selection {
	candidates := fallbacks
	if strings.TrimSpace(custom) != "" {
		candidates = append([]string{custom}, fallbacks...)
	}
	for _, selector := range candidates {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func firstText(doc *goquery.Document, custom string, fallbacks []string) string {
	candidates := fallbacks
	if strings.TrimSpace(custom) != "" {
		candidates = append([]string{custom}, fallbacks...)
	}
	for _, selector := range candidates {
		if text := normalizeLine(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func extractDate(doc *goquery.Document, custom string) (time.Time, bool) {
	candidates := dateFallbacks
	if strings.TrimSpace(custom) != "" {
		candidates = append([]string{custom}, dateFallbacks...)
	}
	for _, selector := range candidates {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		for _, raw := range []string{sel.AttrOr("datetime", ""), sel.AttrOr("content", ""), sel.Text()} {
			if t, ok := parseDate(raw); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func collectTexts(doc *goquery.Document, selector string) []string {
	var out []string
	seen := map[string]struct{}{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		text := normalizeLine(s.Text())
		if text == "" {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	})
	return out
}

func seenSet(state *domain.SourceState) map[string]struct{} {
	if state == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(state.ItemsSeen))
	for _, id := range state.ItemsSeen {
		seen[id] = struct{}{}
	}
	return seen
}
