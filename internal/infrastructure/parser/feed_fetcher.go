package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/source"
)

// defaultCursorOverlap re-reads a margin before the cursor so late-published entries are not missed.
const defaultCursorOverlap = 48 * time.Hour

// FeedFetcherConfig configures a FeedFetcher.
type FeedFetcherConfig struct {
	Platform      domain.Platform
	Client        *http.Client
	UserAgent     string
	Delay         time.Duration
	CursorOverlap time.Duration
	Logger        *slog.Logger
}

// FeedFetcher reads RSS/Atom feeds: plain RSS, podcast shows, YouTube channel feeds and
// Twitter bridge feeds. Each endpoint is one page.
type FeedFetcher struct {
	platform domain.Platform
	http     *politeClient
	overlap  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

var _ source.Fetcher = (*FeedFetcher)(nil)

// NewFeedFetcher builds a fetcher for one feed-backed platform.
func NewFeedFetcher(cfg FeedFetcherConfig) *FeedFetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	platform := cfg.Platform
	if platform == "" {
		platform = domain.PlatformRSS
	}
	overlap := cfg.CursorOverlap
	if overlap <= 0 {
		overlap = defaultCursorOverlap
	}
	logger = logger.With("component", "feed_fetcher", "platform", platform)

	return &FeedFetcher{
		platform: platform,
		http:     newPoliteClient(cfg.Client, cfg.UserAgent, cfg.Delay, false, logger),
		overlap:  overlap,
		logger:   logger,
		now:      time.Now,
	}
}

// Platform identifies the strategy inside the registry.
func (f *FeedFetcher) Platform() domain.Platform {
	return f.platform
}

// FetchPage reads the feed of the endpoint addressed by the page token.
func (f *FeedFetcher) FetchPage(ctx context.Context, req source.Request) (source.Page, error) {
	if len(req.Endpoints) == 0 {
		return source.Page{}, domain.NewPermanentError(f.platform, "feed", fmt.Errorf("no endpoints configured for %s", req.Subject.ID))
	}

	idx := 0
	if req.PageToken != "" {
		n, err := strconv.Atoi(req.PageToken)
		if err != nil || n < 0 {
			return source.Page{}, domain.NewPermanentError(f.platform, "feed", fmt.Errorf("malformed page token %q", req.PageToken))
		}
		idx = n
	}
	if idx >= len(req.Endpoints) {
		return source.Page{}, nil
	}
	ep := req.Endpoints[idx]

	next := ""
	if idx+1 < len(req.Endpoints) {
		next = strconv.Itoa(idx + 1)
	}

	body, err := f.http.get(ctx, f.platform, "feed", ep.URL)
	if err != nil {
		return source.Page{}, fmt.Errorf("endpoint %s: %w", ep.Name, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return source.Page{}, domain.NewPermanentError(f.platform, "feed", fmt.Errorf("parse feed %s: %w", ep.URL, err))
	}

	var cutoff time.Time
	if req.Since != nil && !req.Since.LastFetchedAt.IsZero() {
		cutoff = req.Since.LastFetchedAt.Add(-f.overlap)
	}

	fetchedAt := f.now().UTC()
	items := make([]domain.ContentItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		if req.MaxItems > 0 && len(items) >= req.MaxItems {
			break
		}
		item := f.toItem(req.Subject.ID, ep, feed, entry, fetchedAt)
		if !cutoff.IsZero() && item.PublishedAt != nil && item.PublishedAt.Before(cutoff) {
			continue
		}
		items = append(items, item)
	}

	f.logger.Debug("feed read", "endpoint", ep.Name, "entries", len(feed.Items), "items", len(items))
	return source.Page{Items: items, NextToken: next}, nil
}

func (f *FeedFetcher) toItem(subjectID string, ep domain.SourceEndpoint, feed *gofeed.Feed, entry *gofeed.Item, fetchedAt time.Time) domain.ContentItem {
	metadata := map[string]any{
		"endpoint":   ep.Name,
		"feed_title": feed.Title,
	}
	if entry.Link != "" {
		metadata["canonical_url"] = entry.Link
	}
	if len(entry.Categories) > 0 {
		metadata["categories"] = entry.Categories
	}

	nativeID := strings.TrimSpace(entry.GUID)
	body := htmlToText(firstNonEmpty(entry.Content, entry.Description))
	author := personName(entry.Author, entry.Authors)
	contentType := domain.ContentArticle

	switch f.platform {
	case domain.PlatformYouTube:
		contentType = domain.ContentVideo
		if id := extValue(entry.Extensions, "yt", "videoId"); id != "" {
			nativeID = id
			metadata["video_id"] = id
		}
		author = firstNonEmpty(extValue(entry.Extensions, "yt", "channelId"), extValue(feed.Extensions, "yt", "channelId"))
		if desc := mediaDescription(entry.Extensions); desc != "" && body == "" {
			body = normalizeText(desc)
		}
	case domain.PlatformPodcast:
		contentType = domain.ContentEpisode
		// Podcast accounts are show names.
		author = strings.TrimSpace(feed.Title)
		if entry.ITunesExt != nil {
			if entry.ITunesExt.Duration != "" {
				metadata["duration"] = entry.ITunesExt.Duration
			}
			if entry.ITunesExt.Episode != "" {
				metadata["episode"] = entry.ITunesExt.Episode
			}
			if entry.ITunesExt.Author != "" {
				metadata["itunes_author"] = entry.ITunesExt.Author
			}
			if body == "" {
				body = htmlToText(entry.ITunesExt.Summary)
			}
		}
		for _, enc := range entry.Enclosures {
			if enc != nil && enc.URL != "" {
				metadata["enclosure_url"] = enc.URL
				break
			}
		}
	case domain.PlatformTwitter:
		contentType = domain.ContentPost
		if author == "" && entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Creator) > 0 {
			author = entry.DublinCoreExt.Creator[0]
		}
		if author == "" {
			author = personName(feed.Author, feed.Authors)
		}
	default:
		if author == "" {
			author = personName(feed.Author, feed.Authors)
		}
	}

	item := domain.ContentItem{
		ID:          domain.NewContentID(subjectID, f.platform, nativeID, entry.Link),
		SubjectID:   subjectID,
		Platform:    f.platform,
		ContentType: contentType,
		Title:       strings.TrimSpace(entry.Title),
		Body:        body,
		URL:         entry.Link,
		Author:      strings.TrimSpace(author),
		FetchedAt:   fetchedAt,
		RawMetadata: metadata,
	}
	if published := firstTime(entry.PublishedParsed, entry.UpdatedParsed); published != nil {
		item.PublishedAt = published
	} else if t, ok := parseDate(firstNonEmpty(entry.Published, entry.Updated)); ok {
		item.PublishedAt = &t
	}
	return item
}

func extValue(exts ext.Extensions, prefix, name string) string {
	if exts == nil {
		return ""
	}
	values := exts[prefix][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

func mediaDescription(exts ext.Extensions) string {
	groups := exts["media"]["group"]
	if len(groups) == 0 {
		return ""
	}
	descs := groups[0].Children["description"]
	if len(descs) == 0 {
		return ""
	}
	return descs[0].Value
}

func personName(primary *gofeed.Person, others []*gofeed.Person) string {
	if primary != nil && strings.TrimSpace(primary.Name) != "" {
		return primary.Name
	}
	for _, p := range others {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			return p.Name
		}
	}
	return ""
}

func firstTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil && !t.IsZero() {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
