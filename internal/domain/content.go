package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Platform names a family of upstream sources.
type Platform string

const (
	PlatformBlog    Platform = "blog"
	PlatformBook    Platform = "book"
	PlatformRSS     Platform = "rss"
	PlatformTwitter Platform = "twitter"
	PlatformYouTube Platform = "youtube"
	PlatformPodcast Platform = "podcast"
)

// AllPlatforms lists every platform in the order runs are reported.
var AllPlatforms = []Platform{
	PlatformBlog,
	PlatformBook,
	PlatformRSS,
	PlatformTwitter,
	PlatformYouTube,
	PlatformPodcast,
}

// AccountBound reports whether items of the platform are attributed to a native account
// (handle, channel, show) rather than to a web domain.
func (p Platform) AccountBound() bool {
	switch p {
	case PlatformTwitter, PlatformYouTube, PlatformPodcast:
		return true
	default:
		return false
	}
}

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// ContentType describes the shape of a fetched unit.
type ContentType string

const (
	ContentArticle ContentType = "article"
	ContentChapter ContentType = "chapter"
	ContentPost    ContentType = "post"
	ContentVideo   ContentType = "video"
	ContentEpisode ContentType = "episode"
)

// ContentItem is a single fetched unit (article, tweet, transcript, episode).
type ContentItem struct {
	ID          string
	SubjectID   string
	Platform    Platform
	ContentType ContentType
	Title       string
	Body        string
	URL         string
	// Author is the native author, channel or handle identifier reported by the platform.
	Author       string
	PublishedAt  *time.Time
	FetchedAt    time.Time
	RawMetadata  map[string]any
	Authenticity *AuthenticityScore
}

// Score returns the authenticity total, or 0 when the item has not been scored.
func (c ContentItem) Score() int {
	if c.Authenticity == nil {
		return 0
	}
	return c.Authenticity.Total
}

// AuthenticityScore is the 0-100 trust metric attached to an item.
type AuthenticityScore struct {
	Total   int
	Signals map[string]int
	// Capped is set when the off-channel ceiling overrode the signal sum.
	Capped bool
}

// NewContentID derives the stable dedup key of an item. The native platform id wins over the URL.
func NewContentID(subjectID string, platform Platform, nativeID, rawURL string) string {
	key := strings.TrimSpace(nativeID)
	if key == "" {
		key = CanonicalURL(rawURL)
	}

	sum := sha256.Sum256([]byte(subjectID + "|" + string(platform) + "|" + key))
	return hex.EncodeToString(sum[:])
}

// CanonicalURL normalizes a URL so that trivially different spellings of the same page collapse.
// Unparseable input is returned trimmed and lower-cased.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""

	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

// HostOf returns the lower-cased host of rawURL without port and leading "www.".
func HostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
