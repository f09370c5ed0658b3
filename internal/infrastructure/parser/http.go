package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"ContentIngestor/internal/domain"
)

const (
	defaultUserAgent = "ContentIngestor/1.0"
	maxBodyBytes     = 8 << 20
)

// ErrDisallowed is returned for URLs excluded by the host's robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// politeClient wraps an http.Client with per-host pacing and robots.txt checks.
type politeClient struct {
	client     *http.Client
	userAgent  string
	delay      time.Duration
	obeyRobots bool
	logger     *slog.Logger

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	robots   map[string]*robotstxt.RobotsData
}

func newPoliteClient(client *http.Client, userAgent string, delay time.Duration, obeyRobots bool, logger *slog.Logger) *politeClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &politeClient{
		client:     client,
		userAgent:  userAgent,
		delay:      delay,
		obeyRobots: obeyRobots,
		logger:     logger,
		limiters:   map[string]*rate.Limiter{},
		robots:     map[string]*robotstxt.RobotsData{},
	}
}

// get fetches rawURL and returns the body. Failures are classified as transient or permanent fetch errors.
func (c *politeClient) get(ctx context.Context, platform domain.Platform, op, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, domain.NewPermanentError(platform, op, fmt.Errorf("invalid url %q", rawURL))
	}

	if c.obeyRobots {
		if !c.allowed(ctx, parsed) {
			return nil, domain.NewPermanentError(platform, op, fmt.Errorf("%s: %w", rawURL, ErrDisallowed))
		}
	}

	if err := c.hostLimiter(parsed.Host).Wait(ctx); err != nil {
		return nil, domain.Cancelled(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewPermanentError(platform, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, platform, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewStatusError(platform, op, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(ctx, platform, op, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (c *politeClient) hostLimiter(host string) *rate.Limiter {
	c.mu.RLock()
	l, ok := c.limiters[host]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[host]; ok {
		return l
	}

	limit := rate.Inf
	if c.delay > 0 {
		limit = rate.Every(c.delay)
	}
	l = rate.NewLimiter(limit, 1)
	c.limiters[host] = l
	return l
}

func (c *politeClient) allowed(ctx context.Context, target *url.URL) bool {
	key := target.Scheme + "://" + target.Host

	c.mu.RLock()
	data, ok := c.robots[key]
	c.mu.RUnlock()

	if !ok {
		data = c.fetchRobots(ctx, key)
		c.mu.Lock()
		c.robots[key] = data
		c.mu.Unlock()
	}
	if data == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, c.userAgent)
}

// fetchRobots returns nil (allow all) when robots.txt cannot be read.
func (c *politeClient) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots.txt unavailable", "origin", origin, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.logger.Debug("robots.txt unparseable", "origin", origin, "error", err)
		return nil
	}
	return data
}

func classifyTransport(ctx context.Context, platform domain.Platform, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Cancelled(ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewTransientError(platform, op, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return domain.NewTransientError(platform, op, err)
	}
	return domain.NewPermanentError(platform, op, err)
}
