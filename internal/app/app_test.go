package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentIngestor/internal/config"
	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/usecase"
)

func newBlog(t *testing.T) *httptest.Server {
	t.Helper()
	body := strings.Repeat("Lessons from a decade of experiments with sleep and focus. ", 5)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body>
				<article><h2 class="entry-title"><a href="/2024/05/01/one/">One</a></h2></article>
				<article><h2 class="entry-title"><a href="/2024/05/02/two/">Two</a></h2></article>
			</body></html>`)
		case "/2024/05/01/one/", "/2024/05/02/two/":
			fmt.Fprintf(w, `<html><body><h1 class="entry-title">%s</h1>
				<time datetime="2024-05-01T10:00:00Z"></time>
				<div class="entry-content"><p>%s</p></div></body></html>`, r.URL.Path, body)
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, blogURL string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
http:
  requestDelay: 0s
retry:
  baseDelay: 1ms
  maxDelay: 2ms
subjects:
  - id: tim_ferriss
    sources:
      - platform: blog
        url: %s/
`, blogURL)))
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "content.db")
	cfg.State.Path = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApplicationIngestsAndProcesses(t *testing.T) {
	t.Parallel()

	blog := newBlog(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	application, err := New(ctx, testConfig(t, blog.URL), logger)
	require.NoError(t, err)
	defer application.Close()

	report := application.Orchestrator().IngestAll(ctx, application.DefaultOptions())
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, usecase.StateCompleted, res.State)
	assert.Equal(t, 2, res.Stats.Accepted)

	stats, err := application.Repository().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByPlatform[domain.PlatformBlog])

	states, err := application.States(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Len(t, states[0].ItemsSeen, 2)

	processed, err := application.Pipeline().ProcessPending(ctx, domain.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, processed.Processed)
	assert.Zero(t, processed.Embedded)

	// The page fetcher skips articles the cursor already holds.
	report = application.Orchestrator().IngestAll(ctx, application.DefaultOptions())
	require.NoError(t, report.Results[0].Err)
	assert.Zero(t, report.Results[0].Stats.Fetched)
	assert.NoError(t, application.Notify(ctx, report))
}

func TestApplicationWatchStopsWithContext(t *testing.T) {
	t.Parallel()

	blog := newBlog(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := New(context.Background(), testConfig(t, blog.URL), logger)
	require.NoError(t, err)
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, application.Watch(ctx, time.Hour, ""))

	stats, err := application.Repository().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total, "the first tick runs immediately")
}
