package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ContentIngestor/internal/domain"
)

// Request carries everything a fetcher needs to produce one page of items.
type Request struct {
	Subject   domain.Subject
	Endpoints []domain.SourceEndpoint
	// Since is the last known cursor of the pair; nil on the first run.
	Since     *domain.SourceState
	MaxItems  int
	DateFrom  *time.Time
	DateTo    *time.Time
	PageToken string
}

// Page is one slice of raw items. An empty NextToken means the source is exhausted.
type Page struct {
	Items     []domain.ContentItem
	NextToken string
}

// Fetcher captures a single platform strategy (web pages, feeds, etc.).
// Calling FetchPage again with the same token re-fetches the same page.
type Fetcher interface {
	Platform() domain.Platform
	FetchPage(ctx context.Context, req Request) (Page, error)
}

// Registry keeps a mapping from platforms to their fetchers.
type Registry struct {
	fetchers map[domain.Platform]Fetcher
}

// NewRegistry builds a registry pre-populated with fetchers.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: map[domain.Platform]Fetcher{}}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a fetcher implementation.
func (r *Registry) Register(f Fetcher) {
	if r.fetchers == nil {
		r.fetchers = map[domain.Platform]Fetcher{}
	}
	r.fetchers[f.Platform()] = f
}

// Resolve returns the fetcher of a platform or an error matching domain.ErrFetcherNotFound.
func (r *Registry) Resolve(p domain.Platform) (Fetcher, error) {
	if f, ok := r.fetchers[p]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("platform %s: %w", p, domain.ErrFetcherNotFound)
}

// Platforms lists registered platforms in a stable order.
func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.fetchers))
	for p := range r.fetchers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
