// Package websearch defines the web-search capability contract and provider
// registry. Beyond one-shot queries it models a paging session: a handle
// that fetches successive result pages until the provider runs out.
package websearch

import (
	"context"
	"fmt"
	"sync"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
)

// Params is one search query.
type Params struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results,omitempty"`
	SafeSearch     string   `json:"safe_search,omitempty"`
	Language       string   `json:"language,omitempty"`
	Region         string   `json:"region,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

// Result is one search hit.
type Result struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet,omitempty"`
	Score       float64 `json:"score,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
}

// Metadata describes the state of a search after the latest page.
type Metadata struct {
	Query        string `json:"query"`
	CurrentPage  int    `json:"current_page"`
	TotalResults int64  `json:"total_results,omitempty"`
	Exhausted    bool   `json:"exhausted"`
}

// Provider is the web-search capability contract.
type Provider interface {
	Name() string
	SearchOnce(ctx context.Context, params Params) ([]Result, *Metadata, error)
	StartSearch(ctx context.Context, params Params) (*Session, error)
}

// PageFunc fetches one zero-indexed page for a session.
type PageFunc func(ctx context.Context, page int) ([]Result, *Metadata, error)

// Session is a paging search handle. Closed sessions answer NotFound.
type Session struct {
	mu     sync.Mutex
	fetch  PageFunc
	page   int
	meta   *Metadata
	closed bool
}

// NewSession builds a session around a provider page fetcher.
func NewSession(query string, fetch PageFunc) *Session {
	return &Session{fetch: fetch, meta: &Metadata{Query: query}}
}

// NextPage fetches the next result page. An exhausted search returns an
// empty slice with Exhausted set in the metadata.
func (s *Session) NextPage(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fault.NotFound("search session is closed")
	}
	if s.meta.Exhausted {
		s.mu.Unlock()
		return nil, nil
	}
	page := s.page
	s.mu.Unlock()

	results, meta, err := s.fetch(ctx, page)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.NotFound("search session is closed")
	}
	s.page++
	if meta != nil {
		s.meta = meta
	}
	s.meta.CurrentPage = s.page
	if len(results) == 0 {
		s.meta.Exhausted = true
	}
	return results, nil
}

// Metadata returns a copy of the session state.
func (s *Session) Metadata() (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.NotFound("search session is closed")
	}
	meta := *s.meta
	return &meta, nil
}

// Close releases the session. Further calls answer NotFound.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Deps are the shared runtime pieces handed to adapter factories.
type Deps struct {
	HTTP     *httpx.Client
	Conf     *conf.Resolver
	Override map[string]string
}

type Factory func(Deps) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("websearch provider %s already registered", name))
	}
	factories[name] = f
}

func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("websearch provider not found: %s", name)
	}
	return f(deps)
}
