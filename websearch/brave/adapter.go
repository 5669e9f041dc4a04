// Package brave adapts the Brave Search API to the web-search capability
// contract. Paging uses the offset parameter, twenty results per page.
package brave

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/websearch"
)

const (
	defaultBaseURL = "https://api.search.brave.com"
	pageSize       = 20
)

func init() {
	websearch.Register("brave", New)
}

type Adapter struct {
	http    *httpx.Client
	key     string
	baseURL string
}

func New(deps websearch.Deps) (websearch.Provider, error) {
	key, err := deps.Conf.APIKey(conf.EnvBraveKey, deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := defaultBaseURL
	if u, ok := deps.Override["BRAVE_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{http: client, key: key, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (a *Adapter) Name() string { return "brave" }

func (a *Adapter) SearchOnce(ctx context.Context, params websearch.Params) ([]websearch.Result, *websearch.Metadata, error) {
	return a.page(ctx, params, 0)
}

func (a *Adapter) StartSearch(_ context.Context, params websearch.Params) (*websearch.Session, error) {
	if params.Query == "" {
		return nil, fault.Invalid("query is required")
	}
	return websearch.NewSession(params.Query, func(ctx context.Context, page int) ([]websearch.Result, *websearch.Metadata, error) {
		return a.page(ctx, params, page)
	}), nil
}

func (a *Adapter) page(ctx context.Context, params websearch.Params, page int) ([]websearch.Result, *websearch.Metadata, error) {
	if params.Query == "" {
		return nil, nil, fault.Invalid("query is required")
	}
	count := params.MaxResults
	if count <= 0 || count > pageSize {
		count = pageSize
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("count", strconv.Itoa(count))
	if page > 0 {
		query.Set("offset", strconv.Itoa(page))
	}
	if params.SafeSearch != "" {
		query.Set("safesearch", params.SafeSearch)
	}
	if params.Language != "" {
		query.Set("search_lang", params.Language)
	}
	if params.Region != "" {
		query.Set("country", params.Region)
	}

	env := httpx.Get(a.baseURL+"/res/v1/web/search?"+query.Encode(),
		httpx.Header{Name: "Accept", Value: "application/json"},
	).WithAuth(httpx.KeyHeader("X-Subscription-Token", a.key))
	resp, err := a.http.Perform(ctx, env)
	if err != nil {
		return nil, nil, err
	}

	var decoded struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, nil, fault.Wrap(fault.KindInternal, err, "decode search response")
	}

	results := make([]websearch.Result, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		results = append(results, websearch.Result{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Description,
			PublishedAt: r.Age,
		})
	}
	meta := &websearch.Metadata{Query: params.Query}
	return results, meta, nil
}
