// Package tavily adapts the Tavily search API to the web-search capability
// contract. Tavily has no server-side paging, so a session serves its whole
// answer as one page and is exhausted afterwards.
package tavily

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/websearch"
)

const defaultBaseURL = "https://api.tavily.com"

func init() {
	websearch.Register("tavily", New)
}

type Adapter struct {
	http    *httpx.Client
	key     string
	baseURL string
}

func New(deps websearch.Deps) (websearch.Provider, error) {
	key, err := deps.Conf.APIKey(conf.EnvTavilyKey, deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := defaultBaseURL
	if u, ok := deps.Override["TAVILY_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{http: client, key: key, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (a *Adapter) Name() string { return "tavily" }

func (a *Adapter) SearchOnce(ctx context.Context, params websearch.Params) ([]websearch.Result, *websearch.Metadata, error) {
	if params.Query == "" {
		return nil, nil, fault.Invalid("query is required")
	}
	payload := map[string]any{
		"api_key": a.key,
		"query":   params.Query,
	}
	if params.MaxResults > 0 {
		payload["max_results"] = params.MaxResults
	}
	if len(params.IncludeDomains) > 0 {
		payload["include_domains"] = params.IncludeDomains
	}
	if len(params.ExcludeDomains) > 0 {
		payload["exclude_domains"] = params.ExcludeDomains
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindInternal, err, "encode search request")
	}

	resp, err := a.http.Perform(ctx, httpx.Post(a.baseURL+"/search", body))
	if err != nil {
		return nil, nil, err
	}

	var decoded struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, nil, fault.Wrap(fault.KindInternal, err, "decode search response")
	}

	results := make([]websearch.Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, websearch.Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	meta := &websearch.Metadata{Query: params.Query, TotalResults: int64(len(results))}
	return results, meta, nil
}

func (a *Adapter) StartSearch(_ context.Context, params websearch.Params) (*websearch.Session, error) {
	if params.Query == "" {
		return nil, fault.Invalid("query is required")
	}
	return websearch.NewSession(params.Query, func(ctx context.Context, page int) ([]websearch.Result, *websearch.Metadata, error) {
		if page > 0 {
			return nil, nil, nil
		}
		return a.SearchOnce(ctx, params)
	}), nil
}
