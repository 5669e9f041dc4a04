// Package qdrant adapts the Qdrant REST API to the vector-search capability
// contract.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/vector"
)

func init() {
	vector.Register("qdrant", New)
}

type Adapter struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(deps vector.Deps) (vector.Provider, error) {
	settings, err := deps.Conf.Qdrant(deps.Override)
	if err != nil {
		return nil, err
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{
		http:    client,
		baseURL: strings.TrimRight(settings.URL, "/"),
		apiKey:  settings.APIKey,
	}, nil
}

func (a *Adapter) Name() string { return "qdrant" }

func (a *Adapter) auth() httpx.Auth {
	if a.apiKey == "" {
		return httpx.Auth{}
	}
	return httpx.KeyHeader("api-key", a.apiKey)
}

// call performs one JSON request and unmarshals the "result" envelope field
// into out when out is non-nil.
func (a *Adapter) call(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fault.Wrap(fault.KindInternal, err, "encode %s request", path)
		}
	}
	env := httpx.Envelope{
		Method:  method,
		URL:     a.baseURL + path,
		Headers: []httpx.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:    body,
		Auth:    a.auth(),
	}
	resp, err := a.http.Perform(ctx, env)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fault.Wrap(fault.KindInternal, err, "decode %s response", path)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fault.Wrap(fault.KindInternal, err, "decode %s result", path)
	}
	return nil
}

func (a *Adapter) CreateCollection(ctx context.Context, cfg vector.CollectionConfig) error {
	if cfg.Name == "" {
		return fault.Invalid("collection name is required")
	}
	if cfg.Dimension <= 0 {
		return fault.Invalid("dimension must be positive")
	}
	payload := map[string]any{
		"vectors": map[string]any{
			"size":     cfg.Dimension,
			"distance": mapDistance(cfg.Distance),
		},
	}
	return a.call(ctx, "PUT", "/collections/"+cfg.Name, payload, nil)
}

func (a *Adapter) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := a.call(ctx, "GET", "/collections", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Collections))
	for _, c := range result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (a *Adapter) DescribeCollection(ctx context.Context, name string) (*vector.CollectionInfo, error) {
	var result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := a.call(ctx, "GET", "/collections/"+name, nil, &result); err != nil {
		return nil, err
	}
	return &vector.CollectionInfo{
		Name:       name,
		Dimension:  result.Config.Params.Vectors.Size,
		Distance:   unmapDistance(result.Config.Params.Vectors.Distance),
		PointCount: result.PointsCount,
		Status:     result.Status,
	}, nil
}

func (a *Adapter) DeleteCollection(ctx context.Context, name string) error {
	return a.call(ctx, "DELETE", "/collections/"+name, nil, nil)
}

func (a *Adapter) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	if len(points) == 0 {
		return fault.Invalid("upsert requires at least one point")
	}
	encoded := make([]map[string]any, 0, len(points))
	for _, p := range points {
		encoded = append(encoded, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	return a.call(ctx, "PUT", "/collections/"+collection+"/points?wait=true",
		map[string]any{"points": encoded}, nil)
}

func (a *Adapter) Get(ctx context.Context, collection string, ids []string, withVector bool) ([]vector.Point, error) {
	var result []struct {
		ID      any            `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	payload := map[string]any{
		"ids":          ids,
		"with_vector":  withVector,
		"with_payload": true,
	}
	if err := a.call(ctx, "POST", "/collections/"+collection+"/points", payload, &result); err != nil {
		return nil, err
	}
	points := make([]vector.Point, 0, len(result))
	for _, r := range result {
		points = append(points, vector.Point{
			ID:      fmt.Sprint(r.ID),
			Vector:  r.Vector,
			Payload: r.Payload,
		})
	}
	return points, nil
}

func (a *Adapter) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return fault.Invalid("delete requires at least one id")
	}
	return a.call(ctx, "POST", "/collections/"+collection+"/points/delete?wait=true",
		map[string]any{"points": ids}, nil)
}

func (a *Adapter) UpdatePayload(ctx context.Context, collection, id string, payload map[string]any) error {
	if id == "" {
		return fault.Invalid("point id is required")
	}
	return a.call(ctx, "POST", "/collections/"+collection+"/points/payload?wait=true",
		map[string]any{"payload": payload, "points": []string{id}}, nil)
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func hitsOf(points []scoredPoint) []vector.Hit {
	hits := make([]vector.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, vector.Hit{
			ID:      fmt.Sprint(p.ID),
			Score:   p.Score,
			Vector:  p.Vector,
			Payload: p.Payload,
		})
	}
	return hits
}

func searchPayload(params vector.SearchParams) map[string]any {
	payload := map[string]any{
		"vector":       params.Vector,
		"limit":        params.Limit,
		"with_payload": params.WithPayload,
		"with_vector":  params.WithVector,
	}
	if params.Filter != nil {
		payload["filter"] = params.Filter
	}
	if params.ScoreThreshold != nil {
		payload["score_threshold"] = *params.ScoreThreshold
	}
	return payload
}

func (a *Adapter) Search(ctx context.Context, collection string, params vector.SearchParams) ([]vector.Hit, error) {
	if len(params.Vector) == 0 {
		return nil, fault.Invalid("search vector is required")
	}
	var result []scoredPoint
	if err := a.call(ctx, "POST", "/collections/"+collection+"/points/search",
		searchPayload(params), &result); err != nil {
		return nil, err
	}
	return hitsOf(result), nil
}

func (a *Adapter) RangeSearch(ctx context.Context, collection string, params vector.SearchParams, minScore float32) ([]vector.Hit, error) {
	params.ScoreThreshold = &minScore
	return a.Search(ctx, collection, params)
}

func (a *Adapter) Recommend(ctx context.Context, collection string, params vector.RecommendParams) ([]vector.Hit, error) {
	if len(params.Positive) == 0 {
		return nil, fault.Invalid("recommend requires at least one positive example")
	}
	payload := map[string]any{
		"positive": params.Positive,
		"limit":    params.Limit,
	}
	if len(params.Negative) > 0 {
		payload["negative"] = params.Negative
	}
	if params.Filter != nil {
		payload["filter"] = params.Filter
	}
	var result []scoredPoint
	if err := a.call(ctx, "POST", "/collections/"+collection+"/points/recommend",
		payload, &result); err != nil {
		return nil, err
	}
	return hitsOf(result), nil
}

func (a *Adapter) SearchGroups(ctx context.Context, collection string, params vector.GroupParams) ([]vector.Group, error) {
	if params.GroupBy == "" {
		return nil, fault.Invalid("group_by is required")
	}
	payload := searchPayload(params.SearchParams)
	payload["group_by"] = params.GroupBy
	if params.GroupSize > 0 {
		payload["group_size"] = params.GroupSize
	}
	var result struct {
		Groups []struct {
			ID   any           `json:"id"`
			Hits []scoredPoint `json:"hits"`
		} `json:"groups"`
	}
	if err := a.call(ctx, "POST", "/collections/"+collection+"/points/search/groups",
		payload, &result); err != nil {
		return nil, err
	}
	groups := make([]vector.Group, 0, len(result.Groups))
	for _, g := range result.Groups {
		groups = append(groups, vector.Group{Key: g.ID, Hits: hitsOf(g.Hits)})
	}
	return groups, nil
}

func mapDistance(d vector.Distance) string {
	switch d {
	case vector.DistanceEuclidean:
		return "Euclid"
	case vector.DistanceDot:
		return "Dot"
	default:
		return "Cosine"
	}
}

func unmapDistance(raw string) vector.Distance {
	switch raw {
	case "Euclid":
		return vector.DistanceEuclidean
	case "Dot":
		return vector.DistanceDot
	default:
		return vector.DistanceCosine
	}
}
