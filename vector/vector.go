// Package vector defines the vector-search capability contract and provider
// registry. Filters pass through as provider-native JSON; the contract does
// not invent a cross-provider filter algebra.
package vector

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
)

// Distance selects the similarity metric of a collection.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceEuclidean Distance = "euclidean"
	DistanceDot       Distance = "dot"
)

// CollectionConfig creates a collection.
type CollectionConfig struct {
	Name      string   `json:"name"`
	Dimension int      `json:"dimension"`
	Distance  Distance `json:"distance"`
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name       string   `json:"name"`
	Dimension  int      `json:"dimension"`
	Distance   Distance `json:"distance"`
	PointCount int64    `json:"point_count"`
	Status     string   `json:"status"`
}

// Point is one stored vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Hit is one search result.
type Hit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchParams is a nearest-neighbor query.
type SearchParams struct {
	Vector         []float32       `json:"vector"`
	Limit          int             `json:"limit"`
	Filter         json.RawMessage `json:"filter,omitempty"`
	WithVector     bool            `json:"with_vector,omitempty"`
	WithPayload    bool            `json:"with_payload,omitempty"`
	ScoreThreshold *float32        `json:"score_threshold,omitempty"`
}

// RecommendParams is a positive/negative example query.
type RecommendParams struct {
	Positive []string        `json:"positive"`
	Negative []string        `json:"negative,omitempty"`
	Limit    int             `json:"limit"`
	Filter   json.RawMessage `json:"filter,omitempty"`
}

// GroupParams is a grouped nearest-neighbor query.
type GroupParams struct {
	SearchParams
	GroupBy   string `json:"group_by"`
	GroupSize int    `json:"group_size"`
}

// Group is one result group keyed by the grouping payload value.
type Group struct {
	Key  any   `json:"key"`
	Hits []Hit `json:"hits"`
}

// Provider is the vector-search capability contract.
type Provider interface {
	Name() string

	CreateCollection(ctx context.Context, cfg CollectionConfig) error
	ListCollections(ctx context.Context) ([]string, error)
	DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, collection string, points []Point) error
	Get(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error)
	Delete(ctx context.Context, collection string, ids []string) error
	UpdatePayload(ctx context.Context, collection, id string, payload map[string]any) error

	Search(ctx context.Context, collection string, params SearchParams) ([]Hit, error)
	// RangeSearch returns every neighbor scoring at or above minScore.
	RangeSearch(ctx context.Context, collection string, params SearchParams, minScore float32) ([]Hit, error)
	Recommend(ctx context.Context, collection string, params RecommendParams) ([]Hit, error)
	SearchGroups(ctx context.Context, collection string, params GroupParams) ([]Group, error)
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
		panic(fmt.Sprintf("vector provider %s already registered", name))
	}
	factories[name] = f
}

func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vector provider not found: %s", name)
	}
	return f(deps)
}
