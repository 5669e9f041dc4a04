// Package graphdb defines the graph-database capability contract and
// provider registry. Mutations happen inside an explicit transaction
// handle; path queries run as single auto-committed operations.
package graphdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
)

// Vertex is one node.
type Vertex struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is one directed relationship.
type Edge struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Path is an alternating vertex/edge walk.
type Path struct {
	Vertices []Vertex `json:"vertices"`
	Edges    []Edge   `json:"edges"`
}

// EdgeFilter restricts traversals to the named edge types up to MaxDepth
// hops. An empty type list admits every edge; zero depth means the provider
// default.
type EdgeFilter struct {
	Types    []string `json:"types,omitempty"`
	MaxDepth int      `json:"max_depth,omitempty"`
}

// Transaction is the mutation handle. Commit and Rollback both end the
// transaction; operations on an ended transaction answer NotFound.
type Transaction interface {
	CreateVertex(ctx context.Context, labels []string, props map[string]any) (*Vertex, error)
	GetVertex(ctx context.Context, id string) (*Vertex, error)
	UpdateVertex(ctx context.Context, id string, props map[string]any) error
	DeleteVertex(ctx context.Context, id string) error

	CreateEdge(ctx context.Context, edgeType, fromID, toID string, props map[string]any) (*Edge, error)
	DeleteEdge(ctx context.Context, id string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Provider is the graph-database capability contract.
type Provider interface {
	Name() string
	BeginTransaction(ctx context.Context) (Transaction, error)

	ShortestPath(ctx context.Context, fromID, toID string, filter EdgeFilter) (*Path, error)
	AllPaths(ctx context.Context, fromID, toID string, filter EdgeFilter) ([]Path, error)
	Neighborhood(ctx context.Context, id string, filter EdgeFilter) ([]Vertex, error)
	PathExists(ctx context.Context, fromID, toID string, filter EdgeFilter) (bool, error)
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
		panic(fmt.Sprintf("graphdb provider %s already registered", name))
	}
	factories[name] = f
}

func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graphdb provider not found: %s", name)
	}
	return f(deps)
}
