package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/graphdb"
	"github.com/capra-ai/capra/internal/durable"
)

type graphQueryPayload struct {
	Provider string   `json:"provider" binding:"required"`
	Mode     string   `json:"mode" binding:"required,oneof=shortest all exists neighborhood"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Vertex   string   `json:"vertex"`
	Types    []string `json:"types"`
	MaxDepth int      `json:"max_depth"`
}

type pathQuery struct {
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Vertex   string   `json:"vertex,omitempty"`
	Types    []string `json:"types,omitempty"`
	MaxDepth int      `json:"max_depth,omitempty"`
}

func (q pathQuery) filter() graphdb.EdgeFilter {
	return graphdb.EdgeFilter{Types: q.Types, MaxDepth: q.MaxDepth}
}

// GraphQuery serves the read-side graph operations. Mutations run through
// explicit transactions and are not exposed over HTTP.
func (h *Handler) GraphQuery(c *gin.Context) {
	var payload graphQueryPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.Graph, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	ctx := c.Request.Context()
	id := capability.ID{Family: capability.GraphDB, Provider: payload.Provider}
	query := pathQuery{
		From:     payload.From,
		To:       payload.To,
		Vertex:   payload.Vertex,
		Types:    payload.Types,
		MaxDepth: payload.MaxDepth,
	}

	switch payload.Mode {
	case "shortest":
		path, err := durable.Unary(ctx, h.Durable, id, "shortest_path", query,
			func(ctx context.Context, q pathQuery) (*graphdb.Path, error) {
				return p.ShortestPath(ctx, q.From, q.To, q.filter())
			})
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"path": path})
	case "all":
		paths, err := durable.Unary(ctx, h.Durable, id, "all_paths", query,
			func(ctx context.Context, q pathQuery) ([]graphdb.Path, error) {
				return p.AllPaths(ctx, q.From, q.To, q.filter())
			})
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"paths": paths})
	case "exists":
		exists, err := durable.Unary(ctx, h.Durable, id, "path_exists", query,
			func(ctx context.Context, q pathQuery) (bool, error) {
				return p.PathExists(ctx, q.From, q.To, q.filter())
			})
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exists": exists})
	case "neighborhood":
		if payload.Vertex == "" {
			respondFault(c, fault.Invalid("vertex is required for neighborhood queries"))
			return
		}
		vertices, err := durable.Unary(ctx, h.Durable, id, "neighborhood", query,
			func(ctx context.Context, q pathQuery) ([]graphdb.Vertex, error) {
				return p.Neighborhood(ctx, q.Vertex, q.filter())
			})
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"vertices": vertices})
	}
}
