package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/vector"
)

// done is the recorded outcome of effect-only operations.
type done struct{}

func vectorID(provider string) capability.ID {
	return capability.ID{Family: capability.Vector, Provider: provider}
}

type collectionPayload struct {
	Provider string `json:"provider" binding:"required"`
	vector.CollectionConfig
}

func (h *Handler) CreateCollection(c *gin.Context) {
	var payload collectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.Vector, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	_, err = durable.Unary(c.Request.Context(), h.Durable, vectorID(payload.Provider), "create_collection", payload.CollectionConfig,
		func(ctx context.Context, cfg vector.CollectionConfig) (done, error) {
			return done{}, p.CreateCollection(ctx, cfg)
		})
	if err != nil {
		respondFault(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *Handler) ListCollections(c *gin.Context) {
	p, err := providerFor(h.Vector, c.Query("provider"))
	if err != nil {
		respondFault(c, err)
		return
	}
	names, err := p.ListCollections(c.Request.Context())
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": names})
}

func (h *Handler) DescribeCollection(c *gin.Context) {
	p, err := providerFor(h.Vector, c.Query("provider"))
	if err != nil {
		respondFault(c, err)
		return
	}
	info, err := p.DescribeCollection(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) DeleteCollection(c *gin.Context) {
	provider := c.Query("provider")
	p, err := providerFor(h.Vector, provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	_, err = durable.Unary(c.Request.Context(), h.Durable, vectorID(provider), "delete_collection", c.Param("name"),
		func(ctx context.Context, name string) (done, error) {
			return done{}, p.DeleteCollection(ctx, name)
		})
	if err != nil {
		respondFault(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type upsertPayload struct {
	Provider   string         `json:"provider" binding:"required"`
	Collection string         `json:"collection" binding:"required"`
	Points     []vector.Point `json:"points" binding:"required,min=1"`
}

type upsertRequest struct {
	Collection string         `json:"collection"`
	Points     []vector.Point `json:"points"`
}

func (h *Handler) UpsertPoints(c *gin.Context) {
	var payload upsertPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.Vector, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	req := upsertRequest{Collection: payload.Collection, Points: payload.Points}
	_, err = durable.Unary(c.Request.Context(), h.Durable, vectorID(payload.Provider), "upsert", req,
		func(ctx context.Context, req upsertRequest) (done, error) {
			return done{}, p.Upsert(ctx, req.Collection, req.Points)
		})
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": len(payload.Points)})
}

type searchPayload struct {
	Provider   string `json:"provider" binding:"required"`
	Collection string `json:"collection" binding:"required"`
	vector.SearchParams
	// MinScore switches the query to a range search.
	MinScore *float32 `json:"min_score,omitempty"`
}

type searchRequest struct {
	Collection string              `json:"collection"`
	Params     vector.SearchParams `json:"params"`
	MinScore   *float32            `json:"min_score,omitempty"`
}

func (h *Handler) SearchVectors(c *gin.Context) {
	var payload searchPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.Vector, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	req := searchRequest{Collection: payload.Collection, Params: payload.SearchParams, MinScore: payload.MinScore}
	op := capability.Operation("search")
	if req.MinScore != nil {
		op = "range_search"
	}
	hits, err := durable.Unary(c.Request.Context(), h.Durable, vectorID(payload.Provider), op, req,
		func(ctx context.Context, req searchRequest) ([]vector.Hit, error) {
			if req.MinScore != nil {
				return p.RangeSearch(ctx, req.Collection, req.Params, *req.MinScore)
			}
			return p.Search(ctx, req.Collection, req.Params)
		})
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}
