package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/websearch"
)

type searchOutcome struct {
	Results  []websearch.Result  `json:"results"`
	Metadata *websearch.Metadata `json:"metadata,omitempty"`
}

func (h *Handler) WebSearch(c *gin.Context) {
	name := c.Query("provider")
	p, err := providerFor(h.Search, name)
	if err != nil {
		respondFault(c, err)
		return
	}
	query := c.Query("q")
	if query == "" {
		respondFault(c, fault.Invalid("query parameter q is required"))
		return
	}
	params := websearch.Params{
		Query:      query,
		SafeSearch: c.Query("safe_search"),
		Language:   c.Query("language"),
		Region:     c.Query("region"),
	}
	if raw := c.Query("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondFault(c, fault.Invalid("malformed max_results %q", raw))
			return
		}
		params.MaxResults = n
	}
	id := capability.ID{Family: capability.WebSearch, Provider: name}
	out, err := durable.Unary(c.Request.Context(), h.Durable, id, "search_once", params,
		func(ctx context.Context, params websearch.Params) (*searchOutcome, error) {
			results, meta, err := p.SearchOnce(ctx, params)
			if err != nil {
				return nil, err
			}
			return &searchOutcome{Results: results, Metadata: meta}, nil
		})
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": out.Results, "metadata": out.Metadata})
}
