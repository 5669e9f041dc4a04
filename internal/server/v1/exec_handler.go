package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/exec"
	"github.com/capra-ai/capra/internal/durable"
)

type runPayload struct {
	Provider string `json:"provider" binding:"required"`
	exec.RunRequest
}

func (h *Handler) RunCode(c *gin.Context) {
	var payload runPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.Exec, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	id := capability.ID{Family: capability.Exec, Provider: payload.Provider}
	result, err := durable.Unary(c.Request.Context(), h.Durable, id, "run", payload.RunRequest, p.Run)
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
