// Package v1 hosts the HTTP handlers exposing the capability surface.
// Providers are injected as named maps so the gateway serves whatever
// adapters the process managed to construct at boot.
package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/exec"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/graphdb"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/stt"
	"github.com/capra-ai/capra/tts"
	"github.com/capra-ai/capra/vector"
	"github.com/capra-ai/capra/websearch"
)

type Handler struct {
	Chat   map[string]chat.Provider
	STT    map[string]stt.Provider
	TTS    map[string]tts.Provider
	Vector map[string]vector.Provider
	Search map[string]websearch.Provider
	Graph  map[string]graphdb.Provider
	Exec   map[string]exec.Provider

	Durable *durable.Manager
}

// NewHandler builds a handler with empty provider maps around the given
// durability manager.
func NewHandler(m *durable.Manager) *Handler {
	return &Handler{
		Chat:    make(map[string]chat.Provider),
		STT:     make(map[string]stt.Provider),
		TTS:     make(map[string]tts.Provider),
		Vector:  make(map[string]vector.Provider),
		Search:  make(map[string]websearch.Provider),
		Graph:   make(map[string]graphdb.Provider),
		Exec:    make(map[string]exec.Provider),
		Durable: m,
	}
}

func providerFor[P any](providers map[string]P, name string) (P, error) {
	p, ok := providers[name]
	if !ok {
		var zero P
		return zero, fault.NotFound("provider %q is not configured", name)
	}
	return p, nil
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
