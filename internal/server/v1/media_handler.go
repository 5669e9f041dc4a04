package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/stt"
	"github.com/capra-ai/capra/tts"
)

type transcribePayload struct {
	Provider string      `json:"provider" binding:"required"`
	Audio    []byte      `json:"audio" binding:"required"`
	Format   string      `json:"format"`
	Options  stt.Options `json:"options"`
}

func (h *Handler) Transcribe(c *gin.Context) {
	var payload transcribePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.STT, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	id := capability.ID{Family: capability.STT, Provider: payload.Provider}
	req := stt.Request{Audio: payload.Audio, Format: payload.Format, Options: payload.Options}
	result, err := durable.Unary(c.Request.Context(), h.Durable, id, "transcribe", req, p.Transcribe)
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type vocabularyPayload struct {
	Provider string   `json:"provider" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Phrases  []string `json:"phrases" binding:"required,min=1"`
}

func (h *Handler) CreateVocabulary(c *gin.Context) {
	var payload vocabularyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.STT, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	vocabulary, err := p.CreateVocabulary(c.Request.Context(), payload.Name, payload.Phrases)
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusCreated, vocabulary)
}

func (h *Handler) DeleteVocabulary(c *gin.Context) {
	p, err := providerFor(h.STT, c.Query("provider"))
	if err != nil {
		respondFault(c, err)
		return
	}
	if err := p.DeleteVocabulary(c.Request.Context(), c.Param("handle")); err != nil {
		respondFault(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type synthesizePayload struct {
	Provider string `json:"provider" binding:"required"`
	tts.Request
}

func (h *Handler) Synthesize(c *gin.Context) {
	var payload synthesizePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.TTS, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	id := capability.ID{Family: capability.TTS, Provider: payload.Provider}
	audio, err := durable.Unary(c.Request.Context(), h.Durable, id, "synthesize", payload.Request, p.Synthesize)
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, audio)
}

func (h *Handler) ListVoices(c *gin.Context) {
	p, err := providerFor(h.TTS, c.Query("provider"))
	if err != nil {
		respondFault(c, err)
		return
	}
	voices, err := p.ListVoices(c.Request.Context())
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voices": voices})
}
