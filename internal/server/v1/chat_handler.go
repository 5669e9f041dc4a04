package v1

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/streams"
)

// streamNextTimeout bounds how long one SSE write waits for the next event
// before the stream is considered stalled and closed.
const streamNextTimeout = 60 * time.Second

type chatPayload struct {
	Provider string         `json:"provider" binding:"required"`
	Stream   bool           `json:"stream"`
	Messages []chat.Message `json:"messages" binding:"required,min=1"`
	Config   chat.Config    `json:"config"`
}

func (h *Handler) CreateCompletion(c *gin.Context) {
	var payload chatPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBinding(c, err)
		return
	}
	p, err := providerFor(h.Chat, payload.Provider)
	if err != nil {
		respondFault(c, err)
		return
	}
	id := capability.ID{Family: capability.Chat, Provider: payload.Provider}
	req := chat.Request{Messages: payload.Messages, Config: payload.Config}

	if payload.Stream {
		h.streamCompletion(c, id, p, req)
		return
	}
	resp, err := durable.Unary(c.Request.Context(), h.Durable, id, "send", req, p.Send)
	if err != nil {
		respondFault(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// streamCompletion serves one durable chat stream over SSE. An interrupted
// earlier attempt replays its recorded events first, then continues from a
// resume-shaped request.
func (h *Handler) streamCompletion(c *gin.Context, id capability.ID, p chat.Provider, req chat.Request) {
	input, err := json.Marshal(req)
	if err != nil {
		respondFault(c, fault.Wrap(fault.KindInternal, err, "encode stream input"))
		return
	}
	buf, err := h.Durable.Stream(c.Request.Context(), id, "stream", input,
		func(ctx context.Context) (*streams.Buffer, error) {
			return p.Stream(ctx, req)
		},
		func(ctx context.Context, replayed []streams.Event) (*streams.Buffer, error) {
			return p.Stream(ctx, chat.ResumeRequest(req, replayed))
		},
	)
	if err != nil {
		respondFault(c, err)
		return
	}
	defer buf.Close()

	writeSSE(c, buf)
}

// writeSSE drains a stream buffer into the response as SSE data frames,
// ending with the [DONE] sentinel.
func writeSSE(c *gin.Context, buf *streams.Buffer) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		ev, ok := buf.Next(streamNextTimeout)
		if !ok {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		return true
	})
}
