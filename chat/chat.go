// Package chat defines the conversational capability contract and the
// provider registry. Adapters register themselves from init in their own
// package, mirroring how every family in this repository wires providers.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/streams"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a completed tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult answers one tool call on the next turn.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
}

// Message is one turn of the conversation.
type Message struct {
	Role       Role       `json:"role"`
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool declares a callable function the model may request.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Config is the per-request generation configuration. Provider options pass
// through opaquely to the named provider and are ignored by the others.
type Config struct {
	Model           string            `json:"model"`
	Temperature     *float64          `json:"temperature,omitempty"`
	MaxTokens       *int              `json:"max_tokens,omitempty"`
	Stop            []string          `json:"stop,omitempty"`
	Tools           []Tool            `json:"tools,omitempty"`
	ToolChoice      string            `json:"tool_choice,omitempty"`
	ProviderOptions map[string]string `json:"provider_options,omitempty"`
}

// Request is the full input to a chat operation.
type Request struct {
	Messages []Message `json:"messages"`
	Config   Config    `json:"config"`
}

// Response is a completed (non-streaming) model turn.
type Response struct {
	Text         string               `json:"text,omitempty"`
	ToolCalls    []ToolCall           `json:"tool_calls,omitempty"`
	FinishReason streams.FinishReason `json:"finish_reason"`
	Usage        *streams.Usage       `json:"usage,omitempty"`
}

// Provider is the chat capability contract. Every operation returns either
// a value or a classified fault, never both.
type Provider interface {
	Name() string
	Send(ctx context.Context, req Request) (*Response, error)
	// Continue resumes a tool-using conversation with the tool outputs.
	Continue(ctx context.Context, req Request, results []ToolResult) (*Response, error)
	// Stream emits deltas into a buffer the caller drains and closes.
	Stream(ctx context.Context, req Request) (*streams.Buffer, error)
}

// Deps are the shared runtime pieces handed to every adapter factory.
type Deps struct {
	HTTP     *httpx.Client
	Conf     *conf.Resolver
	Override map[string]string
}

// Factory builds one provider adapter.
type Factory func(Deps) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register installs a provider factory. Called from adapter init.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("chat provider %s already registered", name))
	}
	factories[name] = f
}

// New builds the named provider.
func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("chat provider not found: %s", name)
	}
	return f(deps)
}

// Providers lists the registered provider names.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// ResumeRequest shapes the continuation request used when an interrupted
// stream is resumed from a partial record: the text already delivered is
// restated as a partial assistant turn with an instruction to continue from
// that exact point without repeating it.
func ResumeRequest(req Request, replayed []streams.Event) Request {
	var delivered strings.Builder
	for _, ev := range replayed {
		if ev.Delta == nil {
			continue
		}
		for _, part := range ev.Delta.Content {
			delivered.WriteString(part.Text)
		}
	}
	if delivered.Len() == 0 {
		return req
	}
	shaped := req
	shaped.Messages = append(append([]Message(nil), req.Messages...),
		Message{Role: RoleAssistant, Text: delivered.String()},
		Message{
			Role: RoleUser,
			Text: "Continue the previous answer exactly where it stopped. Do not repeat any text already written.",
		},
	)
	return shaped
}
