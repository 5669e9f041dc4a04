// Package openai adapts the OpenAI chat-completions API to the chat
// capability contract.
package openai

import (
	"context"
	"io"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/internal/sse"
	"github.com/capra-ai/capra/streams"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	chat.Register("openai", New)
}

type Adapter struct {
	http    *httpx.Client
	key     string
	baseURL string
}

func New(deps chat.Deps) (chat.Provider, error) {
	key, err := deps.Conf.APIKey(conf.EnvOpenAIKey, deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := defaultBaseURL
	if u, ok := deps.Override["OPENAI_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{http: client, key: key, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Send(ctx context.Context, req chat.Request) (*chat.Response, error) {
	body, err := json.Marshal(buildPayload(req, false))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode chat request")
	}
	resp, err := a.http.Perform(ctx,
		httpx.Post(a.baseURL+"/chat/completions", body).WithAuth(httpx.Bearer(a.key)))
	if err != nil {
		return nil, err
	}
	return parseCompletion(resp.Body)
}

func (a *Adapter) Continue(ctx context.Context, req chat.Request, results []chat.ToolResult) (*chat.Response, error) {
	return a.Send(ctx, withToolResults(req, results))
}

func (a *Adapter) Stream(ctx context.Context, req chat.Request) (*streams.Buffer, error) {
	payload := buildPayload(req, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode chat request")
	}
	resp, err := a.http.PerformStreaming(ctx,
		httpx.Post(a.baseURL+"/chat/completions", body).WithAuth(httpx.Bearer(a.key)))
	if err != nil {
		return nil, err
	}

	buf := streams.NewBuffer(streams.WithCloser(func() { _ = resp.Stream.Close() }))
	go pump(resp.Stream, buf)
	return buf, nil
}

// pump drains the SSE stream through the fold into the buffer.
func pump(stream io.ReadCloser, buf *streams.Buffer) {
	defer stream.Close()
	dec := sse.NewDecoder(stream)
	f := newFold()
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			if ev := f.Flush(); ev != nil {
				buf.Push(*ev)
			}
			return
		}
		if err != nil {
			buf.Push(streams.FailureEvent(fault.Transport(err, "stream read failed")))
			return
		}
		if frame.Done() {
			if ev := f.Flush(); ev != nil {
				buf.Push(*ev)
			}
			return
		}
		for _, ev := range f.Apply(frame.Data) {
			buf.Push(ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

func buildPayload(req chat.Request, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": string(m.Role)}
		if m.Text != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Text
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   c.ID,
					"type": "function",
					"function": map[string]any{
						"name":      c.Name,
						"arguments": c.Arguments,
					},
				})
			}
			msg["tool_calls"] = calls
		}
		messages = append(messages, msg)
	}

	payload := map[string]any{
		"model":    req.Config.Model,
		"messages": messages,
	}
	if req.Config.Temperature != nil {
		payload["temperature"] = *req.Config.Temperature
	}
	if req.Config.MaxTokens != nil {
		payload["max_tokens"] = *req.Config.MaxTokens
	}
	if len(req.Config.Stop) > 0 {
		payload["stop"] = req.Config.Stop
	}
	if len(req.Config.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Config.Tools))
		for _, t := range req.Config.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		payload["tools"] = tools
	}
	if req.Config.ToolChoice != "" {
		payload["tool_choice"] = req.Config.ToolChoice
	}
	for k, v := range req.Config.ProviderOptions {
		payload[k] = v
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	return payload
}

func withToolResults(req chat.Request, results []chat.ToolResult) chat.Request {
	shaped := req
	shaped.Messages = append([]chat.Message(nil), req.Messages...)
	for _, r := range results {
		shaped.Messages = append(shaped.Messages, chat.Message{
			Role:       chat.RoleTool,
			Text:       r.Content,
			ToolCallID: r.CallID,
		})
	}
	return shaped
}

type completion struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseCompletion(body []byte) (*chat.Response, error) {
	var c completion
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode chat completion")
	}
	if len(c.Choices) == 0 {
		return nil, fault.New(fault.KindInternal, "completion carried no choices")
	}
	choice := c.Choices[0]

	resp := &chat.Response{
		Text:         choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if c.Usage != nil {
		resp.Usage = &streams.Usage{
			Input:  c.Usage.PromptTokens,
			Output: c.Usage.CompletionTokens,
			Total:  c.Usage.TotalTokens,
		}
	}
	return resp, nil
}
