// Package bedrock adapts the Amazon Bedrock Converse API to the chat
// capability contract. Requests are signed with Signature Version 4;
// streaming is emulated over the unary endpoint because the binary
// event-stream framing offers nothing the uniform event union needs.
package bedrock

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/streams"
)

func init() {
	chat.Register("bedrock", New)
}

type Adapter struct {
	http    *httpx.Client
	aws     conf.AWSSettings
	baseURL string
}

func New(deps chat.Deps) (chat.Provider, error) {
	aws, err := deps.Conf.AWS(deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", aws.Region)
	if u, ok := deps.Override["BEDROCK_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{http: client, aws: aws, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (a *Adapter) Name() string { return "bedrock" }

func (a *Adapter) Send(ctx context.Context, req chat.Request) (*chat.Response, error) {
	if req.Config.Model == "" {
		return nil, fault.Invalid("model is required")
	}
	body, err := json.Marshal(buildConverse(req))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode converse request")
	}
	url := a.baseURL + "/model/" + req.Config.Model + "/converse"
	resp, err := a.http.Perform(ctx, httpx.Post(url, body).
		WithAuth(httpx.SigV4(a.aws.Credentials, a.aws.Region, "bedrock")))
	if err != nil {
		return nil, err
	}
	return parseConverse(resp.Body)
}

func (a *Adapter) Continue(ctx context.Context, req chat.Request, results []chat.ToolResult) (*chat.Response, error) {
	shaped := req
	shaped.Messages = append([]chat.Message(nil), req.Messages...)
	for _, r := range results {
		shaped.Messages = append(shaped.Messages, chat.Message{
			Role:       chat.RoleTool,
			Text:       r.Content,
			ToolCallID: r.CallID,
		})
	}
	return a.Send(ctx, shaped)
}

// Stream performs the unary call and replays the completed turn as delta
// events followed by the terminal finish.
func (a *Adapter) Stream(ctx context.Context, req chat.Request) (*streams.Buffer, error) {
	resp, err := a.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	buf := streams.NewBuffer()
	if resp.Text != "" {
		buf.Push(streams.DeltaEvent(streams.TextPart(resp.Text)))
	}
	for i, tc := range resp.ToolCalls {
		buf.Push(streams.ToolCallEvent(streams.ToolCallDelta{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
		}))
	}
	buf.Push(streams.FinishEvent(resp.FinishReason, resp.Usage))
	return buf, nil
}

func buildConverse(req chat.Request) map[string]any {
	var system []map[string]any
	var messages []map[string]any
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			system = append(system, map[string]any{"text": m.Text})
		case chat.RoleTool:
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"toolResult": map[string]any{
						"toolUseId": m.ToolCallID,
						"content":   []map[string]any{{"text": m.Text}},
					},
				}},
			})
		default:
			content := []map[string]any{}
			if m.Text != "" {
				content = append(content, map[string]any{"text": m.Text})
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, map[string]any{
					"toolUse": map[string]any{
						"toolUseId": tc.ID,
						"name":      tc.Name,
						"input":     input,
					},
				})
			}
			messages = append(messages, map[string]any{
				"role":    string(m.Role),
				"content": content,
			})
		}
	}

	payload := map[string]any{"messages": messages}
	if len(system) > 0 {
		payload["system"] = system
	}

	inference := map[string]any{}
	if req.Config.Temperature != nil {
		inference["temperature"] = *req.Config.Temperature
	}
	if req.Config.MaxTokens != nil {
		inference["maxTokens"] = *req.Config.MaxTokens
	}
	if len(req.Config.Stop) > 0 {
		inference["stopSequences"] = req.Config.Stop
	}
	if len(inference) > 0 {
		payload["inferenceConfig"] = inference
	}

	if len(req.Config.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Config.Tools))
		for _, t := range req.Config.Tools {
			tools = append(tools, map[string]any{
				"toolSpec": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"inputSchema": map[string]any{"json": t.Parameters},
				},
			})
		}
		payload["toolConfig"] = map[string]any{"tools": tools}
	}
	return payload
}

type converseResponse struct {
	Output struct {
		Message struct {
			Content []struct {
				Text    string `json:"text"`
				ToolUse *struct {
					ToolUseID string          `json:"toolUseId"`
					Name      string          `json:"name"`
					Input     json.RawMessage `json:"input"`
				} `json:"toolUse"`
			} `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      *struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
		TotalTokens  int `json:"totalTokens"`
	} `json:"usage"`
}

func parseConverse(body []byte) (*chat.Response, error) {
	var c converseResponse
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode converse response")
	}
	resp := &chat.Response{FinishReason: mapStopReason(c.StopReason)}
	for _, part := range c.Output.Message.Content {
		if part.Text != "" {
			resp.Text += part.Text
		}
		if part.ToolUse != nil {
			resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
				ID:        part.ToolUse.ToolUseID,
				Name:      part.ToolUse.Name,
				Arguments: string(part.ToolUse.Input),
			})
		}
	}
	if c.Usage != nil {
		resp.Usage = &streams.Usage{
			Input:  c.Usage.InputTokens,
			Output: c.Usage.OutputTokens,
			Total:  c.Usage.TotalTokens,
		}
	}
	return resp, nil
}

func mapStopReason(raw string) streams.FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return streams.FinishStop
	case "max_tokens":
		return streams.FinishLength
	case "tool_use":
		return streams.FinishToolCalls
	case "content_filtered":
		return streams.FinishContentFilter
	default:
		return streams.FinishOther
	}
}
