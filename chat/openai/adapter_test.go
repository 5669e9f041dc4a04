package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/streams"
)

func newTestAdapter(t *testing.T, serverURL string) chat.Provider {
	t.Helper()
	p, err := New(chat.Deps{
		HTTP: httpx.New(httpx.WithMaxRetries(0)),
		Conf: conf.NewResolver(),
		Override: map[string]string{
			"OPENAI_API_KEY":  "test-key",
			"OPENAI_BASE_URL": serverURL,
		},
	})
	require.NoError(t, err)
	return p
}

func TestNew_MissingKeyIsUnauthorized(t *testing.T) {
	_, err := New(chat.Deps{Conf: conf.NewResolver()})
	require.Error(t, err)
	f := fault.As(err)
	require.NotNil(t, f)
	assert.Equal(t, fault.KindUnauthorized, f.Kind)
	assert.Contains(t, f.Message, "OPENAI_API_KEY")
}

func TestSend_ParsesCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "Hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
		}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	resp, err := p.Send(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "hi"}},
		Config:   chat.Config{Model: "gpt-4o"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, streams.FinishStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.Total)
}

func TestSend_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "", "tool_calls": [
				{"id": "call_1", "function": {"name": "get_weather", "arguments": "{\"city\":\"Oslo\"}"}}
			]}, "finish_reason": "tool_calls"}]
		}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	resp, err := p.Send(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "weather?"}},
		Config:   chat.Config{Model: "gpt-4o"},
	})
	require.NoError(t, err)
	assert.Equal(t, streams.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
}

func TestContinue_AppendsToolMessages(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "12C"}, "finish_reason": "stop"}]}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	_, err := p.Continue(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "weather?"}},
		Config:   chat.Config{Model: "gpt-4o"},
	}, []chat.ToolResult{{CallID: "call_1", Content: "12C"}})
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), `"role":"tool"`)
	assert.Contains(t, string(gotBody), `"tool_call_id":"call_1"`)
}

func TestStream_DeltasThenUsageFinish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
				`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
				`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
				`data: {"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}` + "\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	buf, err := p.Stream(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "hi"}},
		Config:   chat.Config{Model: "gpt-4o"},
	})
	require.NoError(t, err)
	defer buf.Close()

	events := collect(t, buf)
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Delta.Content[0].Text)
	assert.Equal(t, "lo", events[1].Delta.Content[0].Text)
	require.Equal(t, streams.EventFinish, events[2].Type)
	assert.Equal(t, streams.FinishStop, events[2].Finish.Reason)
	require.NotNil(t, events[2].Finish.Usage)
	assert.Equal(t, 3, events[2].Finish.Usage.Total)
}

func TestStream_SynthesizesFinishWhenProviderStopsSilently(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n\n"))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	buf, err := p.Stream(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "hi"}},
		Config:   chat.Config{Model: "gpt-4o"},
	})
	require.NoError(t, err)
	defer buf.Close()

	events := collect(t, buf)
	require.Len(t, events, 2)
	require.Equal(t, streams.EventFinish, events[1].Type)
	assert.Equal(t, streams.FinishOther, events[1].Finish.Reason)
}

func TestSend_RateLimitClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	_, err := p.Send(context.Background(), chat.Request{Config: chat.Config{Model: "gpt-4o"}})
	require.Error(t, err)
	f := fault.As(err)
	require.NotNil(t, f)
	assert.Equal(t, fault.KindRateLimited, f.Kind)
	assert.Equal(t, 7, f.RetryAfter)
}

func collect(t *testing.T, buf *streams.Buffer) []streams.Event {
	t.Helper()
	var events []streams.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok := buf.Next(100 * time.Millisecond)
		if !ok {
			if buf.IsFinished() {
				return events
			}
			continue
		}
		events = append(events, ev)
		if ev.Terminal() {
			return events
		}
	}
	t.Fatal("stream did not terminate")
	return nil
}
