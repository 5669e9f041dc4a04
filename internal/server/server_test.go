package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/exec"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/graphdb"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/internal/server"
	v1 "github.com/capra-ai/capra/internal/server/v1"
	"github.com/capra-ai/capra/streams"
	"github.com/capra-ai/capra/vector"
	"github.com/capra-ai/capra/websearch"
)

type fakeChat struct {
	sends   atomic.Int32
	streams atomic.Int32
	err     error
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Send(_ context.Context, req chat.Request) (*chat.Response, error) {
	f.sends.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	last := req.Messages[len(req.Messages)-1]
	return &chat.Response{Text: "echo: " + last.Text, FinishReason: streams.FinishStop}, nil
}

func (f *fakeChat) Continue(context.Context, chat.Request, []chat.ToolResult) (*chat.Response, error) {
	return nil, fault.Unsupported("continue")
}

func (f *fakeChat) Stream(_ context.Context, _ chat.Request) (*streams.Buffer, error) {
	f.streams.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	buf := streams.NewBuffer()
	buf.Push(streams.DeltaEvent(streams.TextPart("Hel")))
	buf.Push(streams.DeltaEvent(streams.TextPart("lo")))
	buf.Push(streams.FinishEvent(streams.FinishStop, &streams.Usage{Input: 3, Output: 2, Total: 5}))
	return buf, nil
}

type fakeSearch struct {
	calls atomic.Int32
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) SearchOnce(_ context.Context, params websearch.Params) ([]websearch.Result, *websearch.Metadata, error) {
	f.calls.Add(1)
	results := []websearch.Result{{Title: "hit for " + params.Query, URL: "https://example.test"}}
	return results, &websearch.Metadata{Query: params.Query, Exhausted: true}, nil
}

func (f *fakeSearch) StartSearch(context.Context, websearch.Params) (*websearch.Session, error) {
	return nil, fault.Unsupported("websearch.start_search")
}

type fakeVector struct {
	creates  atomic.Int32
	searches atomic.Int32
}

func (f *fakeVector) Name() string { return "fake" }

func (f *fakeVector) CreateCollection(_ context.Context, cfg vector.CollectionConfig) error {
	f.creates.Add(1)
	return nil
}

func (f *fakeVector) ListCollections(context.Context) ([]string, error) {
	return []string{"docs"}, nil
}

func (f *fakeVector) DescribeCollection(_ context.Context, name string) (*vector.CollectionInfo, error) {
	return &vector.CollectionInfo{Name: name, Dimension: 3}, nil
}

func (f *fakeVector) DeleteCollection(context.Context, string) error { return nil }

func (f *fakeVector) Upsert(context.Context, string, []vector.Point) error { return nil }

func (f *fakeVector) Get(context.Context, string, []string, bool) ([]vector.Point, error) {
	return nil, fault.Unsupported("vector.get")
}

func (f *fakeVector) Delete(context.Context, string, []string) error {
	return fault.Unsupported("vector.delete")
}

func (f *fakeVector) UpdatePayload(context.Context, string, string, map[string]any) error {
	return fault.Unsupported("vector.update_payload")
}

func (f *fakeVector) Search(_ context.Context, collection string, params vector.SearchParams) ([]vector.Hit, error) {
	f.searches.Add(1)
	return []vector.Hit{{ID: "p1", Score: 0.9}}, nil
}

func (f *fakeVector) RangeSearch(_ context.Context, collection string, params vector.SearchParams, minScore float32) ([]vector.Hit, error) {
	f.searches.Add(1)
	return []vector.Hit{{ID: "p2", Score: minScore}}, nil
}

func (f *fakeVector) Recommend(context.Context, string, vector.RecommendParams) ([]vector.Hit, error) {
	return nil, fault.Unsupported("vector.recommend")
}

func (f *fakeVector) SearchGroups(context.Context, string, vector.GroupParams) ([]vector.Group, error) {
	return nil, fault.Unsupported("vector.search_groups")
}

type fakeGraph struct {
	queries atomic.Int32
}

func (f *fakeGraph) Name() string { return "fake" }

func (f *fakeGraph) BeginTransaction(context.Context) (graphdb.Transaction, error) {
	return nil, fault.Unsupported("graphdb.begin_transaction")
}

func (f *fakeGraph) ShortestPath(_ context.Context, from, to string, _ graphdb.EdgeFilter) (*graphdb.Path, error) {
	f.queries.Add(1)
	return &graphdb.Path{Vertices: []graphdb.Vertex{{ID: from}, {ID: to}}}, nil
}

func (f *fakeGraph) AllPaths(context.Context, string, string, graphdb.EdgeFilter) ([]graphdb.Path, error) {
	return nil, fault.Unsupported("graphdb.all_paths")
}

func (f *fakeGraph) Neighborhood(context.Context, string, graphdb.EdgeFilter) ([]graphdb.Vertex, error) {
	return nil, fault.Unsupported("graphdb.neighborhood")
}

func (f *fakeGraph) PathExists(context.Context, string, string, graphdb.EdgeFilter) (bool, error) {
	return false, fault.Unsupported("graphdb.path_exists")
}

type fakeExec struct{}

func (fakeExec) Name() string { return "fake" }

func (fakeExec) Run(_ context.Context, req exec.RunRequest) (*exec.RunResult, error) {
	if len(req.Files) == 0 {
		return nil, fault.Validation("no files provided")
	}
	return &exec.RunResult{Stdout: []byte("ran " + string(req.Language)), ExitCode: 0}, nil
}

func (fakeExec) RunStreaming(context.Context, exec.RunRequest) (*streams.Buffer, error) {
	return nil, fault.Unsupported("exec.run_streaming")
}

func (fakeExec) NewSession(context.Context) (exec.Session, error) {
	return nil, fault.Unsupported("exec.new_session")
}

func newTestServer(t *testing.T, configure func(*v1.Handler)) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := v1.NewHandler(durable.NewManager(durable.NewMemoryJournal()))
	if configure != nil {
		configure(handler)
	}
	return server.New(zap.NewNop(), handler).Handler()
}

// closeNotifyRecorder adds the http.CloseNotifier implementation that
// gin.Context.Stream requires but httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(closeNotifyRecorder{w}, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateCompletion_Unary(t *testing.T) {
	provider := &fakeChat{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Chat["fake"] = provider
	})

	body := `{"provider": "fake", "messages": [{"role": "user", "text": "hi"}]}`
	w := postJSON(t, h, "/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, w.Code)
	var resp chat.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo: hi", resp.Text)
	assert.Equal(t, streams.FinishStop, resp.FinishReason)
}

func TestCreateCompletion_MemoizesIdenticalRequests(t *testing.T) {
	provider := &fakeChat{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Chat["fake"] = provider
	})

	body := `{"provider": "fake", "messages": [{"role": "user", "text": "same"}]}`
	first := postJSON(t, h, "/v1/chat/completions", body)
	second := postJSON(t, h, "/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), provider.sends.Load())
}

func TestCreateCompletion_ValidationErrors(t *testing.T) {
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Chat["fake"] = &fakeChat{}
	})

	t.Run("missing messages", func(t *testing.T) {
		w := postJSON(t, h, "/v1/chat/completions", `{"provider": "fake"}`)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp struct {
			Error struct {
				Kind   string            `json:"kind"`
				Fields map[string]string `json:"fields"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "validation", resp.Error.Kind)
		assert.Contains(t, resp.Error.Fields, "messages")
	})

	t.Run("malformed body", func(t *testing.T) {
		w := postJSON(t, h, "/v1/chat/completions", `{"provider":`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_request")
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := postJSON(t, h, "/v1/chat/completions", `{"provider": "nope", "messages": [{"role": "user", "text": "hi"}]}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "not_found")
	})
}

func TestCreateCompletion_FaultMapping(t *testing.T) {
	limited := fault.New(fault.KindRateLimited, "slow down")
	limited.RetryAfter = 7
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Chat["flaky"] = &fakeChat{err: limited}
	})

	w := postJSON(t, h, "/v1/chat/completions", `{"provider": "flaky", "messages": [{"role": "user", "text": "hi"}]}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestCreateCompletion_StreamSSE(t *testing.T) {
	provider := &fakeChat{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Chat["fake"] = provider
	})

	body := `{"provider": "fake", "stream": true, "messages": [{"role": "user", "text": "hi"}]}`
	w := postJSON(t, h, "/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := sseFrames(t, w.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Contains(t, frames[0], "Hel")
	assert.Contains(t, frames[len(frames)-1], `"finish"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(w.Body.String()), "data: [DONE]"))
}

func TestCreateCompletion_StreamReplaysSealedRecord(t *testing.T) {
	provider := &fakeChat{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Chat["fake"] = provider
	})

	body := `{"provider": "fake", "stream": true, "messages": [{"role": "user", "text": "hi"}]}`
	first := postJSON(t, h, "/v1/chat/completions", body)
	second := postJSON(t, h, "/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(1), provider.streams.Load())
	assert.NotContains(t, first.Body.String(), `"replayed":true`)
	assert.Contains(t, second.Body.String(), `"replayed":true`)
}

func TestWebSearch_MemoizesIdenticalRequests(t *testing.T) {
	provider := &fakeSearch{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Search["fake"] = provider
	})

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/v1/search?provider=fake&q=capybara", nil)
		h.ServeHTTP(w, req)
		return w
	}
	first := get()
	second := get()

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Contains(t, first.Body.String(), "hit for capybara")
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestSearchVectors_MemoizesIdenticalRequests(t *testing.T) {
	provider := &fakeVector{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Vector["fake"] = provider
	})

	body := `{"provider": "fake", "collection": "docs", "vector": [0.1, 0.2], "limit": 5}`
	first := postJSON(t, h, "/v1/vector/search", body)
	second := postJSON(t, h, "/v1/vector/search", body)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), provider.searches.Load())
}

func TestCreateCollection_MemoizesIdenticalRequests(t *testing.T) {
	provider := &fakeVector{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Vector["fake"] = provider
	})

	body := `{"provider": "fake", "name": "docs", "dimension": 3, "distance": "cosine"}`
	first := postJSON(t, h, "/v1/vector/collections", body)
	second := postJSON(t, h, "/v1/vector/collections", body)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, int32(1), provider.creates.Load())
}

func TestGraphQuery_MemoizesIdenticalRequests(t *testing.T) {
	provider := &fakeGraph{}
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Graph["fake"] = provider
	})

	body := `{"provider": "fake", "mode": "shortest", "from": "1", "to": "2"}`
	first := postJSON(t, h, "/v1/graph/query", body)
	second := postJSON(t, h, "/v1/graph/query", body)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), provider.queries.Load())
}

func TestRunCode(t *testing.T) {
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Exec["fake"] = fakeExec{}
	})

	body := `{"provider": "fake", "language": "javascript", "files": [{"name": "main.js", "content": "Y29kZQ=="}]}`
	w := postJSON(t, h, "/v1/exec/run", body)

	require.Equal(t, http.StatusOK, w.Code)
	var result exec.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "ran javascript", string(result.Stdout))
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunCode_ValidationFaultIs422(t *testing.T) {
	h := newTestServer(t, func(handler *v1.Handler) {
		handler.Exec["fake"] = fakeExec{}
	})

	w := postJSON(t, h, "/v1/exec/run", `{"provider": "fake", "language": "javascript"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no files provided")
}

// sseFrames splits an SSE body into its data payloads, dropping the [DONE]
// sentinel.
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		frames = append(frames, payload)
	}
	return frames
}
