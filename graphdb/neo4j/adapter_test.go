package neo4j

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/graphdb"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
)

func newTestAdapter(t *testing.T, serverURL string) graphdb.Provider {
	t.Helper()
	p, err := New(graphdb.Deps{
		HTTP: httpx.New(httpx.WithMaxRetries(0)),
		Conf: conf.NewResolver(),
		Override: map[string]string{
			conf.EnvNeo4jURL:      serverURL,
			conf.EnvNeo4jUser:     "neo4j",
			conf.EnvNeo4jPassword: "secret",
		},
	})
	require.NoError(t, err)
	return p
}

func TestBeginTransaction_VertexLifecycle(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("neo4j:secret"))
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/db/neo4j/tx":
			_, _ = w.Write([]byte(`{"results":[],"errors":[],"commit":"http://x/db/neo4j/tx/7/commit"}`))
		case "/db/neo4j/tx/7":
			body, _ := io.ReadAll(r.Body)
			switch {
			case contains(body, "CREATE (n:`Person`)"):
				_, _ = w.Write([]byte(`{"results":[{"columns":["id(n)"],"data":[{"row":[42]}]}],"errors":[]}`))
			case contains(body, "RETURN labels(n), properties(n)"):
				_, _ = w.Write([]byte(`{"results":[{"columns":["labels","props"],"data":[{"row":[["Person"],{"name":"Ada"}]}]}],"errors":[]}`))
			default:
				_, _ = w.Write([]byte(`{"results":[{"columns":[],"data":[{"row":[42]}]}],"errors":[]}`))
			}
		case "/db/neo4j/tx/7/commit":
			_, _ = w.Write([]byte(`{"results":[],"errors":[]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	tx, err := p.BeginTransaction(context.Background())
	require.NoError(t, err)

	vertex, err := tx.CreateVertex(context.Background(), []string{"Person"}, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "42", vertex.ID)

	got, err := tx.GetVertex(context.Background(), vertex.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, got.Labels)
	assert.Equal(t, "Ada", got.Properties["name"])

	require.NoError(t, tx.Commit(context.Background()))
	assert.Contains(t, requests, "POST /db/neo4j/tx/7/commit")

	// The handle is dead after commit.
	_, err = tx.GetVertex(context.Background(), vertex.ID)
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.As(err).Kind)
}

func TestRollback_EndsTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/db/neo4j/tx":
			_, _ = w.Write([]byte(`{"results":[],"errors":[],"commit":"http://x/db/neo4j/tx/9/commit"}`))
		case r.Method == "DELETE" && r.URL.Path == "/db/neo4j/tx/9":
			_, _ = w.Write([]byte(`{"results":[],"errors":[]}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	tx, err := p.BeginTransaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))

	err = tx.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.As(err).Kind)
}

func TestCypherErrorsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[],"errors":[
			{"code":"Neo.ClientError.Statement.SyntaxError","message":"bad cypher"}
		],"commit":"http://x/db/neo4j/tx/1/commit"}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	_, err := p.BeginTransaction(context.Background())
	require.Error(t, err)
	f := fault.As(err)
	require.NotNil(t, f)
	assert.Equal(t, fault.KindInvalidRequest, f.Kind)
	assert.Contains(t, f.Message, "bad cypher")
}

func TestShortestPath_DecodesProjection(t *testing.T) {
	var gotCypher string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/db/neo4j/tx/commit", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotCypher = string(body)
		_, _ = w.Write([]byte(`{"results":[{"columns":["v","e"],"data":[{"row":[
			[{"id":"1","labels":["Person"],"properties":{"name":"a"}},
			 {"id":"2","labels":["Person"],"properties":{"name":"b"}}],
			[{"id":"10","type":"KNOWS","from":"1","to":"2","properties":{}}]
		]}]}],"errors":[]}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	path, err := p.ShortestPath(context.Background(), "1", "2",
		graphdb.EdgeFilter{Types: []string{"KNOWS"}, MaxDepth: 3})
	require.NoError(t, err)
	require.Len(t, path.Vertices, 2)
	require.Len(t, path.Edges, 1)
	assert.Equal(t, "KNOWS", path.Edges[0].Type)
	assert.Contains(t, gotCypher, "shortestPath")
	assert.Contains(t, gotCypher, "`KNOWS`*..3")
}

func TestShortestPath_NoPathIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"columns":["v","e"],"data":[]}],"errors":[]}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	_, err := p.ShortestPath(context.Background(), "1", "2", graphdb.EdgeFilter{})
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.As(err).Kind)
}

func TestPathExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"columns":["e"],"data":[{"row":[true]}]}],"errors":[]}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	exists, err := p.PathExists(context.Background(), "1", "2", graphdb.EdgeFilter{})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNeighborhood(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"columns":["id","labels","props"],"data":[
			{"row":["5",["Person"],{"name":"n1"}]},
			{"row":["6",["Person"],{"name":"n2"}]}
		]}],"errors":[]}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	vertices, err := p.Neighborhood(context.Background(), "1", graphdb.EdgeFilter{MaxDepth: 2})
	require.NoError(t, err)
	require.Len(t, vertices, 2)
	assert.Equal(t, "5", vertices[0].ID)
	assert.Equal(t, "n2", vertices[1].Properties["name"])
}

func TestMalformedIDRejectedLocally(t *testing.T) {
	p := newTestAdapter(t, "http://unused.invalid")
	_, err := p.PathExists(context.Background(), "not-a-number", "2", graphdb.EdgeFilter{})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidRequest, fault.As(err).Kind)
}

func contains(body []byte, s string) bool {
	return strings.Contains(string(body), s)
}
