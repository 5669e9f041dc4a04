package qdrant

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/vector"
)

func newTestAdapter(t *testing.T, serverURL string) vector.Provider {
	t.Helper()
	p, err := New(vector.Deps{
		HTTP: httpx.New(httpx.WithMaxRetries(0)),
		Conf: conf.NewResolver(),
		Override: map[string]string{
			conf.EnvQdrantURL: serverURL,
			conf.EnvQdrantKey: "qd-key",
		},
	})
	require.NoError(t, err)
	return p
}

func TestNew_MissingURLIsUnauthorized(t *testing.T) {
	_, err := New(vector.Deps{Conf: conf.NewResolver()})
	require.Error(t, err)
	assert.Equal(t, fault.KindUnauthorized, fault.As(err).Kind)
}

func TestCreateCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/collections/docs", r.URL.Path)
		assert.Equal(t, "qd-key", r.Header.Get("api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"size":768`)
		assert.Contains(t, string(body), `"distance":"Cosine"`)
		_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	err := p.CreateCollection(context.Background(), vector.CollectionConfig{
		Name:      "docs",
		Dimension: 768,
		Distance:  vector.DistanceCosine,
	})
	require.NoError(t, err)
}

func TestCreateCollection_ZeroDimensionRejected(t *testing.T) {
	p := newTestAdapter(t, "http://unused.invalid")
	err := p.CreateCollection(context.Background(), vector.CollectionConfig{Name: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidRequest, fault.As(err).Kind)
}

func TestDescribeCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{
			"status":"green","points_count":42,
			"config":{"params":{"vectors":{"size":768,"distance":"Euclid"}}}
		}}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	info, err := p.DescribeCollection(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 768, info.Dimension)
	assert.Equal(t, vector.DistanceEuclidean, info.Distance)
	assert.Equal(t, int64(42), info.PointCount)
}

func TestUpsertAndSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/docs/points":
			assert.Equal(t, "PUT", r.Method)
			_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
		case "/collections/docs/points/search":
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"limit":2`)
			_, _ = w.Write([]byte(`{"result":[
				{"id":"a","score":0.93,"payload":{"title":"first"}},
				{"id":"b","score":0.81}
			]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	err := p.Upsert(context.Background(), "docs", []vector.Point{
		{ID: "a", Vector: []float32{0.1, 0.2}, Payload: map[string]any{"title": "first"}},
	})
	require.NoError(t, err)

	hits, err := p.Search(context.Background(), "docs", vector.SearchParams{
		Vector:      []float32{0.1, 0.2},
		Limit:       2,
		WithPayload: true,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.93, hits[0].Score, 1e-6)
	assert.Equal(t, "first", hits[0].Payload["title"])
}

func TestRangeSearch_SetsScoreThreshold(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	_, err := p.RangeSearch(context.Background(), "docs",
		vector.SearchParams{Vector: []float32{1}, Limit: 10}, 0.75)
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"score_threshold":0.75`)
}

func TestRecommend_RequiresPositiveExamples(t *testing.T) {
	p := newTestAdapter(t, "http://unused.invalid")
	_, err := p.Recommend(context.Background(), "docs", vector.RecommendParams{Limit: 5})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidRequest, fault.As(err).Kind)
}

func TestSearchGroups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs/points/search/groups", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":{"groups":[
			{"id":"news","hits":[{"id":"a","score":0.9}]},
			{"id":"blog","hits":[{"id":"b","score":0.8}]}
		]}}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	groups, err := p.SearchGroups(context.Background(), "docs", vector.GroupParams{
		SearchParams: vector.SearchParams{Vector: []float32{1}, Limit: 10},
		GroupBy:      "category",
		GroupSize:    1,
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "news", groups[0].Key)
	assert.Equal(t, "a", groups[0].Hits[0].ID)
}

func TestCollectionNotFoundMapsCleanly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"collection not found"}}`))
	}))
	defer server.Close()

	p := newTestAdapter(t, server.URL)
	_, err := p.DescribeCollection(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.As(err).Kind)
}
