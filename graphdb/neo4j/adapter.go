// Package neo4j adapts the Neo4j HTTP transaction API to the graph-database
// capability contract. Cypher is generated here; vertex and edge identity
// uses the server-assigned numeric ids rendered as strings.
package neo4j

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/graphdb"
	"github.com/capra-ai/capra/internal/httpx"
)

const defaultDatabase = "neo4j"

func init() {
	graphdb.Register("neo4j", New)
}

type Adapter struct {
	http     *httpx.Client
	baseURL  string
	database string
	auth     httpx.Auth
}

func New(deps graphdb.Deps) (graphdb.Provider, error) {
	settings, err := deps.Conf.Neo4j(deps.Override)
	if err != nil {
		return nil, err
	}
	database := defaultDatabase
	if db, ok := deps.Override["NEO4J_DATABASE"]; ok && db != "" {
		database = db
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	basic := base64.StdEncoding.EncodeToString([]byte(settings.User + ":" + settings.Password))
	return &Adapter{
		http:     client,
		baseURL:  strings.TrimRight(settings.URL, "/"),
		database: database,
		auth:     httpx.KeyHeader("Authorization", "Basic "+basic),
	}, nil
}

func (a *Adapter) Name() string { return "neo4j" }

type statement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []json.RawMessage `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Commit string `json:"commit"`
}

// post executes statements against path and surfaces Neo4j errors as
// classified faults.
func (a *Adapter) post(ctx context.Context, path string, stmts []statement) (*txResponse, error) {
	body, err := json.Marshal(map[string]any{"statements": stmts})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode cypher statements")
	}
	resp, err := a.http.Perform(ctx, httpx.Post(a.baseURL+path, body,
		httpx.Header{Name: "Accept", Value: "application/json"},
	).WithAuth(a.auth))
	if err != nil {
		return nil, err
	}
	var decoded txResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode transaction response")
	}
	if len(decoded.Errors) > 0 {
		e := decoded.Errors[0]
		kind := fault.KindInternal
		if strings.Contains(e.Code, "ClientError") {
			kind = fault.KindInvalidRequest
		}
		return nil, fault.New(kind, "cypher failed: %s (%s)", e.Message, e.Code)
	}
	return &decoded, nil
}

func (a *Adapter) txPath(suffix string) string {
	return "/db/" + a.database + "/tx" + suffix
}

// BeginTransaction opens an explicit transaction and returns its handle.
func (a *Adapter) BeginTransaction(ctx context.Context) (graphdb.Transaction, error) {
	resp, err := a.post(ctx, a.txPath(""), nil)
	if err != nil {
		return nil, err
	}
	// The commit URL has the form .../tx/<id>/commit.
	commit := resp.Commit
	if commit == "" {
		return nil, fault.New(fault.KindInternal, "transaction carried no commit endpoint")
	}
	idx := strings.Index(commit, "/tx/")
	if idx < 0 {
		return nil, fault.New(fault.KindInternal, "unrecognized commit endpoint %q", commit)
	}
	txID := strings.TrimSuffix(commit[idx+len("/tx/"):], "/commit")
	return &transaction{adapter: a, id: txID}, nil
}

type transaction struct {
	adapter *Adapter
	id      string
	ended   bool
}

func (t *transaction) run(ctx context.Context, stmts []statement) (*txResponse, error) {
	if t.ended {
		return nil, fault.NotFound("transaction is no longer open")
	}
	return t.adapter.post(ctx, t.adapter.txPath("/"+t.id), stmts)
}

func (t *transaction) CreateVertex(ctx context.Context, labels []string, props map[string]any) (*graphdb.Vertex, error) {
	cypher := "CREATE (n" + labelFragment(labels) + ") SET n = $props RETURN id(n)"
	resp, err := t.run(ctx, []statement{{Statement: cypher, Parameters: map[string]any{"props": orEmpty(props)}}})
	if err != nil {
		return nil, err
	}
	id, err := firstID(resp)
	if err != nil {
		return nil, err
	}
	return &graphdb.Vertex{ID: id, Labels: labels, Properties: props}, nil
}

func (t *transaction) GetVertex(ctx context.Context, id string) (*graphdb.Vertex, error) {
	nid, err := numericID(id)
	if err != nil {
		return nil, err
	}
	resp, err := t.run(ctx, []statement{{
		Statement:  "MATCH (n) WHERE id(n) = $id RETURN labels(n), properties(n)",
		Parameters: map[string]any{"id": nid},
	}})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Data) == 0 {
		return nil, fault.NotFound("vertex %s", id)
	}
	row := resp.Results[0].Data[0].Row
	vertex := &graphdb.Vertex{ID: id}
	if len(row) > 0 {
		_ = json.Unmarshal(row[0], &vertex.Labels)
	}
	if len(row) > 1 {
		_ = json.Unmarshal(row[1], &vertex.Properties)
	}
	return vertex, nil
}

func (t *transaction) UpdateVertex(ctx context.Context, id string, props map[string]any) error {
	nid, err := numericID(id)
	if err != nil {
		return err
	}
	resp, err := t.run(ctx, []statement{{
		Statement:  "MATCH (n) WHERE id(n) = $id SET n += $props RETURN id(n)",
		Parameters: map[string]any{"id": nid, "props": orEmpty(props)},
	}})
	if err != nil {
		return err
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Data) == 0 {
		return fault.NotFound("vertex %s", id)
	}
	return nil
}

func (t *transaction) DeleteVertex(ctx context.Context, id string) error {
	nid, err := numericID(id)
	if err != nil {
		return err
	}
	_, err = t.run(ctx, []statement{{
		Statement:  "MATCH (n) WHERE id(n) = $id DETACH DELETE n",
		Parameters: map[string]any{"id": nid},
	}})
	return err
}

func (t *transaction) CreateEdge(ctx context.Context, edgeType, fromID, toID string, props map[string]any) (*graphdb.Edge, error) {
	if edgeType == "" {
		return nil, fault.Invalid("edge type is required")
	}
	from, err := numericID(fromID)
	if err != nil {
		return nil, err
	}
	to, err := numericID(toID)
	if err != nil {
		return nil, err
	}
	cypher := "MATCH (a), (b) WHERE id(a) = $from AND id(b) = $to " +
		"CREATE (a)-[r:`" + edgeType + "`]->(b) SET r = $props RETURN id(r)"
	resp, err := t.run(ctx, []statement{{
		Statement:  cypher,
		Parameters: map[string]any{"from": from, "to": to, "props": orEmpty(props)},
	}})
	if err != nil {
		return nil, err
	}
	id, err := firstID(resp)
	if err != nil {
		return nil, fault.NotFound("one of vertices %s, %s", fromID, toID)
	}
	return &graphdb.Edge{ID: id, Type: edgeType, From: fromID, To: toID, Properties: props}, nil
}

func (t *transaction) DeleteEdge(ctx context.Context, id string) error {
	nid, err := numericID(id)
	if err != nil {
		return err
	}
	_, err = t.run(ctx, []statement{{
		Statement:  "MATCH ()-[r]->() WHERE id(r) = $id DELETE r",
		Parameters: map[string]any{"id": nid},
	}})
	return err
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.ended {
		return fault.NotFound("transaction is no longer open")
	}
	_, err := t.adapter.post(ctx, t.adapter.txPath("/"+t.id+"/commit"), nil)
	if err == nil {
		t.ended = true
	}
	return err
}

func (t *transaction) Rollback(ctx context.Context) error {
	if t.ended {
		return fault.NotFound("transaction is no longer open")
	}
	env := httpx.Envelope{
		Method: "DELETE",
		URL:    t.adapter.baseURL + t.adapter.txPath("/"+t.id),
		Auth:   t.adapter.auth,
	}
	_, err := t.adapter.http.Perform(ctx, env)
	if err == nil {
		t.ended = true
	}
	return err
}

// Path queries run as single auto-committed statements.

const pathProjection = "[x IN nodes(p) | {id: toString(id(x)), labels: labels(x), properties: properties(x)}], " +
	"[r IN relationships(p) | {id: toString(id(r)), type: type(r), " +
	"from: toString(id(startNode(r))), to: toString(id(endNode(r))), properties: properties(r)}]"

func (a *Adapter) ShortestPath(ctx context.Context, fromID, toID string, filter graphdb.EdgeFilter) (*graphdb.Path, error) {
	paths, err := a.pathQuery(ctx, fromID, toID, filter, true)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fault.NotFound("no path between %s and %s", fromID, toID)
	}
	return &paths[0], nil
}

func (a *Adapter) AllPaths(ctx context.Context, fromID, toID string, filter graphdb.EdgeFilter) ([]graphdb.Path, error) {
	return a.pathQuery(ctx, fromID, toID, filter, false)
}

func (a *Adapter) pathQuery(ctx context.Context, fromID, toID string, filter graphdb.EdgeFilter, shortest bool) ([]graphdb.Path, error) {
	from, err := numericID(fromID)
	if err != nil {
		return nil, err
	}
	to, err := numericID(toID)
	if err != nil {
		return nil, err
	}
	pattern := "(a)-[" + relFragment(filter) + "]-(b)"
	if shortest {
		pattern = "shortestPath(" + pattern + ")"
	}
	cypher := "MATCH (a), (b) WHERE id(a) = $from AND id(b) = $to " +
		"MATCH p = " + pattern + " RETURN " + pathProjection
	resp, err := a.post(ctx, a.txPath("/commit"), []statement{{
		Statement:  cypher,
		Parameters: map[string]any{"from": from, "to": to},
	}})
	if err != nil {
		return nil, err
	}
	return decodePaths(resp)
}

func (a *Adapter) Neighborhood(ctx context.Context, id string, filter graphdb.EdgeFilter) ([]graphdb.Vertex, error) {
	nid, err := numericID(id)
	if err != nil {
		return nil, err
	}
	cypher := "MATCH (a)-[" + relFragment(filter) + "]-(m) WHERE id(a) = $id " +
		"RETURN DISTINCT toString(id(m)), labels(m), properties(m)"
	resp, err := a.post(ctx, a.txPath("/commit"), []statement{{
		Statement:  cypher,
		Parameters: map[string]any{"id": nid},
	}})
	if err != nil {
		return nil, err
	}
	var vertices []graphdb.Vertex
	if len(resp.Results) == 0 {
		return vertices, nil
	}
	for _, data := range resp.Results[0].Data {
		var v graphdb.Vertex
		if len(data.Row) > 0 {
			_ = json.Unmarshal(data.Row[0], &v.ID)
		}
		if len(data.Row) > 1 {
			_ = json.Unmarshal(data.Row[1], &v.Labels)
		}
		if len(data.Row) > 2 {
			_ = json.Unmarshal(data.Row[2], &v.Properties)
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}

func (a *Adapter) PathExists(ctx context.Context, fromID, toID string, filter graphdb.EdgeFilter) (bool, error) {
	from, err := numericID(fromID)
	if err != nil {
		return false, err
	}
	to, err := numericID(toID)
	if err != nil {
		return false, err
	}
	cypher := "MATCH (a), (b) WHERE id(a) = $from AND id(b) = $to " +
		"RETURN EXISTS((a)-[" + relFragment(filter) + "]-(b))"
	resp, err := a.post(ctx, a.txPath("/commit"), []statement{{
		Statement:  cypher,
		Parameters: map[string]any{"from": from, "to": to},
	}})
	if err != nil {
		return false, err
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Data) == 0 {
		return false, nil
	}
	var exists bool
	_ = json.Unmarshal(resp.Results[0].Data[0].Row[0], &exists)
	return exists, nil
}

func decodePaths(resp *txResponse) ([]graphdb.Path, error) {
	var paths []graphdb.Path
	if len(resp.Results) == 0 {
		return paths, nil
	}
	for _, data := range resp.Results[0].Data {
		if len(data.Row) < 2 {
			continue
		}
		var p graphdb.Path
		if err := json.Unmarshal(data.Row[0], &p.Vertices); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "decode path vertices")
		}
		if err := json.Unmarshal(data.Row[1], &p.Edges); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "decode path edges")
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func labelFragment(labels []string) string {
	var b strings.Builder
	for _, label := range labels {
		b.WriteString(":`")
		b.WriteString(label)
		b.WriteString("`")
	}
	return b.String()
}

// relFragment renders the relationship pattern for an edge filter, e.g.
// `:KNOWS|WORKS_WITH*..3`.
func relFragment(filter graphdb.EdgeFilter) string {
	var b strings.Builder
	if len(filter.Types) > 0 {
		b.WriteString(":")
		for i, typ := range filter.Types {
			if i > 0 {
				b.WriteString("|")
			}
			b.WriteString("`")
			b.WriteString(typ)
			b.WriteString("`")
		}
	}
	if filter.MaxDepth > 0 {
		b.WriteString("*..")
		b.WriteString(strconv.Itoa(filter.MaxDepth))
	}
	return b.String()
}

func orEmpty(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

func numericID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fault.Invalid("malformed id %q", id)
	}
	return n, nil
}

func firstID(resp *txResponse) (string, error) {
	if len(resp.Results) == 0 || len(resp.Results[0].Data) == 0 || len(resp.Results[0].Data[0].Row) == 0 {
		return "", fault.New(fault.KindInternal, "statement returned no id")
	}
	var id int64
	if err := json.Unmarshal(resp.Results[0].Data[0].Row[0], &id); err != nil {
		return "", fault.Wrap(fault.KindInternal, err, "decode returned id")
	}
	return strconv.FormatInt(id, 10), nil
}
