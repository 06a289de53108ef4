package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/security"
)

// fakeTransport lets tests script cluster replies and capture requests.
type fakeTransport struct {
	fn       func(*http.Request) (*http.Response, error)
	requests []*http.Request
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	return f.fn(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := New(Config{Addresses: []string{"http://cluster.test:9200"}, Transport: ft}, logger)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

func TestSearchParsesHitsAndRouting(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{
			"took": 3,
			"_shards": {"total": 1, "successful": 1, "failed": 0},
			"hits": {"total": {"value": 2}, "hits": [
				{"_index": "logs", "_id": "h1", "_source": {"level": "error"}},
				{"_index": "logs", "_id": "h2", "_source": {"level": "warn"}}
			]}
		}`), nil
	}}
	c := testClient(t, ft)

	size := 4
	res, err := c.Search(context.Background(), SearchParams{
		Indices: []string{"logs-*"},
		Routing: "monitor-1",
		Size:    &size,
	}, map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if res.Hits.Total.Value != 2 || len(res.Hits.Hits) != 2 {
		t.Errorf("expected 2 hits, got total=%d len=%d", res.Hits.Total.Value, len(res.Hits.Hits))
	}
	if res.Hits.Hits[0].ID != "h1" {
		t.Errorf("expected first hit h1, got %s", res.Hits.Hits[0].ID)
	}

	req := ft.requests[0]
	if !strings.Contains(req.URL.Path, "logs-*") {
		t.Errorf("expected index in path, got %s", req.URL.Path)
	}
	if got := req.URL.Query().Get("routing"); got != "monitor-1" {
		t.Errorf("expected routing monitor-1, got %q", got)
	}
	if got := req.URL.Query().Get("size"); got != "4" {
		t.Errorf("expected size 4, got %q", got)
	}

	m, err := res.AsMap()
	if err != nil {
		t.Fatalf("as map: %v", err)
	}
	if m["took"].(float64) != 3 {
		t.Errorf("expected raw map to carry took=3, got %v", m["took"])
	}
}

func TestSearchForwardsInjectedIdentity(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"hits":{"total":{"value":0},"hits":[]}}`), nil
	}}
	c := testClient(t, ft)

	ctx := security.WithRoles(context.Background(), security.Injected{
		MonitorID: "m1",
		Roles:     []string{"ops", "dev"},
	})
	if _, err := c.Search(ctx, SearchParams{Indices: []string{"logs"}}, map[string]any{}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := ft.requests[0].Header.Get(InjectedRolesHeader); got != "m1|ops,dev" {
		t.Errorf("expected injected roles header m1|ops,dev, got %q", got)
	}

	// A stashed context must not leak the identity.
	if _, err := c.Search(security.Stash(ctx), SearchParams{Indices: []string{"logs"}}, map[string]any{}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := ft.requests[1].Header.Get(InjectedRolesHeader); got != "" {
		t.Errorf("expected no identity header under stashed context, got %q", got)
	}
}

func TestSearchErrorCarriesStatusAndReason(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(400, `{"error":{"type":"parsing_exception","reason":"unknown field [foo]"},"status":400}`), nil
	}}
	c := testClient(t, ft)

	_, err := c.Search(context.Background(), SearchParams{Indices: []string{"logs"}}, map[string]any{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "unknown field [foo]") {
		t.Errorf("expected reason in error, got %v", err)
	}
	if IsTooManyRequests(err) {
		t.Error("400 must not classify as too many requests")
	}
}

func TestBulkPreservesItemOrder(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		// index op has a source line, delete does not
		if len(lines) != 3 {
			t.Errorf("expected 3 bulk lines, got %d: %q", len(lines), lines)
		}
		return jsonResponse(200, `{
			"took": 5, "errors": true,
			"items": [
				{"index": {"_index": "alerts", "_id": "a1", "status": 429, "error": {"type": "es_rejected_execution_exception", "reason": "queue full"}}},
				{"delete": {"_index": "alerts", "_id": "a2", "status": 200}}
			]
		}`), nil
	}}
	c := testClient(t, ft)

	res, err := c.Bulk(context.Background(), []BulkOp{
		{Action: OpIndex, Index: "alerts", ID: "a1", Routing: "m1", Doc: map[string]string{"state": "ACTIVE"}},
		{Action: OpDelete, Index: "alerts", ID: "a2", Routing: "m1"},
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}

	first := res.Item(0)
	if !first.Failed() || first.Status != 429 {
		t.Errorf("expected first item failed with 429, got %+v", first)
	}
	if !IsTooManyRequests(first.Err()) {
		t.Errorf("expected 429 classification, got %v", first.Err())
	}
	second := res.Item(1)
	if second.Failed() {
		t.Errorf("expected second item ok, got %+v", second)
	}
}

func TestBulkEmptyOpsSkipsRequest(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected for empty bulk")
		return nil, nil
	}}
	c := testClient(t, ft)

	res, err := c.Bulk(context.Background(), nil)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("expected empty response, got %+v", res)
	}
}

func TestIndexExists(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "exists", status: 200, want: true},
		{name: "missing", status: 404, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
				if r.Method != http.MethodHead {
					t.Errorf("expected HEAD, got %s", r.Method)
				}
				return jsonResponse(tt.status, ""), nil
			}}
			c := testClient(t, ft)
			got, err := c.IndexExists(context.Background(), ".vigil-alerts")
			if err != nil {
				t.Fatalf("index exists: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCreateIndexToleratesRace(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(400, `{"error":{"type":"resource_already_exists_exception","reason":"index [.vigil-alerts] already exists"},"status":400}`), nil
	}}
	c := testClient(t, ft)
	if err := c.CreateIndex(context.Background(), ".vigil-alerts", `{}`); err != nil {
		t.Fatalf("expected racing create to pass, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(404, `{"_index":".vigil-config","_id":"d1","found":false}`), nil
	}}
	c := testClient(t, ft)
	res, err := c.Get(context.Background(), ".vigil-config", "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Found {
		t.Error("expected found=false")
	}
}
