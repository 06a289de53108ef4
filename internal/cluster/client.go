// Package cluster is the gateway to the search/index cluster. It wraps the
// low-level OpenSearch client with the few operations the runner needs:
// search, bulk writes, document gets, and index bootstrap.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/security"
)

// InjectedRolesHeader carries the monitor owner's identity to the cluster.
// Format: "<monitorId>|<role1,role2>". Requests under a stashed security
// context omit the header entirely.
const InjectedRolesHeader = "X-Vigil-Injected-Roles"

// Config holds cluster connection settings.
type Config struct {
	Addresses []string      // cluster node URLs
	Username  string        // basic auth user (optional)
	Password  string        // basic auth password (optional)
	Timeout   time.Duration // per-request timeout (default: 30s)

	// Transport overrides the HTTP round tripper. Tests install fakes here.
	Transport http.RoundTripper
}

func (c *Config) setDefaults() {
	if len(c.Addresses) == 0 {
		c.Addresses = []string{"http://localhost:9200"}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Client talks to the cluster. Safe for concurrent use.
type Client struct {
	os     *opensearch.Client
	logger *logrus.Logger
}

// New creates a cluster client.
func New(cfg Config, logger *logrus.Logger) (*Client, error) {
	cfg.setDefaults()
	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create cluster client: %w", err)
	}
	return &Client{os: osClient, logger: logger}, nil
}

// Ping checks cluster reachability.
func (c *Client) Ping(ctx context.Context) error {
	req := opensearchapi.PingRequest{}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("ping cluster: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

// SearchParams qualify a search beyond its body.
type SearchParams struct {
	Indices []string
	Routing string
	Size    *int
	Version bool
}

// Search executes a query body against the cluster. The body may be any
// JSON-marshalable search source. The caller's security context decides
// which identity headers accompany the request.
func (c *Client) Search(ctx context.Context, params SearchParams, body any) (*SearchResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index:  params.Indices,
		Body:   bytes.NewReader(raw),
		Header: identityHeader(ctx),
	}
	if params.Routing != "" {
		req.Routing = []string{params.Routing}
	}
	if params.Size != nil {
		req.Size = params.Size
	}
	if params.Version {
		v := true
		req.Version = &v
	}

	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", strings.Join(params.Indices, ","), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	var sr SearchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	sr.Raw = data
	return &sr, nil
}

// Get fetches a single document by id.
func (c *Client) Get(ctx context.Context, index, id string) (*GetResponse, error) {
	req := opensearchapi.GetRequest{
		Index:      index,
		DocumentID: id,
		Header:     identityHeader(ctx),
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return &GetResponse{Index: index, ID: id, Found: false}, nil
	}
	if res.IsError() {
		return nil, responseError(res)
	}

	var gr GetResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode get response: %w", err)
	}
	return &gr, nil
}

// IndexExists reports whether the given index (or alias) exists.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{index}}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError(res)
	}
}

// CreateIndex creates an index with the given JSON body (settings+mappings).
// Racing creations are tolerated: "already exists" is not an error.
func (c *Client) CreateIndex(ctx context.Context, index, body string) error {
	req := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(body),
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		rerr := responseError(res)
		var serr *StatusError
		if errors.As(rerr, &serr) && strings.Contains(serr.Reason, "already exists") {
			c.logger.WithField("index", index).Debug("index already exists")
			return nil
		}
		return rerr
	}
	return nil
}

func identityHeader(ctx context.Context) http.Header {
	inj, ok := security.From(ctx)
	if !ok {
		return nil
	}
	h := http.Header{}
	h.Set(InjectedRolesHeader, inj.MonitorID+"|"+strings.Join(inj.Roles, ","))
	return h
}

// SearchResponse is the subset of a search reply the runner consumes, plus
// the raw body for callers that need the full nested structure.
type SearchResponse struct {
	Took     int  `json:"took"`
	TimedOut bool `json:"timed_out"`
	Shards   struct {
		Total      int            `json:"total"`
		Successful int            `json:"successful"`
		Failed     int            `json:"failed"`
		Failures   []ShardFailure `json:"failures,omitempty"`
	} `json:"_shards"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`

	Raw json.RawMessage `json:"-"`
}

// Hit is one search hit.
type Hit struct {
	Index   string          `json:"_index"`
	ID      string          `json:"_id"`
	Version int64           `json:"_version,omitempty"`
	Source  json.RawMessage `json:"_source"`
}

// ShardFailure is a per-shard search failure.
type ShardFailure struct {
	Shard  int    `json:"shard"`
	Index  string `json:"index"`
	Reason struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"reason"`
}

// FirstFailure returns the first shard failure as an error, or nil.
func (r *SearchResponse) FirstFailure() error {
	if len(r.Shards.Failures) == 0 {
		return nil
	}
	f := r.Shards.Failures[0]
	return fmt.Errorf("shard %d of %s failed: %s", f.Shard, f.Index, f.Reason.Reason)
}

// AsMap decodes the full response body into a nested map.
func (r *SearchResponse) AsMap() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return m, nil
}

// GetResponse is a single-document fetch reply.
type GetResponse struct {
	Index   string          `json:"_index"`
	ID      string          `json:"_id"`
	Version int64           `json:"_version"`
	Found   bool            `json:"found"`
	Source  json.RawMessage `json:"_source"`
}
