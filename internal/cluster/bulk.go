package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Bulk op actions.
const (
	OpIndex  = "index"
	OpDelete = "delete"
)

// BulkOp is one line pair of a bulk request.
type BulkOp struct {
	Action  string // OpIndex or OpDelete
	Index   string
	ID      string // empty on index means cluster-assigned
	Routing string
	Doc     any // required for OpIndex
}

// Bulk submits the ops in order and returns per-item results in the same
// order. A non-2xx reply for the request as a whole is an error; per-item
// failures are reported through the response and left to the caller.
func (c *Client) Bulk(ctx context.Context, ops []BulkOp) (*BulkResponse, error) {
	if len(ops) == 0 {
		return &BulkResponse{}, nil
	}

	body, err := encodeBulk(ops)
	if err != nil {
		return nil, err
	}

	req := opensearchapi.BulkRequest{
		Body:   bytes.NewReader(body),
		Header: identityHeader(ctx),
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, fmt.Errorf("bulk: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res)
	}

	var br BulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(br.Items) != len(ops) {
		return nil, fmt.Errorf("bulk returned %d items for %d ops", len(br.Items), len(ops))
	}
	return &br, nil
}

func encodeBulk(ops []BulkOp) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, op := range ops {
		meta := bulkMeta{Index: op.Index, ID: op.ID, Routing: op.Routing}
		if err := enc.Encode(map[string]bulkMeta{op.Action: meta}); err != nil {
			return nil, fmt.Errorf("encode bulk op %d: %w", i, err)
		}
		switch op.Action {
		case OpIndex:
			if err := enc.Encode(op.Doc); err != nil {
				return nil, fmt.Errorf("encode bulk doc %d: %w", i, err)
			}
		case OpDelete:
			// no source line
		default:
			return nil, fmt.Errorf("unknown bulk action %q", op.Action)
		}
	}
	return buf.Bytes(), nil
}

type bulkMeta struct {
	Index   string `json:"_index"`
	ID      string `json:"_id,omitempty"`
	Routing string `json:"routing,omitempty"`
}

// BulkResponse is the cluster's bulk reply.
type BulkResponse struct {
	Took   int                       `json:"took"`
	Errors bool                      `json:"errors"`
	Items  []map[string]BulkItemInfo `json:"items"`
}

// BulkItemInfo is the result of one bulk op.
type BulkItemInfo struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// Failed reports whether the item did not complete.
func (i BulkItemInfo) Failed() bool {
	return i.Error != nil || i.Status >= 300
}

// Err converts a failed item into a StatusError.
func (i BulkItemInfo) Err() error {
	if !i.Failed() {
		return nil
	}
	reason := ""
	if i.Error != nil {
		reason = i.Error.Reason
	}
	return NewStatusError(i.Status, reason)
}

// Item flattens the single-key wrapper around the i-th item.
func (r *BulkResponse) Item(i int) BulkItemInfo {
	for _, info := range r.Items[i] {
		return info
	}
	return BulkItemInfo{}
}
