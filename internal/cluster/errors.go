package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// StatusError is a cluster reply with a non-2xx status. The status code
// drives retry decisions (429 in particular).
type StatusError struct {
	Status int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cluster returned %d (%s)", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("cluster returned %d: %s", e.Status, e.Reason)
}

// NewStatusError builds a StatusError, mostly for bulk item failures and
// tests.
func NewStatusError(status int, reason string) *StatusError {
	return &StatusError{Status: status, Reason: reason}
}

// IsTooManyRequests reports whether err carries HTTP 429.
func IsTooManyRequests(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Status == http.StatusTooManyRequests
}

// responseError turns an error reply into a StatusError, pulling the reason
// out of the standard error envelope when present.
func responseError(res *opensearchapi.Response) error {
	serr := &StatusError{Status: res.StatusCode}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return serr
	}
	var envelope struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error.Reason != "" {
		serr.Reason = envelope.Error.Reason
	}
	return serr
}
