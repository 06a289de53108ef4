package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/destination"
	"github.com/forgelight/vigil/internal/security"
)

// destinationDoc is the config-index envelope around a destination config.
type destinationDoc struct {
	Type        string                   `json:"type"`
	Destination *destination.Destination `json:"destination"`
}

// DestinationStore reads destination configs from the config index. The
// dispatcher caches lookups per run, so a monitor whose triggers share a
// destination fetches it once.
type DestinationStore struct {
	client *cluster.Client
}

// NewDestinationStore creates a destination store over the cluster gateway.
func NewDestinationStore(client *cluster.Client) *DestinationStore {
	return &DestinationStore{client: client}
}

// Get fetches one destination config by id.
func (s *DestinationStore) Get(ctx context.Context, id string) (*destination.Destination, error) {
	res, err := s.client.Get(security.Stash(ctx), ConfigIndex, id)
	if err != nil {
		return nil, fmt.Errorf("get destination %s: %w", id, err)
	}
	if !res.Found {
		return nil, fmt.Errorf("destination %s: %w", id, ErrNotFound)
	}

	var doc destinationDoc
	if err := json.Unmarshal(res.Source, &doc); err != nil {
		return nil, fmt.Errorf("parse destination %s: %w", id, err)
	}
	if doc.Destination == nil {
		return nil, fmt.Errorf("document %s is not a destination", id)
	}
	doc.Destination.ID = res.ID
	return doc.Destination, nil
}
