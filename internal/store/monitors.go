package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/security"
)

// ErrNotFound is returned when a config-index document does not exist.
var ErrNotFound = fmt.Errorf("document not found")

// listMonitorsSize bounds how many monitors one scheduler listing returns.
const listMonitorsSize = 1000

// monitorDoc is the config-index envelope around a monitor definition.
type monitorDoc struct {
	Type    string         `json:"type"`
	Monitor *model.Monitor `json:"monitor"`
}

// MonitorStore reads monitor definitions from the config index.
type MonitorStore struct {
	client *cluster.Client
	logger *logrus.Logger
}

// NewMonitorStore creates a monitor store over the cluster gateway.
func NewMonitorStore(client *cluster.Client, logger *logrus.Logger) *MonitorStore {
	return &MonitorStore{client: client, logger: logger}
}

// Get fetches one monitor by id.
func (s *MonitorStore) Get(ctx context.Context, id string) (*model.Monitor, error) {
	res, err := s.client.Get(security.Stash(ctx), ConfigIndex, id)
	if err != nil {
		return nil, fmt.Errorf("get monitor %s: %w", id, err)
	}
	if !res.Found {
		return nil, fmt.Errorf("monitor %s: %w", id, ErrNotFound)
	}

	var doc monitorDoc
	if err := json.Unmarshal(res.Source, &doc); err != nil {
		return nil, fmt.Errorf("parse monitor %s: %w", id, err)
	}
	if doc.Monitor == nil {
		return nil, fmt.Errorf("document %s is not a monitor", id)
	}
	doc.Monitor.ID = res.ID
	doc.Monitor.Version = res.Version
	return doc.Monitor, nil
}

// ListEnabled returns all enabled monitors, for the scheduler. Monitors that
// fail to parse are logged and skipped so one broken document does not stall
// the rest.
func (s *MonitorStore) ListEnabled(ctx context.Context) ([]*model.Monitor, error) {
	size := listMonitorsSize
	res, err := s.client.Search(security.Stash(ctx), cluster.SearchParams{
		Indices: []string{ConfigIndex},
		Size:    &size,
		Version: true,
	}, map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"term": map[string]any{"type": "monitor"}},
					map[string]any{"term": map[string]any{"monitor.enabled": true}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}

	monitors := make([]*model.Monitor, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var doc monitorDoc
		if err := json.Unmarshal(hit.Source, &doc); err != nil || doc.Monitor == nil {
			s.logger.WithField("doc_id", hit.ID).WithError(err).Warn("skipping unparsable monitor document")
			continue
		}
		doc.Monitor.ID = hit.ID
		doc.Monitor.Version = hit.Version
		monitors = append(monitors, doc.Monitor)
	}
	return monitors, nil
}
