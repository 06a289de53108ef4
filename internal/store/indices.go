// Package store provides the read/write gateways between the runner and the
// cluster: alerts, monitors, and destination configs.
package store

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/security"
)

// Logical indices. Alerts and history are system indices written only by the
// runner; the config index holds monitor and destination documents.
const (
	AlertIndex        = ".vigil-alerts"
	HistoryWriteIndex = ".vigil-alert-history-write"
	ConfigIndex       = ".vigil-config"
)

const alertMapping = `{
  "settings": {
    "number_of_shards": 1,
    "auto_expand_replicas": "0-1"
  },
  "mappings": {
    "properties": {
      "monitor_id": {"type": "keyword"},
      "monitor_name": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "monitor_version": {"type": "long"},
      "trigger_id": {"type": "keyword"},
      "trigger_name": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "severity": {"type": "keyword"},
      "state": {"type": "keyword"},
      "start_time": {"type": "date"},
      "last_notification_time": {"type": "date"},
      "acknowledged_time": {"type": "date"},
      "end_time": {"type": "date"},
      "error_message": {"type": "text"},
      "alert_history": {
        "type": "nested",
        "properties": {
          "timestamp": {"type": "date"},
          "message": {"type": "text"}
        }
      },
      "action_execution_results": {
        "type": "nested",
        "properties": {
          "action_id": {"type": "keyword"},
          "last_execution_time": {"type": "date"},
          "throttled_count": {"type": "integer"}
        }
      },
      "schema_version": {"type": "integer"}
    }
  }
}`

const configMapping = `{
  "settings": {
    "number_of_shards": 1,
    "auto_expand_replicas": "0-1"
  },
  "mappings": {
    "properties": {
      "type": {"type": "keyword"},
      "monitor": {"type": "object", "enabled": false},
      "destination": {"type": "object", "enabled": false}
    }
  }
}`

// EnsureIndices checks the alert and history indices and creates any that
// are missing. It runs at daemon startup and before every monitor run; the
// existence check is cheap, the create races are tolerated by the gateway.
func EnsureIndices(ctx context.Context, client *cluster.Client) error {
	ctx = security.Stash(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for _, index := range []string{AlertIndex, HistoryWriteIndex} {
		g.Go(func() error {
			return ensureIndex(ctx, client, index, alertMapping)
		})
	}
	return g.Wait()
}

// EnsureConfigIndex creates the config index when missing. Only the daemon
// startup path calls this; monitor runs never touch it.
func EnsureConfigIndex(ctx context.Context, client *cluster.Client) error {
	return ensureIndex(security.Stash(ctx), client, ConfigIndex, configMapping)
}

func ensureIndex(ctx context.Context, client *cluster.Client, index, mapping string) error {
	exists, err := client.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.CreateIndex(ctx, index, mapping)
}
