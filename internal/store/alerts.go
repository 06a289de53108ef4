package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/metrics"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/security"
	"github.com/forgelight/vigil/internal/settings"
)

// ErrTerminalState is returned when a caller asks Save to persist an
// ACKNOWLEDGED or DELETED alert. The composer never produces those states;
// hitting this is a programmer error and aborts the run.
var ErrTerminalState = fmt.Errorf("alert state is not savable by the runner")

// moveBatchSize bounds how many stale alerts one move pass handles.
const moveBatchSize = 1000

// AlertStore reads and writes alerts in the live and history indices. All
// its requests run under a stashed security context: alert bookkeeping is
// system work, not monitor-owner work.
type AlertStore struct {
	client *cluster.Client
	logger *logrus.Logger
}

// NewAlertStore creates an alert store over the cluster gateway.
func NewAlertStore(client *cluster.Client, logger *logrus.Logger) *AlertStore {
	return &AlertStore{client: client, logger: logger}
}

// LoadCurrentAlerts returns the live alert per trigger of the monitor, nil
// for triggers without one. At most one live alert should exist per trigger;
// duplicates are logged and the first is used.
func (s *AlertStore) LoadCurrentAlerts(ctx context.Context, monitor *model.Monitor) (map[string]*model.Alert, error) {
	ctx = security.Stash(ctx)

	size := 2 * len(monitor.Triggers)
	res, err := s.client.Search(ctx, cluster.SearchParams{
		Indices: []string{AlertIndex},
		Routing: monitor.ID,
		Size:    &size,
		Version: true,
	}, map[string]any{
		"query": map[string]any{
			"term": map[string]any{"monitor_id": monitor.ID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load current alerts: %w", err)
	}
	if ferr := res.FirstFailure(); ferr != nil {
		return nil, fmt.Errorf("load current alerts: %w", ferr)
	}

	grouped := make(map[string][]*model.Alert)
	for _, hit := range res.Hits.Hits {
		alert, err := parseAlert(hit)
		if err != nil {
			return nil, fmt.Errorf("load current alerts: %w", err)
		}
		grouped[alert.TriggerID] = append(grouped[alert.TriggerID], alert)
	}

	current := make(map[string]*model.Alert, len(monitor.Triggers))
	for _, tr := range monitor.Triggers {
		alerts := grouped[tr.ID]
		if len(alerts) > 1 {
			s.logger.WithFields(logrus.Fields{
				"monitor_id": monitor.ID,
				"trigger_id": tr.ID,
				"count":      len(alerts),
			}).Warn("multiple live alerts for one trigger, using the first")
		}
		if len(alerts) > 0 {
			current[tr.ID] = alerts[0]
		} else {
			current[tr.ID] = nil
		}
	}
	return current, nil
}

// Save persists the run's updated alerts: ACTIVE and ERROR are indexed into
// the live index, COMPLETED are deleted from it and, when history is
// enabled, copied into the history index. The bulk is retried under the
// constant backoff policy, resubmitting only the items the cluster rejected
// with 429. Other item failures are logged and surface through the response
// but are not retried.
func (s *AlertStore) Save(ctx context.Context, alerts []*model.Alert, snap *settings.Snapshot) error {
	ops, err := s.bulkOps(alerts, snap.HistoryEnabled)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	for _, op := range ops {
		metrics.AlertWritesTotal.WithLabelValues(op.Action).Inc()
	}

	ctx = security.Stash(ctx)
	pending := ops
	attempt := 0
	return snap.AlertBackoff.Do(ctx, cluster.IsTooManyRequests, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.BulkRetriesTotal.Inc()
		}
		res, err := s.client.Bulk(ctx, pending)
		if err != nil {
			return err
		}

		var rejected []cluster.BulkOp
		var firstErr error
		for i := range pending {
			item := res.Item(i)
			if !item.Failed() {
				continue
			}
			if cluster.IsTooManyRequests(item.Err()) {
				rejected = append(rejected, pending[i])
				if firstErr == nil {
					firstErr = item.Err()
				}
				continue
			}
			s.logger.WithFields(logrus.Fields{
				"index":  item.Index,
				"doc_id": item.ID,
				"status": item.Status,
			}).WithError(item.Err()).Error("alert write failed")
		}
		if len(rejected) > 0 {
			pending = rejected
			return firstErr
		}
		return nil
	})
}

// bulkOps translates alerts into bulk request lines by state.
func (s *AlertStore) bulkOps(alerts []*model.Alert, historyEnabled bool) ([]cluster.BulkOp, error) {
	var ops []cluster.BulkOp
	for _, alert := range alerts {
		switch alert.State {
		case model.StateActive, model.StateError:
			ops = append(ops, cluster.BulkOp{
				Action:  cluster.OpIndex,
				Index:   AlertIndex,
				ID:      alert.ID,
				Routing: alert.MonitorID,
				Doc:     alert,
			})
		case model.StateCompleted:
			ops = append(ops, cluster.BulkOp{
				Action:  cluster.OpDelete,
				Index:   AlertIndex,
				ID:      alert.ID,
				Routing: alert.MonitorID,
			})
			if historyEnabled {
				ops = append(ops, cluster.BulkOp{
					Action:  cluster.OpIndex,
					Index:   HistoryWriteIndex,
					ID:      alert.ID,
					Routing: alert.MonitorID,
					Doc:     alert,
				})
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrTerminalState, alert.State)
		}
	}
	return ops, nil
}

// MoveAlerts copies the monitor's stale live alerts into the history index
// with state DELETED and deletes the copied ones from the live index. When
// newMonitor is given only alerts of triggers it no longer declares are
// stale; on monitor deletion every alert is. The caller retries the whole
// move under the exponential policy.
func (s *AlertStore) MoveAlerts(ctx context.Context, monitorID string, newMonitor *model.Monitor) error {
	ctx = security.Stash(ctx)

	query := map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"term": map[string]any{"monitor_id": monitorID}},
			},
		},
	}
	if newMonitor != nil {
		query["bool"].(map[string]any)["must_not"] = []any{
			map[string]any{"terms": map[string]any{"trigger_id": newMonitor.TriggerIDs()}},
		}
	}

	size := moveBatchSize
	res, err := s.client.Search(ctx, cluster.SearchParams{
		Indices: []string{AlertIndex},
		Routing: monitorID,
		Size:    &size,
		Version: true,
	}, map[string]any{"query": query})
	if err != nil {
		return fmt.Errorf("find alerts to move: %w", err)
	}
	if len(res.Hits.Hits) == 0 {
		return nil
	}

	copies := make([]cluster.BulkOp, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		alert, err := parseAlert(hit)
		if err != nil {
			return fmt.Errorf("move alerts: %w", err)
		}
		alert.State = model.StateDeleted
		copies = append(copies, cluster.BulkOp{
			Action:  cluster.OpIndex,
			Index:   HistoryWriteIndex,
			ID:      alert.ID,
			Routing: monitorID,
			Doc:     alert,
		})
	}

	copyRes, err := s.client.Bulk(ctx, copies)
	if err != nil {
		return fmt.Errorf("copy alerts to history: %w", err)
	}

	// Delete only what reached the history index; failed copies stay live
	// and are picked up by the retry.
	var deletes []cluster.BulkOp
	var copyErr error
	for i := range copies {
		item := copyRes.Item(i)
		if item.Failed() {
			if copyErr == nil {
				copyErr = item.Err()
			}
			continue
		}
		deletes = append(deletes, cluster.BulkOp{
			Action:  cluster.OpDelete,
			Index:   AlertIndex,
			ID:      copies[i].ID,
			Routing: monitorID,
		})
	}

	if len(deletes) > 0 {
		delRes, err := s.client.Bulk(ctx, deletes)
		if err != nil {
			return fmt.Errorf("delete moved alerts: %w", err)
		}
		for i := range deletes {
			if item := delRes.Item(i); item.Failed() {
				return fmt.Errorf("delete moved alert %s: %w", item.ID, item.Err())
			}
		}
	}

	if copyErr != nil {
		return fmt.Errorf("copy alerts to history: %w", copyErr)
	}
	metrics.AlertsMovedTotal.Add(float64(len(deletes)))
	s.logger.WithFields(logrus.Fields{
		"monitor_id": monitorID,
		"moved":      len(deletes),
	}).Info("moved stale alerts to history")
	return nil
}

// parseAlert decodes a search hit into an alert, carrying over the document
// id and version.
func parseAlert(hit cluster.Hit) (*model.Alert, error) {
	var alert model.Alert
	if err := json.Unmarshal(hit.Source, &alert); err != nil {
		return nil, fmt.Errorf("parse alert %s: %w", hit.ID, err)
	}
	alert.ID = hit.ID
	alert.Version = hit.Version
	return &alert, nil
}
