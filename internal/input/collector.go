// Package input collects monitor input results: it renders each input's
// query template against the run period, executes the search, and returns
// the responses as generic maps for the trigger conditions to inspect.
package input

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/security"
)

// ADResultsIndexPrefix marks anomaly-detector result indices. Monitors whose
// inputs target them are AD monitors and collect under the stashed security
// variant.
const ADResultsIndexPrefix = ".vigil-anomaly-results"

// Collector executes monitor inputs against the cluster.
type Collector struct {
	client *cluster.Client
	logger *logrus.Logger
}

// NewCollector creates an input collector over the cluster gateway.
func NewCollector(client *cluster.Client, logger *logrus.Logger) *Collector {
	return &Collector{client: client, logger: logger}
}

// IsADMonitor reports whether the monitor reads anomaly-detector results.
func IsADMonitor(monitor *model.Monitor) bool {
	for _, in := range monitor.Inputs {
		if in.Search == nil {
			continue
		}
		for _, index := range in.Search.Indices {
			if strings.HasPrefix(index, ADResultsIndexPrefix) {
				return true
			}
		}
	}
	return false
}

// Collect runs every input of the monitor in declaration order. Any failure
// is captured on the result, never propagated: the error becomes each
// trigger's alert error and the pipeline continues.
//
// Standard monitors search under an injected context carrying the owner's
// backend roles. AD monitors search under a stashed context (the result
// indices are system indices) with the query rewritten to filter on the
// owner's roles instead.
func (c *Collector) Collect(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time) model.InputRunResults {
	results, err := c.collect(ctx, monitor, periodStart, periodEnd)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"monitor_id":   monitor.ID,
			"monitor_name": monitor.Name,
		}).WithError(err).Error("input collection failed")
		return model.InputRunResults{Err: err}
	}
	return model.InputRunResults{Results: results}
}

func (c *Collector) collect(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time) ([]map[string]any, error) {
	adMonitor := IsADMonitor(monitor)
	roles := security.RolesFor(monitorRoles(monitor), monitor.User != nil)
	if adMonitor {
		ctx = security.Stash(ctx)
	} else {
		ctx = security.WithRoles(ctx, security.Injected{MonitorID: monitor.ID, Roles: roles})
	}

	params := map[string]any{
		"period_start": periodStart.UnixMilli(),
		"period_end":   periodEnd.UnixMilli(),
	}

	results := make([]map[string]any, 0, len(monitor.Inputs))
	for i, in := range monitor.Inputs {
		if in.Search == nil {
			return nil, fmt.Errorf("unsupported input variant %q at input %d", in.Kind(), i)
		}

		source, err := renderQuery(in.Search.Query, params)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if adMonitor {
			source = filterByBackendRoles(source, monitor.User)
		}

		res, err := c.client.Search(ctx, cluster.SearchParams{
			Indices: in.Search.Indices,
			Routing: monitor.ID,
		}, source)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		m, err := res.AsMap()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		results = append(results, m)
	}
	return results, nil
}

// renderQuery instantiates the query template with the period parameters
// and parses the result into a search source.
func renderQuery(query string, params map[string]any) (map[string]any, error) {
	tmpl, err := template.New("query").Option("missingkey=error").Parse(query)
	if err != nil {
		return nil, fmt.Errorf("compile query template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("render query template: %w", err)
	}

	var source map[string]any
	if err := json.Unmarshal(buf.Bytes(), &source); err != nil {
		return nil, fmt.Errorf("parse rendered query: %w", err)
	}
	return source, nil
}

// filterByBackendRoles rewrites an AD search source so the stashed search
// only sees results the monitor owner may see: a terms filter on the owner's
// backend roles, or a must-not-exists filter for ownerless monitors.
func filterByBackendRoles(source map[string]any, user *model.User) map[string]any {
	var filter map[string]any
	if user == nil {
		filter = map[string]any{
			"bool": map[string]any{
				"must_not": []any{
					map[string]any{"exists": map[string]any{"field": "user"}},
				},
			},
		}
	} else {
		filter = map[string]any{
			"terms": map[string]any{"user.backend_roles.keyword": user.BackendRoles},
		}
	}

	query, ok := source["query"]
	if !ok {
		query = map[string]any{"match_all": map[string]any{}}
	}
	source["query"] = map[string]any{
		"bool": map[string]any{
			"must":   []any{query},
			"filter": []any{filter},
		},
	}
	return source
}

func monitorRoles(monitor *model.Monitor) []string {
	if monitor.User == nil {
		return nil
	}
	return monitor.User.BackendRoles
}
