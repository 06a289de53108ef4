package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/retry"
	"github.com/forgelight/vigil/internal/settings"
)

type fakeTransport struct {
	fn       func(*http.Request) (*http.Response, error)
	requests []*http.Request
	bodies   []string
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(b))
		req.Body = io.NopCloser(strings.NewReader(string(b)))
	} else {
		f.bodies = append(f.bodies, "")
	}
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

func testClient(t *testing.T, ft *fakeTransport) *cluster.Client {
	t.Helper()
	c, err := cluster.New(cluster.Config{Addresses: []string{"http://cluster.test:9200"}, Transport: ft}, testLogger())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSnapshot(attempts int) *settings.Snapshot {
	snap := settings.Default().Snapshot()
	snap.AlertBackoff = retry.Constant(time.Millisecond, attempts)
	return snap
}

func alertSource(monitorID, triggerID string, state model.State) string {
	return fmt.Sprintf(`{"monitor_id": %q, "trigger_id": %q, "state": %q, "start_time": "2026-08-25T10:00:00Z", "schema_version": 3}`,
		monitorID, triggerID, state)
}

func searchBody(hits ...string) string {
	var wrapped []string
	for i, h := range hits {
		wrapped = append(wrapped, fmt.Sprintf(`{"_index": ".vigil-alerts", "_id": "a%d", "_version": 1, "_source": %s}`, i+1, h))
	}
	return fmt.Sprintf(`{"_shards": {"total": 1, "successful": 1, "failed": 0}, "hits": {"total": {"value": %d}, "hits": [%s]}}`,
		len(hits), strings.Join(wrapped, ","))
}

func bulkBody(statuses ...int) string {
	var items []string
	for i, s := range statuses {
		item := fmt.Sprintf(`{"index": {"_index": ".vigil-alerts", "_id": "a%d", "status": %d`, i+1, s)
		if s >= 300 {
			item += `, "error": {"type": "es_rejected_execution_exception", "reason": "queue full"}`
		}
		item += `}}`
		items = append(items, item)
	}
	errs := "false"
	for _, s := range statuses {
		if s >= 300 {
			errs = "true"
		}
	}
	return fmt.Sprintf(`{"took": 1, "errors": %s, "items": [%s]}`, errs, strings.Join(items, ","))
}

func testMonitor(triggerIDs ...string) *model.Monitor {
	m := &model.Monitor{
		ID:      "m1",
		Name:    "cpu monitor",
		Enabled: true,
		Schedule: model.Schedule{
			Period: model.Period{Interval: 1, Unit: "MINUTES"},
		},
		Inputs: []model.Input{model.NewSearchInput([]string{"logs-*"}, `{"query": {"match_all": {}}}`)},
	}
	for _, id := range triggerIDs {
		m.Triggers = append(m.Triggers, model.Trigger{
			ID: id, Name: "trigger " + id, Severity: "1",
			Condition: model.Script{Source: "true"},
		})
	}
	return m
}

func TestLoadCurrentAlertsGroupsByTrigger(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, searchBody(
			alertSource("m1", "t1", model.StateActive),
			alertSource("m1", "t1", model.StateActive), // duplicate, first wins
			alertSource("m1", "t2", model.StateError),
		)), nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	current, err := s.LoadCurrentAlerts(context.Background(), testMonitor("t1", "t2", "t3"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if current["t1"] == nil || current["t1"].ID != "a1" {
		t.Errorf("expected first duplicate for t1, got %+v", current["t1"])
	}
	if current["t2"] == nil || current["t2"].State != model.StateError {
		t.Errorf("expected error alert for t2, got %+v", current["t2"])
	}
	if alert, ok := current["t3"]; !ok || alert != nil {
		t.Errorf("expected explicit nil for t3, got %+v ok=%v", alert, ok)
	}

	req := ft.requests[0]
	if got := req.URL.Query().Get("routing"); got != "m1" {
		t.Errorf("expected routing m1, got %q", got)
	}
	if got := req.URL.Query().Get("size"); got != "6" {
		t.Errorf("expected size 2x|triggers|=6, got %q", got)
	}
}

func TestLoadCurrentAlertsRaisesShardFailure(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{
			"_shards": {"total": 2, "successful": 1, "failed": 1, "failures": [
				{"shard": 0, "index": ".vigil-alerts", "reason": {"type": "x", "reason": "corrupt shard"}}
			]},
			"hits": {"total": {"value": 0}, "hits": []}
		}`), nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	_, err := s.LoadCurrentAlerts(context.Background(), testMonitor("t1"))
	if err == nil || !strings.Contains(err.Error(), "corrupt shard") {
		t.Fatalf("expected shard failure raised, got %v", err)
	}
}

func TestSaveTranslatesStates(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, bulkBody(200, 200, 200, 200)), nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	now := time.Now()
	alerts := []*model.Alert{
		{ID: "a1", MonitorID: "m1", TriggerID: "t1", State: model.StateActive, StartTime: now},
		{ID: "a2", MonitorID: "m1", TriggerID: "t2", State: model.StateError, StartTime: now},
		{ID: "a3", MonitorID: "m1", TriggerID: "t3", State: model.StateCompleted, StartTime: now},
	}
	if err := s.Save(context.Background(), alerts, testSnapshot(2)); err != nil {
		t.Fatalf("save: %v", err)
	}

	body := ft.bodies[0]
	lines := strings.Split(strings.TrimSpace(body), "\n")
	// 2 index ops with docs, 1 delete, 1 history index with doc = 7 lines
	if len(lines) != 7 {
		t.Fatalf("expected 7 bulk lines, got %d: %q", len(lines), body)
	}
	if !strings.Contains(body, `"delete"`) {
		t.Error("expected a delete op for the completed alert")
	}
	if !strings.Contains(body, HistoryWriteIndex) {
		t.Error("expected a history copy for the completed alert")
	}
	if !strings.Contains(body, `"routing":"m1"`) {
		t.Error("expected ops routed by monitor id")
	}
}

func TestSaveSkipsHistoryWhenDisabled(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, bulkBody(200)), nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	snap := testSnapshot(2)
	snap.HistoryEnabled = false
	alerts := []*model.Alert{
		{ID: "a1", MonitorID: "m1", TriggerID: "t1", State: model.StateCompleted},
	}
	if err := s.Save(context.Background(), alerts, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.Contains(ft.bodies[0], HistoryWriteIndex) {
		t.Error("expected no history copy with history disabled")
	}
}

func TestSaveRejectsTerminalStates(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected for terminal states")
		return nil, nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	for _, state := range []model.State{model.StateAcknowledged, model.StateDeleted} {
		err := s.Save(context.Background(), []*model.Alert{{ID: "a1", MonitorID: "m1", State: state}}, testSnapshot(2))
		if !errors.Is(err, ErrTerminalState) {
			t.Errorf("state %s: expected ErrTerminalState, got %v", state, err)
		}
	}
}

func TestSaveResubmitsOnlyRejectedItems(t *testing.T) {
	attempt := 0
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		attempt++
		switch attempt {
		case 1:
			// second item rejected with 429
			return jsonResponse(200, bulkBody(200, 429)), nil
		default:
			return jsonResponse(200, bulkBody(200)), nil
		}
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	alerts := []*model.Alert{
		{ID: "a1", MonitorID: "m1", TriggerID: "t1", State: model.StateActive},
		{ID: "a2", MonitorID: "m1", TriggerID: "t2", State: model.StateActive},
	}
	if err := s.Save(context.Background(), alerts, testSnapshot(3)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if attempt != 2 {
		t.Fatalf("expected 2 bulk submissions, got %d", attempt)
	}
	second := ft.bodies[1]
	if strings.Contains(second, `"_id":"a1"`) {
		t.Error("accepted item resubmitted")
	}
	if !strings.Contains(second, `"_id":"a2"`) {
		t.Error("rejected item not resubmitted")
	}
}

func TestSaveRaises429WhenBudgetExhausted(t *testing.T) {
	attempts := 0
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		attempts++
		return jsonResponse(200, bulkBody(429)), nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	err := s.Save(context.Background(), []*model.Alert{
		{ID: "a1", MonitorID: "m1", State: model.StateActive},
	}, testSnapshot(3))
	if !cluster.IsTooManyRequests(err) {
		t.Fatalf("expected 429 cause raised, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected the full attempt budget, got %d submissions", attempts)
	}
}

func TestSaveDoesNotRetryOtherItemFailures(t *testing.T) {
	attempts := 0
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		attempts++
		return jsonResponse(200, bulkBody(400)), nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())

	// Mapping conflicts and the like are not transient: logged, not raised.
	err := s.Save(context.Background(), []*model.Alert{
		{ID: "a1", MonitorID: "m1", State: model.StateActive},
	}, testSnapshot(3))
	if err != nil {
		t.Fatalf("expected non-429 item failure to be non-fatal, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected a single submission, got %d", attempts)
	}
}

func TestMoveAlertsCopiesThenDeletes(t *testing.T) {
	var bulkCalls int
	ft := &fakeTransport{}
	ft.fn = func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/_search") {
			return jsonResponse(200, searchBody(
				alertSource("m1", "t-old", model.StateActive),
			)), nil
		}
		bulkCalls++
		return jsonResponse(200, bulkBody(200)), nil
	}
	s := NewAlertStore(testClient(t, ft), testLogger())

	newMonitor := testMonitor("t-new")
	if err := s.MoveAlerts(context.Background(), "m1", newMonitor); err != nil {
		t.Fatalf("move: %v", err)
	}
	if bulkCalls != 2 {
		t.Fatalf("expected copy bulk then delete bulk, got %d calls", bulkCalls)
	}

	searchReq := ft.bodies[0]
	if !strings.Contains(searchReq, "must_not") || !strings.Contains(searchReq, "t-new") {
		t.Errorf("expected surviving triggers excluded, got %s", searchReq)
	}
	copyBody := ft.bodies[1]
	if !strings.Contains(copyBody, HistoryWriteIndex) || !strings.Contains(copyBody, string(model.StateDeleted)) {
		t.Errorf("expected DELETED copy into history, got %s", copyBody)
	}
	deleteBody := ft.bodies[2]
	if !strings.Contains(deleteBody, `"delete"`) || !strings.Contains(deleteBody, AlertIndex) {
		t.Errorf("expected live-index delete, got %s", deleteBody)
	}
}

func TestMoveAlertsNothingToMove(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/_search") {
			return jsonResponse(200, searchBody()), nil
		}
		t.Fatal("no bulk expected with nothing to move")
		return nil, nil
	}}
	s := NewAlertStore(testClient(t, ft), testLogger())
	if err := s.MoveAlerts(context.Background(), "m1", nil); err != nil {
		t.Fatalf("move: %v", err)
	}
}

func TestMonitorStoreGet(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{
			"_index": ".vigil-config", "_id": "m1", "_version": 4, "found": true,
			"_source": {"type": "monitor", "monitor": {
				"name": "cpu monitor", "enabled": true,
				"schedule": {"period": {"interval": 1, "unit": "MINUTES"}},
				"inputs": [{"search": {"indices": ["logs-*"], "query": "{}"}}],
				"triggers": []
			}}
		}`), nil
	}}
	s := NewMonitorStore(testClient(t, ft), testLogger())

	m, err := s.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.ID != "m1" || m.Version != 4 || m.Name != "cpu monitor" {
		t.Errorf("unexpected monitor %+v", m)
	}
}

func TestMonitorStoreGetNotFound(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(404, `{"found": false}`), nil
	}}
	s := NewMonitorStore(testClient(t, ft), testLogger())

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMonitorStoreListEnabledSkipsBrokenDocs(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{
			"_shards": {"total": 1, "successful": 1, "failed": 0},
			"hits": {"total": {"value": 2}, "hits": [
				{"_index": ".vigil-config", "_id": "m1", "_version": 1, "_source":
					{"type": "monitor", "monitor": {"name": "ok", "enabled": true,
					 "schedule": {"period": {"interval": 1, "unit": "MINUTES"}},
					 "inputs": [], "triggers": []}}},
				{"_index": ".vigil-config", "_id": "m2", "_version": 1, "_source": {"type": "monitor"}}
			]}
		}`), nil
	}}
	s := NewMonitorStore(testClient(t, ft), testLogger())

	monitors, err := s.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(monitors) != 1 || monitors[0].ID != "m1" {
		t.Errorf("expected the one parsable monitor, got %+v", monitors)
	}
}

func TestDestinationStoreGet(t *testing.T) {
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{
			"_index": ".vigil-config", "_id": "d1", "_version": 1, "found": true,
			"_source": {"type": "destination", "destination": {
				"name": "ops", "type": "slack", "slack": {"url": "https://hooks.slack.test/x"}
			}}
		}`), nil
	}}
	s := NewDestinationStore(testClient(t, ft))

	d, err := s.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.ID != "d1" || d.Type != "slack" {
		t.Errorf("unexpected destination %+v", d)
	}
}

func TestEnsureIndicesCreatesMissing(t *testing.T) {
	var created []string
	ft := &fakeTransport{fn: func(r *http.Request) (*http.Response, error) {
		switch r.Method {
		case http.MethodHead:
			return jsonResponse(404, ""), nil
		case http.MethodPut:
			created = append(created, r.URL.Path)
			return jsonResponse(200, `{"acknowledged": true}`), nil
		}
		return jsonResponse(500, ""), nil
	}}
	client := testClient(t, ft)

	if err := EnsureIndices(context.Background(), client); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected both indices created, got %v", created)
	}
	joined := strings.Join(created, " ")
	if !strings.Contains(joined, AlertIndex) || !strings.Contains(joined, HistoryWriteIndex) {
		t.Errorf("expected alert and history indices, got %v", created)
	}
}

func TestAlertJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	in := model.Alert{
		MonitorID: "m1", TriggerID: "t1", State: model.StateActive,
		StartTime: now, LastNotification: &now,
		ActionResults: []model.ActionExecutionResult{{ActionID: "a1", LastExecutionTime: &now}},
		SchemaVersion: model.AlertSchemaVersion,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := parseAlert(cluster.Hit{ID: "doc1", Version: 2, Source: data})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.ID != "doc1" || out.Version != 2 {
		t.Errorf("expected doc identity carried over, got %+v", out)
	}
	if out.TriggerID != "t1" || !out.StartTime.Equal(now) {
		t.Errorf("round trip mismatch: %+v", out)
	}
}
