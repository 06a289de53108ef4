package compose

import (
	"fmt"
	"testing"
	"time"

	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/trigger"
)

var (
	baseTime = time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)
	earlier  = time.Date(2025, 4, 2, 11, 0, 0, 0, time.UTC)
)

func testCtx(prior *model.Alert) *trigger.Context {
	return &trigger.Context{
		Monitor: &model.Monitor{ID: "m1", Name: "errors-spike", Version: 2},
		Trigger: model.Trigger{
			ID: "t1", Name: "too-many-errors", Severity: "1",
			Actions: []model.Action{
				{ID: "a1", Name: "notify-ops", DestinationID: "d1", MessageTemplate: "x"},
				{ID: "a2", Name: "notify-dev", DestinationID: "d2", MessageTemplate: "y"},
			},
		},
		PeriodStart: earlier,
		PeriodEnd:   baseTime,
		Alert:       prior,
	}
}

func priorActive() *model.Alert {
	last := earlier
	return &model.Alert{
		ID: "alert-1", MonitorID: "m1", MonitorName: "errors-spike",
		TriggerID: "t1", TriggerName: "too-many-errors", Severity: "1",
		State: model.StateActive, StartTime: earlier, LastNotification: &last,
		ActionResults: []model.ActionExecutionResult{
			{ActionID: "a1", LastExecutionTime: &last, ThrottledCount: 0},
		},
		SchemaVersion: model.AlertSchemaVersion,
	}
}

func TestStateMatrix(t *testing.T) {
	alertErr := &model.AlertError{Timestamp: baseTime, Message: "input failed"}

	tests := []struct {
		name      string
		triggered bool
		err       *model.AlertError
		prior     *model.Alert
		wantNil   bool
		wantState model.State
	}{
		{
			name: "quiet with no prior drops", triggered: false, prior: nil, wantNil: true,
		},
		{
			name: "quiet completes prior", triggered: false, prior: priorActive(),
			wantState: model.StateCompleted,
		},
		{
			name: "acknowledged suppresses while firing", triggered: true,
			prior: &model.Alert{State: model.StateAcknowledged}, wantNil: true,
		},
		{
			name: "acknowledged suppresses while quiet", triggered: false,
			prior: &model.Alert{State: model.StateAcknowledged}, wantNil: true,
		},
		{
			name: "first firing creates active", triggered: true, prior: nil,
			wantState: model.StateActive,
		},
		{
			name: "continued firing stays active", triggered: true, prior: priorActive(),
			wantState: model.StateActive,
		},
		{
			name: "error with no prior creates error alert", triggered: true, err: alertErr,
			prior: nil, wantState: model.StateError,
		},
		{
			name: "error updates prior to error", triggered: true, err: alertErr,
			prior: priorActive(), wantState: model.StateError,
		},
		{
			name: "error overrides acknowledged", triggered: true, err: alertErr,
			prior: &model.Alert{State: model.StateAcknowledged}, wantState: model.StateError,
		},
		{
			name: "error while quiet still records", triggered: false, err: alertErr,
			prior: nil, wantState: model.StateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testCtx(tt.prior)
			result := model.TriggerRunResult{TriggerName: "too-many-errors", Triggered: tt.triggered}

			got := NextAlert(ctx, result, tt.err, baseTime)

			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got state %s", got.State)
				}
				return
			}
			if got == nil {
				t.Fatal("expected alert, got nil")
			}
			if got.State != tt.wantState {
				t.Errorf("expected state %s, got %s", tt.wantState, got.State)
			}
			if got.SchemaVersion != model.AlertSchemaVersion {
				t.Errorf("expected schema version %d, got %d", model.AlertSchemaVersion, got.SchemaVersion)
			}
		})
	}
}

func TestNewActiveAlertTimes(t *testing.T) {
	ctx := testCtx(nil)
	got := NextAlert(ctx, model.TriggerRunResult{Triggered: true}, nil, baseTime)
	if got == nil {
		t.Fatal("expected alert")
	}
	if !got.StartTime.Equal(baseTime) {
		t.Errorf("expected start time %v, got %v", baseTime, got.StartTime)
	}
	if got.LastNotification == nil || !got.LastNotification.Equal(baseTime) {
		t.Errorf("expected last notification %v, got %v", baseTime, got.LastNotification)
	}
	if got.MonitorID != "m1" || got.TriggerID != "t1" {
		t.Errorf("identity not carried: %s/%s", got.MonitorID, got.TriggerID)
	}
}

func TestCompletedAlertClearsError(t *testing.T) {
	prior := priorActive()
	prior.State = model.StateError
	prior.ErrorMessage = "was broken"

	got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: false}, nil, baseTime)
	if got == nil {
		t.Fatal("expected completed alert")
	}
	if got.State != model.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.State)
	}
	if got.EndTime == nil || !got.EndTime.Equal(baseTime) {
		t.Errorf("expected end time %v, got %v", baseTime, got.EndTime)
	}
	if got.ErrorMessage != "" {
		t.Errorf("expected cleared error message, got %q", got.ErrorMessage)
	}
	// Completion must not touch the last notification time.
	if got.LastNotification == nil || !got.LastNotification.Equal(earlier) {
		t.Errorf("expected last notification %v, got %v", earlier, got.LastNotification)
	}
}

func TestActiveCopyClearsStaleErrorMessage(t *testing.T) {
	prior := priorActive()
	prior.State = model.StateError
	prior.ErrorMessage = "transient input failure"

	got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true}, nil, baseTime)
	if got == nil {
		t.Fatal("expected alert")
	}
	if got.State != model.StateActive {
		t.Fatalf("expected ACTIVE, got %s", got.State)
	}
	if got.ErrorMessage != "" {
		t.Errorf("expected cleared error message, got %q", got.ErrorMessage)
	}
	if got.ID != "alert-1" {
		t.Errorf("expected copy to keep id, got %q", got.ID)
	}
}

func TestMergeActionResults(t *testing.T) {
	execTime := baseTime

	t.Run("throttled increments count and keeps time", func(t *testing.T) {
		prior := priorActive()
		run := map[string]model.ActionRunResult{
			"a1": {ActionID: "a1", Throttled: true},
		}
		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true, ActionResults: run}, nil, baseTime)
		if got == nil {
			t.Fatal("expected alert")
		}
		r := got.ActionResult("a1")
		if r == nil {
			t.Fatal("expected a1 entry")
		}
		if r.ThrottledCount != 1 {
			t.Errorf("expected throttled count 1, got %d", r.ThrottledCount)
		}
		if r.LastExecutionTime == nil || !r.LastExecutionTime.Equal(earlier) {
			t.Errorf("throttle must keep last execution %v, got %v", earlier, r.LastExecutionTime)
		}
	})

	t.Run("executed replaces time and keeps count", func(t *testing.T) {
		prior := priorActive()
		prior.ActionResults[0].ThrottledCount = 3
		run := map[string]model.ActionRunResult{
			"a1": {ActionID: "a1", ExecutionTime: &execTime},
		}
		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true, ActionResults: run}, nil, baseTime)
		r := got.ActionResult("a1")
		if r.LastExecutionTime == nil || !r.LastExecutionTime.Equal(execTime) {
			t.Errorf("expected execution time replaced with %v, got %v", execTime, r.LastExecutionTime)
		}
		if r.ThrottledCount != 3 {
			t.Errorf("expected throttled count kept at 3, got %d", r.ThrottledCount)
		}
	})

	t.Run("absent this run keeps entry untouched", func(t *testing.T) {
		prior := priorActive()
		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true}, nil, baseTime)
		r := got.ActionResult("a1")
		if r == nil || !r.LastExecutionTime.Equal(earlier) || r.ThrottledCount != 0 {
			t.Errorf("expected untouched entry, got %+v", r)
		}
	})

	t.Run("new action appends in declaration order", func(t *testing.T) {
		prior := priorActive()
		run := map[string]model.ActionRunResult{
			"a2": {ActionID: "a2", ExecutionTime: &execTime},
		}
		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true, ActionResults: run}, nil, baseTime)
		if len(got.ActionResults) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(got.ActionResults))
		}
		if got.ActionResults[0].ActionID != "a1" || got.ActionResults[1].ActionID != "a2" {
			t.Errorf("unexpected order: %+v", got.ActionResults)
		}
		if got.ActionResults[1].ThrottledCount != 0 {
			t.Errorf("expected new executed entry count 0, got %d", got.ActionResults[1].ThrottledCount)
		}
	})

	t.Run("no prior takes run set only", func(t *testing.T) {
		run := map[string]model.ActionRunResult{
			"a1": {ActionID: "a1", ExecutionTime: &execTime},
		}
		got := NextAlert(testCtx(nil), model.TriggerRunResult{Triggered: true, ActionResults: run}, nil, baseTime)
		if len(got.ActionResults) != 1 || got.ActionResults[0].ActionID != "a1" {
			t.Errorf("unexpected results: %+v", got.ActionResults)
		}
	})
}

func TestThrottledCountMonotonic(t *testing.T) {
	prior := priorActive()
	run := map[string]model.ActionRunResult{"a1": {ActionID: "a1", Throttled: true}}

	counts := []int{}
	for i := 0; i < 4; i++ {
		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true, ActionResults: run}, nil, baseTime)
		counts = append(counts, got.ActionResult("a1").ThrottledCount)
		prior = got
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] < counts[i-1] {
			t.Fatalf("throttled count decreased: %v", counts)
		}
	}
	if counts[len(counts)-1] != 4 {
		t.Errorf("expected 4 throttles recorded, got %v", counts)
	}
}

func TestErrorHistoryMerge(t *testing.T) {
	t.Run("new error prepends", func(t *testing.T) {
		prior := priorActive()
		prior.ErrorHistory = []model.AlertError{{Timestamp: earlier, Message: "old"}}
		alertErr := &model.AlertError{Timestamp: baseTime, Message: "new"}

		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true}, alertErr, baseTime)
		if len(got.ErrorHistory) != 2 {
			t.Fatalf("expected 2 history entries, got %d", len(got.ErrorHistory))
		}
		if got.ErrorHistory[0].Message != "new" || got.ErrorHistory[1].Message != "old" {
			t.Errorf("expected newest first, got %+v", got.ErrorHistory)
		}
	})

	t.Run("history capped at ten", func(t *testing.T) {
		prior := priorActive()
		for i := 0; i < model.MaxErrorHistory; i++ {
			prior.ErrorHistory = append(prior.ErrorHistory, model.AlertError{
				Timestamp: earlier, Message: fmt.Sprintf("e%d", i),
			})
		}
		alertErr := &model.AlertError{Timestamp: baseTime, Message: "newest"}

		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true}, alertErr, baseTime)
		if len(got.ErrorHistory) != model.MaxErrorHistory {
			t.Fatalf("expected history capped at %d, got %d", model.MaxErrorHistory, len(got.ErrorHistory))
		}
		if got.ErrorHistory[0].Message != "newest" {
			t.Errorf("expected newest entry first, got %q", got.ErrorHistory[0].Message)
		}
		if got.ErrorHistory[model.MaxErrorHistory-1].Message != "e8" {
			t.Errorf("expected oldest entry dropped, got %q", got.ErrorHistory[model.MaxErrorHistory-1].Message)
		}
	})

	t.Run("prior history carried without new error", func(t *testing.T) {
		prior := priorActive()
		prior.ErrorHistory = []model.AlertError{{Timestamp: earlier, Message: "old"}}

		got := NextAlert(testCtx(prior), model.TriggerRunResult{Triggered: true}, nil, baseTime)
		if len(got.ErrorHistory) != 1 || got.ErrorHistory[0].Message != "old" {
			t.Errorf("expected prior history kept, got %+v", got.ErrorHistory)
		}
	})
}
