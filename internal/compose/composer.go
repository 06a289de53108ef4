// Package compose computes the next alert state from a trigger evaluation.
// It is pure: no I/O, no clocks other than the passed-in now, which keeps
// the state machine directly testable.
package compose

import (
	"time"

	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/trigger"
)

// NextAlert applies the alert state machine:
//
//	triggered  alertErr  prior         result
//	false      nil       nil           nil (drop)
//	false      nil       any           prior as COMPLETED, endTime=now
//	*          nil       ACKNOWLEDGED  nil (suppress, prior untouched)
//	true       nil       nil           new ACTIVE alert
//	true       nil       non-ack       prior as ACTIVE
//	*          non-nil   nil           new ERROR alert
//	*          non-nil   any           prior as ERROR
//
// Acknowledged suppression wins over completion whenever there is no error,
// regardless of triggered. Every returned alert carries the merged action
// execution results, merged error history, and the current schema version.
func NextAlert(ctx *trigger.Context, result model.TriggerRunResult, alertErr *model.AlertError, now time.Time) *model.Alert {
	prior := ctx.Alert
	actionResults := mergeActionResults(ctx, prior, result.ActionResults)
	history := mergeErrorHistory(prior, alertErr)

	if alertErr == nil {
		if prior != nil && prior.IsAcknowledged() {
			return nil
		}
		if !result.Triggered {
			if prior == nil {
				return nil
			}
			completed := *prior
			completed.State = model.StateCompleted
			completed.EndTime = &now
			completed.ErrorMessage = ""
			completed.ErrorHistory = history
			completed.ActionResults = actionResults
			completed.SchemaVersion = model.AlertSchemaVersion
			return &completed
		}
	}

	state := model.StateActive
	errorMessage := ""
	if alertErr != nil {
		state = model.StateError
		errorMessage = alertErr.Message
	}

	if prior != nil {
		next := *prior
		next.State = state
		next.LastNotification = &now
		next.ErrorMessage = errorMessage
		next.ErrorHistory = history
		next.ActionResults = actionResults
		next.SchemaVersion = model.AlertSchemaVersion
		return &next
	}

	return &model.Alert{
		MonitorID:        ctx.Monitor.ID,
		MonitorName:      ctx.Monitor.Name,
		MonitorVersion:   ctx.Monitor.Version,
		TriggerID:        ctx.Trigger.ID,
		TriggerName:      ctx.Trigger.Name,
		Severity:         ctx.Trigger.Severity,
		State:            state,
		StartTime:        now,
		LastNotification: &now,
		ErrorMessage:     errorMessage,
		ErrorHistory:     history,
		ActionResults:    actionResults,
		SchemaVersion:    model.AlertSchemaVersion,
	}
}

// mergeActionResults folds this run's action results into the prior alert's
// execution records. Prior entries stay in place; entries for actions new
// this run are appended in the trigger's declaration order.
func mergeActionResults(ctx *trigger.Context, prior *model.Alert, run map[string]model.ActionRunResult) []model.ActionExecutionResult {
	var merged []model.ActionExecutionResult
	seen := make(map[string]bool, len(run))

	if prior != nil {
		merged = make([]model.ActionExecutionResult, 0, len(prior.ActionResults))
		for _, prev := range prior.ActionResults {
			seen[prev.ActionID] = true
			r, ran := run[prev.ActionID]
			if ran {
				if r.Throttled {
					prev.ThrottledCount++
				} else {
					prev.LastExecutionTime = r.ExecutionTime
				}
			}
			merged = append(merged, prev)
		}
	}

	for _, a := range ctx.Trigger.Actions {
		r, ran := run[a.ID]
		if !ran || seen[a.ID] {
			continue
		}
		entry := model.ActionExecutionResult{
			ActionID:          a.ID,
			LastExecutionTime: r.ExecutionTime,
		}
		if r.Throttled {
			entry.ThrottledCount = 1
		}
		merged = append(merged, entry)
	}
	return merged
}

// mergeErrorHistory prepends the new error, newest first, capped.
func mergeErrorHistory(prior *model.Alert, alertErr *model.AlertError) []model.AlertError {
	var history []model.AlertError
	if prior != nil {
		history = prior.ErrorHistory
	}
	if alertErr == nil {
		return history
	}
	merged := make([]model.AlertError, 0, len(history)+1)
	merged = append(merged, *alertErr)
	merged = append(merged, history...)
	if len(merged) > model.MaxErrorHistory {
		merged = merged[:model.MaxErrorHistory]
	}
	return merged
}
