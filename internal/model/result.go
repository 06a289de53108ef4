package model

import (
	"encoding/json"
	"time"
)

// InputRunResults carries the collected input responses for one run. A
// collection failure leaves Results empty and Err set; the error then
// surfaces on every trigger's alert.
type InputRunResults struct {
	Results []map[string]any
	Err     error
}

// MarshalJSON flattens the error into a message string.
func (r InputRunResults) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Results []map[string]any `json:"results"`
		Error   string           `json:"error,omitempty"`
	}{r.Results, errString(r.Err)})
}

// ActionRunResult records one action dispatch attempt within a run.
type ActionRunResult struct {
	ActionID      string
	ActionName    string
	Output        map[string]string
	Throttled     bool
	ExecutionTime *time.Time
	Err           error
}

// MarshalJSON flattens the error into a message string.
func (r ActionRunResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ActionID      string            `json:"action_id"`
		ActionName    string            `json:"action_name"`
		Output        map[string]string `json:"output"`
		Throttled     bool              `json:"throttled"`
		ExecutionTime *time.Time        `json:"execution_time,omitempty"`
		Error         string            `json:"error,omitempty"`
	}{r.ActionID, r.ActionName, r.Output, r.Throttled, r.ExecutionTime, errString(r.Err)})
}

// TriggerRunResult is the outcome of evaluating one trigger and dispatching
// its actions.
type TriggerRunResult struct {
	TriggerName   string
	Triggered     bool
	Err           error
	ActionResults map[string]ActionRunResult
}

// AlertError converts a trigger evaluation failure into an alert history
// entry, or nil when the trigger evaluated cleanly.
func (r TriggerRunResult) AlertError(now time.Time) *AlertError {
	if r.Err == nil {
		return nil
	}
	return &AlertError{Timestamp: now, Message: "Error evaluating trigger: " + r.Err.Error()}
}

// MarshalJSON flattens the error into a message string.
func (r TriggerRunResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TriggerName   string                     `json:"trigger_name"`
		Triggered     bool                       `json:"triggered"`
		Error         string                     `json:"error,omitempty"`
		ActionResults map[string]ActionRunResult `json:"action_results"`
	}{r.TriggerName, r.Triggered, errString(r.Err), r.ActionResults})
}

// MonitorRunResult aggregates everything that happened during one run of a
// monitor.
type MonitorRunResult struct {
	MonitorName    string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Err            error
	InputResults   InputRunResults
	TriggerResults map[string]TriggerRunResult
}

// AlertError converts a monitor-level or input-level failure into an alert
// history entry. Monitor-level failures win over input-level ones.
func (r *MonitorRunResult) AlertError(now time.Time) *AlertError {
	if r.Err != nil {
		return &AlertError{Timestamp: now, Message: "Error running monitor: " + r.Err.Error()}
	}
	if r.InputResults.Err != nil {
		return &AlertError{Timestamp: now, Message: "Error fetching inputs: " + r.InputResults.Err.Error()}
	}
	return nil
}

// ContextError returns the error visible to a trigger's execution context:
// the monitor error, else the input error, else the trigger's own error.
func (r *MonitorRunResult) ContextError(tr TriggerRunResult) error {
	if r.Err != nil {
		return r.Err
	}
	if r.InputResults.Err != nil {
		return r.InputResults.Err
	}
	return tr.Err
}

// MarshalJSON flattens the error into a message string.
func (r MonitorRunResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MonitorName    string                      `json:"monitor_name"`
		PeriodStart    time.Time                   `json:"period_start"`
		PeriodEnd      time.Time                   `json:"period_end"`
		Error          string                      `json:"error,omitempty"`
		InputResults   InputRunResults             `json:"input_results"`
		TriggerResults map[string]TriggerRunResult `json:"trigger_results"`
	}{r.MonitorName, r.PeriodStart, r.PeriodEnd, errString(r.Err), r.InputResults, r.TriggerResults})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
