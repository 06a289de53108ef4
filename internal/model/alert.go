package model

import (
	"time"
)

// State is the lifecycle state of an alert.
type State string

// Alert lifecycle states. The runner only ever writes ACTIVE, ERROR, and
// COMPLETED; ACKNOWLEDGED is set by users out-of-band and DELETED only
// appears on history copies written by the alert mover.
const (
	StateActive       State = "ACTIVE"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateCompleted    State = "COMPLETED"
	StateError        State = "ERROR"
	StateDeleted      State = "DELETED"
)

// AlertSchemaVersion is stamped on every alert the composer produces.
const AlertSchemaVersion = 3

// MaxErrorHistory bounds the per-alert error history.
const MaxErrorHistory = 10

// Alert is the durable record of a trigger's firing state. Identity across
// runs is the (monitor id, trigger id) pair; the document id is assigned by
// the cluster on first insert.
type Alert struct {
	ID      string `json:"id,omitempty"`
	Version int64  `json:"version,omitempty"`

	MonitorID      string `json:"monitor_id"`
	MonitorName    string `json:"monitor_name"`
	MonitorVersion int64  `json:"monitor_version"`
	TriggerID      string `json:"trigger_id"`
	TriggerName    string `json:"trigger_name"`
	Severity       string `json:"severity"`

	State            State      `json:"state"`
	StartTime        time.Time  `json:"start_time"`
	LastNotification *time.Time `json:"last_notification_time,omitempty"`
	AcknowledgedTime *time.Time `json:"acknowledged_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`

	ErrorMessage string       `json:"error_message,omitempty"`
	ErrorHistory []AlertError `json:"alert_history,omitempty"`

	ActionResults []ActionExecutionResult `json:"action_execution_results,omitempty"`

	SchemaVersion int `json:"schema_version"`
}

// AlertError is one entry of an alert's error history.
type AlertError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ActionExecutionResult records when an action last ran for an alert and how
// often it has been throttled since.
type ActionExecutionResult struct {
	ActionID          string     `json:"action_id"`
	LastExecutionTime *time.Time `json:"last_execution_time,omitempty"`
	ThrottledCount    int        `json:"throttled_count"`
}

// IsAcknowledged reports whether a user has acknowledged the alert.
func (a *Alert) IsAcknowledged() bool {
	return a.State == StateAcknowledged
}

// ActionResult returns the execution record for the given action id, or nil.
func (a *Alert) ActionResult(actionID string) *ActionExecutionResult {
	for i := range a.ActionResults {
		if a.ActionResults[i].ActionID == actionID {
			return &a.ActionResults[i]
		}
	}
	return nil
}

// LastActionExecution returns when the given action last actually ran for
// this alert, or nil if it never has.
func (a *Alert) LastActionExecution(actionID string) *time.Time {
	if r := a.ActionResult(actionID); r != nil {
		return r.LastExecutionTime
	}
	return nil
}
