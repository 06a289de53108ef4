// Package action dispatches trigger actions: it decides actionability under
// acknowledgement and throttling, renders the subject and message templates,
// and publishes through the destination layer. Action failures are recorded
// on the run result and never change alert state.
package action

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/destination"
	"github.com/forgelight/vigil/internal/metrics"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/settings"
	"github.com/forgelight/vigil/internal/trigger"
)

// DestinationGetter fetches a destination config by id. The store implements
// it; tests install fakes.
type DestinationGetter interface {
	Get(ctx context.Context, id string) (*destination.Destination, error)
}

// Publisher delivers a rendered message. The destination registry implements
// it; tests install fakes.
type Publisher interface {
	Publish(ctx context.Context, dest *destination.Destination, subject, message string, snap *settings.Snapshot) (string, error)
}

// Dispatcher runs the actions of a fired trigger.
type Dispatcher struct {
	destinations DestinationGetter
	publisher    Publisher
	logger       *logrus.Logger

	now func() time.Time
}

// NewDispatcher creates an action dispatcher.
func NewDispatcher(destinations DestinationGetter, publisher Publisher, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		destinations: destinations,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

// IsTriggerActionable reports whether a trigger's actions should run at all.
// An acknowledged alert suppresses actions unless the run carries a new
// error the user has not seen.
func IsTriggerActionable(ctx *trigger.Context, result model.TriggerRunResult) bool {
	if !result.Triggered {
		return false
	}
	acked := ctx.Alert != nil && ctx.Alert.IsAcknowledged()
	return !(acked && result.Err == nil && ctx.Err == nil)
}

// IsActionActionable applies the action's throttle against the prior alert.
// No prior alert, no throttle, or a disabled throttle always allows; else
// the action runs only when its last execution lies strictly before the
// start of the current throttle window.
func IsActionActionable(act model.Action, prior *model.Alert, now time.Time) bool {
	if prior == nil || act.Throttle == nil || !act.Throttle.Enabled {
		return true
	}
	last := prior.LastActionExecution(act.ID)
	if last == nil {
		return true
	}
	window, err := act.Throttle.Duration()
	if err != nil {
		// Unparsable throttles were rejected at validation; treat as no
		// throttle rather than silencing the action.
		return true
	}
	return last.Before(now.Add(-window))
}

// RunActions executes the trigger's actions in declaration order and returns
// the result per action id. Destination configs are fetched once per run.
func (d *Dispatcher) RunActions(ctx context.Context, tctx *trigger.Context, snap *settings.Snapshot, dryrun bool) map[string]model.ActionRunResult {
	results := make(map[string]model.ActionRunResult, len(tctx.Trigger.Actions))
	destCache := make(map[string]*destination.Destination)
	for _, act := range tctx.Trigger.Actions {
		results[act.ID] = d.runAction(ctx, act, tctx, snap, dryrun, destCache)
	}
	return results
}

func (d *Dispatcher) runAction(ctx context.Context, act model.Action, tctx *trigger.Context, snap *settings.Snapshot, dryrun bool, destCache map[string]*destination.Destination) model.ActionRunResult {
	result := model.ActionRunResult{
		ActionID:   act.ID,
		ActionName: act.Name,
		Output:     map[string]string{},
	}

	if !IsActionActionable(act, tctx.Alert, d.now()) {
		result.Throttled = true
		metrics.ActionsThrottledTotal.Inc()
		return result
	}

	now := d.now()
	result.ExecutionTime = &now

	subject, message, err := d.render(act, tctx)
	if err != nil {
		result.Err = err
		return result
	}
	result.Output["subject"] = subject
	result.Output["message"] = message

	// Dryrun previews the rendered output without touching the destination.
	if dryrun {
		return result
	}

	messageID, err := d.publish(ctx, act, subject, message, snap, destCache)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"monitor_id": tctx.Monitor.ID,
			"trigger_id": tctx.Trigger.ID,
			"action_id":  act.ID,
		}).WithError(err).Error("action publish failed")
		result.Err = err
		return result
	}
	result.Output["message_id"] = messageID
	return result
}

func (d *Dispatcher) render(act model.Action, tctx *trigger.Context) (subject, message string, err error) {
	params := map[string]any{
		"ctx":          tctx.TemplateArgs(),
		"period_start": tctx.PeriodStart.UnixMilli(),
		"period_end":   tctx.PeriodEnd.UnixMilli(),
	}

	if act.SubjectTemplate != "" {
		subject, err = renderTemplate("subject", act.SubjectTemplate, params)
		if err != nil {
			return "", "", err
		}
	}
	message, err = renderTemplate("message", act.MessageTemplate, params)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", "", fmt.Errorf("Message content missing in the Destination with name: %s", act.Name)
	}
	return subject, message, nil
}

func (d *Dispatcher) publish(ctx context.Context, act model.Action, subject, message string, snap *settings.Snapshot, destCache map[string]*destination.Destination) (string, error) {
	dest, ok := destCache[act.DestinationID]
	if !ok {
		var err error
		dest, err = d.destinations.Get(ctx, act.DestinationID)
		if err != nil {
			return "", err
		}
		destCache[act.DestinationID] = dest
	}

	if !snap.TypeAllowed(dest.Type) {
		return "", fmt.Errorf("destination type %q is not allowed: check destination.allow.list", dest.Type)
	}
	return d.publisher.Publish(ctx, dest, subject, message, snap)
}

func renderTemplate(name, text string, params map[string]any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("compile %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
