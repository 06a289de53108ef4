// Package trigger evaluates monitor trigger conditions over collected input
// results. Conditions are boolean expressions compiled and run with
// expr-lang against the trigger execution context.
package trigger

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"

	"github.com/forgelight/vigil/internal/model"
)

// Context is everything a trigger condition (and later the action
// templates) can see about the current run.
type Context struct {
	Monitor     *model.Monitor
	Trigger     model.Trigger
	Results     []map[string]any
	PeriodStart time.Time
	PeriodEnd   time.Time

	// Alert is the current alert for this trigger, nil when none exists.
	Alert *model.Alert

	// Err is the monitor- or input-level error visible to this trigger,
	// nil when the run is clean so far.
	Err error
}

// TemplateArgs renders the context as the nested map exposed to condition
// expressions and message templates under the "ctx" key.
func (c *Context) TemplateArgs() map[string]any {
	args := map[string]any{
		"monitor": map[string]any{
			"id":      c.Monitor.ID,
			"name":    c.Monitor.Name,
			"enabled": c.Monitor.Enabled,
		},
		"trigger": map[string]any{
			"id":       c.Trigger.ID,
			"name":     c.Trigger.Name,
			"severity": c.Trigger.Severity,
		},
		"results":     c.Results,
		"periodStart": c.PeriodStart,
		"periodEnd":   c.PeriodEnd,
		"alert":       nil,
		"error":       nil,
	}
	if c.Alert != nil {
		args["alert"] = map[string]any{
			"id":            c.Alert.ID,
			"state":         string(c.Alert.State),
			"error_message": c.Alert.ErrorMessage,
		}
	}
	if c.Err != nil {
		args["error"] = c.Err.Error()
	}
	return args
}

// Env is the expression environment: the context under "ctx" plus the
// condition's own params.
func (c *Context) Env() map[string]any {
	params := c.Trigger.Condition.Params
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"ctx":    c.TemplateArgs(),
		"params": params,
	}
}

// Evaluate runs the trigger's condition. A compilation or execution failure
// forces triggered=true with the error captured, so the failure becomes an
// ERROR alert instead of silently suppressing the trigger.
func Evaluate(tr model.Trigger, ctx *Context) model.TriggerRunResult {
	result := model.TriggerRunResult{
		TriggerName:   tr.Name,
		ActionResults: map[string]model.ActionRunResult{},
	}

	env := ctx.Env()
	program, err := expr.Compile(tr.Condition.Source, expr.Env(env), expr.AsBool())
	if err != nil {
		result.Triggered = true
		result.Err = fmt.Errorf("compile condition: %w", err)
		return result
	}

	out, err := expr.Run(program, env)
	if err != nil {
		result.Triggered = true
		result.Err = fmt.Errorf("run condition: %w", err)
		return result
	}

	triggered, ok := out.(bool)
	if !ok {
		result.Triggered = true
		result.Err = fmt.Errorf("condition returned %T, want bool", out)
		return result
	}

	result.Triggered = triggered
	return result
}

// CheckSyntax compiles the condition against an empty context. Used by
// monitor validation before anything runs.
func CheckSyntax(m *model.Monitor, tr model.Trigger) error {
	ctx := &Context{Monitor: m, Trigger: tr}
	_, err := expr.Compile(tr.Condition.Source, expr.Env(ctx.Env()), expr.AsBool())
	if err != nil {
		return fmt.Errorf("trigger %q: %w", tr.Name, err)
	}
	return nil
}
