// Package runner orchestrates monitor execution: it wires the input
// collector, trigger evaluator, action dispatcher, alert composer, and
// alert store into the per-invocation pipeline, and owns the supervisory
// scope the scheduler callbacks run under.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/action"
	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/compose"
	"github.com/forgelight/vigil/internal/input"
	"github.com/forgelight/vigil/internal/metrics"
	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/retry"
	"github.com/forgelight/vigil/internal/settings"
	"github.com/forgelight/vigil/internal/store"
	"github.com/forgelight/vigil/internal/trigger"
)

// Runner executes monitors. It is long-lived: Start creates the supervisory
// scope the scheduler callbacks spawn children under, Stop cancels it and
// waits for in-flight runs to reach their next suspension point.
type Runner struct {
	client     *cluster.Client
	alerts     *store.AlertStore
	collector  *input.Collector
	dispatcher *action.Dispatcher
	holder     *settings.Holder
	logger     *logrus.Logger

	now func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor runner.
func New(client *cluster.Client, alerts *store.AlertStore, collector *input.Collector, dispatcher *action.Dispatcher, holder *settings.Holder, logger *logrus.Logger) *Runner {
	return &Runner{
		client:     client,
		alerts:     alerts,
		collector:  collector,
		dispatcher: dispatcher,
		holder:     holder,
		logger:     logger,
		now:        time.Now,
	}
}

// Start creates the supervisor scope. Callbacks before Start are rejected.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
}

// Stop cancels all in-flight runs and waits for them to finish. Publishes
// that already happened are not compensated; persistence is best-effort.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.ctx, r.cancel = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// spawn runs fn as a child of the supervisor. Child failures are isolated:
// they are logged and never cancel siblings.
func (r *Runner) spawn(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	ctx := r.ctx
	if ctx == nil {
		r.mu.Unlock()
		return fmt.Errorf("runner is not started")
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.WithField("task", name).Errorf("task panicked: %v", p)
			}
		}()
		fn(ctx)
	}()
	return nil
}

// RunJob is the scheduler callback. Only monitor jobs are accepted; any
// other job type is a programmer error on the caller's side.
func (r *Runner) RunJob(job any, periodStart, periodEnd time.Time) error {
	monitor, ok := job.(*model.Monitor)
	if !ok {
		return fmt.Errorf("invalid job type %T, expected a monitor", job)
	}
	return r.spawn("run "+monitor.ID, func(ctx context.Context) {
		r.RunMonitor(ctx, monitor, periodStart, periodEnd, false)
	})
}

// PostIndex is invoked after a monitor document is written. Alerts of
// triggers the new revision no longer declares move to history under the
// exponential policy. Errors are logged, never propagated.
func (r *Runner) PostIndex(monitor *model.Monitor) {
	err := r.spawn("move alerts "+monitor.ID, func(ctx context.Context) {
		snap := r.holder.Current()
		err := snap.MoveAlertsBackoff.Do(ctx, retry.Any, func(ctx context.Context) error {
			return r.alerts.MoveAlerts(ctx, monitor.ID, monitor)
		})
		if err != nil {
			r.logger.WithField("monitor_id", monitor.ID).WithError(err).Error("move alerts after monitor index failed")
		}
	})
	if err != nil {
		r.logger.WithField("monitor_id", monitor.ID).WithError(err).Error("move alerts not scheduled")
	}
}

// PostDelete is invoked after a monitor document is deleted; every live
// alert of the monitor moves to history.
func (r *Runner) PostDelete(monitorID string) {
	err := r.spawn("move alerts "+monitorID, func(ctx context.Context) {
		snap := r.holder.Current()
		err := snap.MoveAlertsBackoff.Do(ctx, retry.Any, func(ctx context.Context) error {
			return r.alerts.MoveAlerts(ctx, monitorID, nil)
		})
		if err != nil {
			r.logger.WithField("monitor_id", monitorID).WithError(err).Error("move alerts after monitor delete failed")
		}
	})
	if err != nil {
		r.logger.WithField("monitor_id", monitorID).WithError(err).Error("move alerts not scheduled")
	}
}

// RunMonitor executes one monitor invocation. The settings snapshot is
// taken once up front; reloads during the run do not affect it. Dryrun
// renders actions without publishing and skips persistence entirely.
func (r *Runner) RunMonitor(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time, dryrun bool) model.MonitorRunResult {
	started := r.now()
	log := r.logger.WithFields(logrus.Fields{
		"monitor_id":   monitor.ID,
		"monitor_name": monitor.Name,
	})

	result := model.MonitorRunResult{
		MonitorName:    monitor.Name,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TriggerResults: map[string]model.TriggerRunResult{},
	}
	if periodStart.Equal(periodEnd) {
		log.Warn("start and end time are the same, likely a one-shot execution")
	}

	snap := r.holder.Current()

	// A failure to reach the alert index means the current alerts are
	// unknown; writing anything could clobber live ACTIVE alerts, so the
	// run aborts with only the error recorded.
	currentAlerts, err := r.loadCurrentAlerts(ctx, monitor)
	if err != nil {
		log.WithError(err).Error("monitor run aborted")
		result.Err = err
		metrics.MonitorRunsTotal.WithLabelValues("error").Inc()
		return result
	}

	result.InputResults = r.collector.Collect(ctx, monitor, periodStart, periodEnd)

	var updatedAlerts []*model.Alert
	now := r.now()
	for _, tr := range monitor.Triggers {
		tctx := &trigger.Context{
			Monitor:     monitor,
			Trigger:     tr,
			Results:     result.InputResults.Results,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			Alert:       currentAlerts[tr.ID],
			Err:         result.ContextError(model.TriggerRunResult{}),
		}

		triggerResult := trigger.Evaluate(tr, tctx)
		if triggerResult.Triggered {
			metrics.TriggersFiredTotal.Inc()
		}
		tctx.Err = result.ContextError(triggerResult)

		if action.IsTriggerActionable(tctx, triggerResult) {
			triggerResult.ActionResults = r.dispatcher.RunActions(ctx, tctx, snap, dryrun)
		}
		result.TriggerResults[tr.ID] = triggerResult

		alertErr := result.AlertError(now)
		if alertErr == nil {
			alertErr = triggerResult.AlertError(now)
		}
		if next := compose.NextAlert(tctx, triggerResult, alertErr, now); next != nil {
			metrics.AlertsComposedTotal.WithLabelValues(string(next.State)).Inc()
			updatedAlerts = append(updatedAlerts, next)
		}
	}

	if !dryrun && monitor.ID != model.NoID {
		if err := r.alerts.Save(ctx, updatedAlerts, snap); err != nil {
			log.WithError(err).Error("saving alerts failed")
			result.Err = err
		}
	}

	outcome := "ok"
	if result.Err != nil {
		outcome = "error"
	}
	metrics.MonitorRunsTotal.WithLabelValues(outcome).Inc()
	metrics.MonitorRunDuration.Observe(time.Since(started).Seconds())
	log.WithField("duration", time.Since(started)).Debug("monitor run finished")
	return result
}

func (r *Runner) loadCurrentAlerts(ctx context.Context, monitor *model.Monitor) (map[string]*model.Alert, error) {
	if err := store.EnsureIndices(ctx, r.client); err != nil {
		return nil, fmt.Errorf("ensure alert indices: %w", err)
	}
	return r.alerts.LoadCurrentAlerts(ctx, monitor)
}
