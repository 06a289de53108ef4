// Package schedule drives periodic monitor execution in-process: it lists
// enabled monitors, tracks each monitor's next due time, and hands due
// monitors to the runner with the period since their last completed run.
package schedule

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/model"
)

// JobRunner receives due monitors. The runner implements it.
type JobRunner interface {
	RunJob(job any, periodStart, periodEnd time.Time) error
}

// MonitorLister lists the monitors to schedule. The monitor store implements
// it.
type MonitorLister interface {
	ListEnabled(ctx context.Context) ([]*model.Monitor, error)
}

// Config holds scheduler tuning.
type Config struct {
	// PollInterval is how often the monitor list is refreshed.
	PollInterval time.Duration

	// Resolution is the due-check granularity. Monitors never fire more
	// precisely than this.
	Resolution time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = time.Minute
	}
	if c.Resolution == 0 {
		c.Resolution = time.Second
	}
}

// entry is the per-monitor schedule state.
type entry struct {
	monitor  *model.Monitor
	interval time.Duration

	nextRun time.Time
	lastEnd time.Time // zero until the first fire
}

// Scheduler fires monitors on their intervals. It is single-goroutine: Run
// owns all entry state, so no locking is needed.
type Scheduler struct {
	monitors MonitorLister
	jobs     JobRunner
	config   Config
	logger   *logrus.Logger

	now    func() time.Time
	jitter func(time.Duration) time.Duration

	entries map[string]*entry
}

// New creates a scheduler.
func New(monitors MonitorLister, jobs JobRunner, config Config, logger *logrus.Logger) *Scheduler {
	config.setDefaults()
	return &Scheduler{
		monitors: monitors,
		jobs:     jobs,
		config:   config,
		logger:   logger,
		now:      time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
		entries: map[string]*entry{},
	}
}

// Run blocks until ctx is cancelled. The monitor list is refreshed every
// poll interval; due monitors fire on every resolution tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.refresh(ctx)

	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()
	tick := time.NewTicker(s.config.Resolution)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			s.refresh(ctx)
		case <-tick.C:
			s.fireDue()
		}
	}
}

// refresh reconciles the entry set against the config index. Known monitors
// keep their schedule state across revisions; new monitors get a jittered
// first fire so a restart does not run everything at once.
func (s *Scheduler) refresh(ctx context.Context) {
	monitors, err := s.monitors.ListEnabled(ctx)
	if err != nil {
		s.logger.WithError(err).Error("listing monitors failed, keeping current schedule")
		return
	}

	seen := make(map[string]bool, len(monitors))
	for _, m := range monitors {
		seen[m.ID] = true
		interval, err := m.Schedule.Period.Duration()
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"monitor_id":   m.ID,
				"monitor_name": m.Name,
			}).WithError(err).Warn("monitor has an invalid schedule, skipping")
			delete(s.entries, m.ID)
			continue
		}

		if e, ok := s.entries[m.ID]; ok {
			e.monitor = m
			if e.interval != interval {
				e.interval = interval
				e.nextRun = s.now().Add(interval)
			}
			continue
		}
		s.entries[m.ID] = &entry{
			monitor:  m,
			interval: interval,
			nextRun:  s.now().Add(s.jitter(interval)),
		}
	}

	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}
}

// fireDue hands every due monitor to the runner. The period starts where the
// previous one ended so no time is skipped; the first fire covers one
// interval back.
func (s *Scheduler) fireDue() {
	now := s.now()
	for _, e := range s.entries {
		if now.Before(e.nextRun) {
			continue
		}

		periodStart := e.lastEnd
		if periodStart.IsZero() {
			periodStart = now.Add(-e.interval)
		}
		if err := s.jobs.RunJob(e.monitor, periodStart, now); err != nil {
			s.logger.WithFields(logrus.Fields{
				"monitor_id":   e.monitor.ID,
				"monitor_name": e.monitor.Name,
			}).WithError(err).Error("scheduling monitor run failed")
			continue
		}
		e.lastEnd = now
		e.nextRun = now.Add(e.interval)
	}
}
