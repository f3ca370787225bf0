package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/agent"
)

// runner is the part of Controller the scheduler drives.
type runner interface {
	Configs() []agent.Config
	Execute(ctx context.Context, in Input) *Result
	ExecuteBySchedule(ctx context.Context, cadence string) []*Result
}

var cadenceSpecs = map[string]string{
	Hourly: "@hourly",
	Daily:  "@daily",
	Weekly: "@weekly",
}

// ScheduledJob describes one registered cron entry.
type ScheduledJob struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler runs agents on their configured schedules. Named cadences fan out
// through ExecuteBySchedule; agents with a cron expression get their own entry.
type Scheduler struct {
	cron    *cron.Cron
	runner  runner
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	names map[cron.EntryID]string
	specs map[cron.EntryID]string
}

// NewScheduler creates a scheduler over c. timeout bounds each scheduled run;
// zero means no bound.
func NewScheduler(c *Controller, timeout time.Duration, logger *zap.Logger) *Scheduler {
	return newScheduler(c, timeout, logger)
}

func newScheduler(r runner, timeout time.Duration, logger *zap.Logger) *Scheduler {
	logger = logger.With(zap.String("component", "scheduler"))
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		runner:  r,
		timeout: timeout,
		logger:  logger,
		names:   make(map[cron.EntryID]string),
		specs:   make(map[cron.EntryID]string),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if err := s.register(); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop stops the cron loop. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) register() error {
	used := make(map[string]bool)
	custom := make(map[string][]agent.Type)
	for _, cfg := range s.runner.Configs() {
		if !cfg.Enabled || cfg.Schedule == "" {
			continue
		}
		if _, ok := cadenceSpecs[cfg.Schedule]; ok {
			used[cfg.Schedule] = true
			continue
		}
		custom[cfg.Schedule] = append(custom[cfg.Schedule], cfg.Type)
	}

	for _, cadence := range Cadences {
		if !used[cadence] {
			continue
		}
		if err := s.add(cadence, cadenceSpecs[cadence], func(ctx context.Context) {
			s.logResults(cadence, s.runner.ExecuteBySchedule(ctx, cadence))
		}); err != nil {
			return err
		}
	}

	specs := make([]string, 0, len(custom))
	for spec := range custom {
		specs = append(specs, spec)
	}
	sort.Strings(specs)
	for _, spec := range specs {
		for _, t := range custom[spec] {
			if err := s.add(string(t), spec, func(ctx context.Context) {
				s.logResults(string(t), []*Result{s.runner.Execute(ctx, Input{AgentType: t})})
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) add(name, spec string, run func(ctx context.Context)) error {
	id, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		s.logger.Info("scheduled run started", zap.String("job", name))
		run(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", name, spec, err)
	}
	s.mu.Lock()
	s.names[id] = name
	s.specs[id] = spec
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) logResults(job string, results []*Result) {
	ok, failed := Summary(results)
	s.logger.Info("scheduled run finished",
		zap.String("job", job),
		zap.Int("succeeded", len(ok)),
		zap.Int("failed", len(failed)))
	for _, r := range results {
		if !r.Success {
			s.logger.Warn("scheduled agent failed", zap.String("agent", string(r.AgentType)), zap.String("error", r.Error))
		}
	}
}

// Jobs lists the registered entries.
func (s *Scheduler) Jobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScheduledJob
	for _, e := range s.cron.Entries() {
		out = append(out, ScheduledJob{Name: s.names[e.ID], Spec: s.specs[e.ID], Next: e.Next, Prev: e.Prev})
	}
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
