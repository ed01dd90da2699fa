/*
scheduler.go - Automated penalty lifecycle scheduler

PURPOSE:
  Drives the penalty lifecycle on a cron schedule: a frequent tick (warn,
  create, escalate) and a daily audit that creates any penalty a missed
  tick left behind. Operators can run any task on demand via RunNow.

DESIGN:
  - robfig/cron with Recover so a panicking job never kills the process
  - SkipIfStillRunning so a slow tick is never stacked
  - Every execution is recorded as a SchedulerRun for audit and UI display
  - Cron jobs and RunNow share one mutex; sweeps never overlap

TASKS:
  tick         Lifecycle.Tick
  audit        Lifecycle.Audit
  warnings     Lifecycle.SendWarnings
  penalties    Lifecycle.CreatePenalties
  escalations  Lifecycle.EscalatePenalties
  generate     Generator.GenerateAll

USAGE:
  s, err := NewPenaltyScheduler(life, gen, store, clock, logger, "@every 1h", "0 3 * * *")
  s.Start()
  // ... later
  <-s.Stop().Done()

SEE ALSO:
  - billing/lifecycle.go: The sweeps
  - handlers.go: RunScheduler endpoint
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

// Task names a scheduler job.
type Task string

const (
	TaskTick        Task = "tick"
	TaskAudit       Task = "audit"
	TaskWarnings    Task = "warnings"
	TaskPenalties   Task = "penalties"
	TaskEscalations Task = "escalations"
	TaskGenerate    Task = "generate"
)

// Tasks lists every task RunNow accepts.
var Tasks = []Task{TaskTick, TaskAudit, TaskWarnings, TaskPenalties, TaskEscalations, TaskGenerate}

// PenaltyScheduler runs lifecycle sweeps on a cron schedule.
type PenaltyScheduler struct {
	Lifecycle *billing.Lifecycle
	Generator *billing.Generator
	Runs      billing.RunStore
	Clock     generic.Clock
	Logger    *slog.Logger

	TickSchedule  string
	AuditSchedule string

	cron *cron.Cron
	mu   sync.Mutex
}

// NewPenaltyScheduler registers the tick and audit jobs. An empty schedule
// leaves that job unscheduled; it can still be run with RunNow.
func NewPenaltyScheduler(
	life *billing.Lifecycle,
	gen *billing.Generator,
	runs billing.RunStore,
	clock generic.Clock,
	logger *slog.Logger,
	tickSchedule, auditSchedule string,
) (*PenaltyScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))

	s := &PenaltyScheduler{
		Lifecycle:     life,
		Generator:     gen,
		Runs:          runs,
		Clock:         clock,
		Logger:        logger,
		TickSchedule:  tickSchedule,
		AuditSchedule: auditSchedule,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
	}

	if err := s.schedule(tickSchedule, TaskTick); err != nil {
		return nil, err
	}
	if err := s.schedule(auditSchedule, TaskAudit); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PenaltyScheduler) schedule(expr string, task Task) error {
	if expr == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(expr, func() { s.runScheduled(task) }); err != nil {
		return &generic.ValidationError{Field: string(task) + "_schedule", Reason: err.Error()}
	}
	s.Logger.Info("scheduled job", "task", task, "schedule", expr)
	return nil
}

func (s *PenaltyScheduler) runScheduled(task Task) {
	if _, err := s.RunNow(context.Background(), task); err != nil {
		s.Logger.Error("scheduled job failed", "task", task, "error", err)
	}
}

// Start begins firing scheduled jobs.
func (s *PenaltyScheduler) Start() {
	s.cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop stops the cron scheduler. The returned context is done once
// running jobs have finished.
func (s *PenaltyScheduler) Stop() context.Context {
	s.Logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// NextRuns reports the next fire time of each scheduled job.
func (s *PenaltyScheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// =============================================================================
// EXECUTION
// =============================================================================

// RunNow executes task immediately and records the run. The returned run
// is recorded even if the task fails.
func (s *PenaltyScheduler) RunNow(ctx context.Context, task Task) (*billing.SchedulerRun, error) {
	exec, err := s.executor(task)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run := billing.SchedulerRun{
		ID:        uuid.NewString(),
		Task:      string(task),
		Status:    billing.RunRunning,
		StartedAt: s.Clock.Now(),
	}
	if err := s.Runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	s.Logger.Info("run started", "run_id", run.ID, "task", task)

	processed, skipped, failed, runErr := exec(ctx, s.Clock.Now())

	completed := s.Clock.Now()
	run.CompletedAt = &completed
	run.Processed, run.Skipped, run.Failed = processed, skipped, failed
	run.Status = billing.RunCompleted
	if runErr != nil {
		run.Status = billing.RunFailed
		run.Error = runErr.Error()
	}

	// The sweep may have been cancelled; the record must still land.
	if err := s.Runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		s.Logger.Error("failed to record run result", "run_id", run.ID, "error", err)
	}
	s.Logger.Info("run finished",
		"run_id", run.ID, "task", task, "status", run.Status,
		"processed", processed, "skipped", skipped, "failed", failed)
	return &run, runErr
}

type executor func(ctx context.Context, now time.Time) (processed, skipped, failed int, err error)

func (s *PenaltyScheduler) executor(task Task) (executor, error) {
	sweep := func(fn func(context.Context, time.Time) (billing.SweepResult, error)) executor {
		return func(ctx context.Context, now time.Time) (int, int, int, error) {
			res, err := fn(ctx, now)
			return res.Processed(), res.Skipped, res.Failed, err
		}
	}

	switch task {
	case TaskTick:
		return sweep(s.Lifecycle.Tick), nil
	case TaskAudit:
		return sweep(s.Lifecycle.Audit), nil
	case TaskWarnings:
		return sweep(s.Lifecycle.SendWarnings), nil
	case TaskPenalties:
		return sweep(s.Lifecycle.CreatePenalties), nil
	case TaskEscalations:
		return sweep(s.Lifecycle.EscalatePenalties), nil
	case TaskGenerate:
		if s.Generator == nil {
			break
		}
		return func(ctx context.Context, _ time.Time) (int, int, int, error) {
			res, err := s.Generator.GenerateAll(ctx)
			if res == nil {
				return 0, 0, 0, err
			}
			return len(res.Generated), res.Skipped, res.Failed, err
		}, nil
	}
	return nil, &generic.ValidationError{Field: "task", Reason: fmt.Sprintf("unknown task %q", task)}
}
