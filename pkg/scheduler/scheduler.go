// Package scheduler fires the PipelineOrchestrator on a cron schedule and
// exposes a manual-trigger entrypoint (§4.9/§6), replacing the original
// source's AsyncIOScheduler + CronTrigger pairing with robfig/cron's
// equivalent in-process cron runner.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/pkg/orchestrator"
)

// Runner is the subset of *orchestrator.Orchestrator the scheduler drives.
type Runner interface {
	TriggerAsync(ctx context.Context, runID, trigger string, timeout time.Duration, onComplete func(orchestrator.RunSummary, error)) bool
	Stop()
}

// TriggerResult is what a manual trigger call reports back, mirroring the
// "running_in_background" / "already_running" wire values named in §8
// scenario 5.
type TriggerResult string

const (
	TriggerRunningInBackground TriggerResult = "running_in_background"
	TriggerAlreadyRunning      TriggerResult = "already_running"
)

const (
	triggerScheduled = "scheduled"
	triggerManual    = "manual"
)

// Scheduler owns the cron job registration and the manual-trigger
// entrypoint; both ultimately dispatch through Runner.TriggerAsync so
// neither the cron dispatch loop nor an HTTP handler calling Trigger ever
// blocks on a multi-minute pipeline run.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	log    *logrus.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// New builds a Scheduler bound to runner, not yet started.
func New(runner Runner, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		log:    log,
	}
}

// Start registers spec (a standard 5-field cron expression, e.g. the
// SCHEDULE_CRON config value) and begins the cron dispatch loop. Calling
// Start twice replaces the previously registered schedule.
func (s *Scheduler) Start(spec string) error {
	entryID, err := s.cron.AddFunc(spec, s.fireScheduled)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.started {
		s.cron.Remove(s.entryID)
	}
	s.entryID = entryID
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	return nil
}

// Stop halts the cron dispatch loop and requests cancellation of any
// in-flight run (§5 "the scheduler exposes a stop operation").
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.runner.Stop()
}

func (s *Scheduler) fireScheduled() {
	runID := uuid.NewString()
	s.log.WithField("run_id", runID).Info("scheduler: firing scheduled pipeline run")
	accepted := s.runner.TriggerAsync(context.Background(), runID, triggerScheduled, 0, s.logCompletion(runID))
	if !accepted {
		s.log.WithField("run_id", runID).Warn("scheduler: scheduled fire skipped, a run is already active")
	}
}

// Trigger starts a manual run in the background and returns immediately
// with either TriggerRunningInBackground (a new run was dispatched) or
// TriggerAlreadyRunning (a run — scheduled or manual — was already
// active), per §8 scenario 5. timeout overrides the default wall-clock cap
// when non-zero.
func (s *Scheduler) Trigger(ctx context.Context, timeout time.Duration) (TriggerResult, string) {
	runID := uuid.NewString()
	accepted := s.runner.TriggerAsync(ctx, runID, triggerManual, timeout, s.logCompletion(runID))
	if !accepted {
		return TriggerAlreadyRunning, runID
	}
	return TriggerRunningInBackground, runID
}

func (s *Scheduler) logCompletion(runID string) func(orchestrator.RunSummary, error) {
	return func(summary orchestrator.RunSummary, err error) {
		entry := s.log.WithField("run_id", runID).WithField("status", summary.Status)
		if err != nil {
			entry.WithError(err).Warn("scheduler: run finished with an error")
			return
		}
		entry.Info("scheduler: run finished")
	}
}
