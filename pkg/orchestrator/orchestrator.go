// Package orchestrator runs the six-phase pipeline (§4.9): capability
// refresh, event fetch, pattern detection, feature+synergy analysis,
// suggestion generation, and notify+job-history. It owns the single-run
// mutex, the cancellation token, and the slow-phase timing warnings; every
// external collaborator is injected so the pipeline can be driven against
// fakes in tests.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
	"github.com/homelab-ai/smarthome-analyzer/pkg/capability"
	"github.com/homelab-ai/smarthome-analyzer/pkg/eventstore"
	"github.com/homelab-ai/smarthome-analyzer/pkg/features"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
	"github.com/homelab-ai/smarthome-analyzer/pkg/patterns"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest"
	"github.com/homelab-ai/smarthome-analyzer/pkg/synergy"
)

// RunStatus is the terminal outcome recorded for one pipeline run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusNoData    RunStatus = "no_data"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
)

const maxJobHistory = 30

// slowPhaseFactor is how many times a phase's historical median wall time
// it must exceed before a slow_phase warning is logged (§4.9).
const slowPhaseFactor = 3

// eventFetchLimit bounds phase 2's single fetch; the large-dataset sampling
// branch inside CoOccurrenceDetector is what actually keeps phase 3 bounded
// beyond this.
const eventFetchLimit = 200_000

// EventFetcher is the subset of eventstore.Client the orchestrator needs.
type EventFetcher interface {
	FetchEvents(ctx context.Context, from, to time.Time, filter eventstore.Filter, limit int) ([]model.Event, error)
}

// DeviceLister is the subset of registry.Client the orchestrator needs for
// phase 1 and phase 4.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]model.DeviceRecord, error)
	Recommendations(ctx context.Context, deviceID string) (any, error)
}

// CapabilityStore persists and looks up CapabilityRecords by device model,
// and reports which models need a phase-1 refresh.
type CapabilityStore interface {
	Lookup(deviceModel string) (model.CapabilityRecord, bool)
	Upsert(record model.CapabilityRecord)
	NeedsRefresh(devices []model.DeviceRecord, now time.Time) []model.DeviceRecord
}

// AutomationLister supplies the existing automations SynergyDetector needs
// to suppress already-implemented pairs.
type AutomationLister interface {
	ListAutomations(ctx context.Context) ([]model.Automation, error)
}

// PersistenceStore is the SuggestionStore+AggregateWriter surface the
// orchestrator writes through (§3 "Ownership").
type PersistenceStore interface {
	SavePatterns(ctx context.Context, patterns []model.Pattern) error
	SaveAggregates(ctx context.Context, aggregates []model.Aggregate) error
	SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error
}

// Notifier publishes the phase-6 "analysis complete" summary.
type Notifier interface {
	Publish(ctx context.Context, summary RunSummary) error
}

// RunSummary is what gets published and stored in job history.
type RunSummary struct {
	RunID             string
	Trigger           string // "scheduled" or "manual"
	Status            RunStatus
	StartedAt         time.Time
	FinishedAt        time.Time
	EventsCount       int
	PatternsCount     int
	OpportunityCount  int
	SuggestionsCount  int
	FailedLLMCalls    int64
	EstCostUSD        float64
	PhaseTimings      map[string]time.Duration
	Err               error
}

// Orchestrator runs the pipeline end to end, one run at a time. The
// generator already carries its own DeviceContextLookup (§4.7), so the
// orchestrator itself has no device-context collaborator of its own.
type Orchestrator struct {
	events      EventFetcher
	registry    DeviceLister
	capStore    CapabilityStore
	automations AutomationLister
	store       PersistenceStore
	notifier    Notifier
	generator   *suggest.Generator
	log         *logrus.Logger

	eventWindow    time.Duration
	concurrencyCap int
	defaultTimeout time.Duration

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc

	historyMu sync.Mutex
	history   []RunSummary

	medianMu sync.Mutex
	phaseDurations map[string][]time.Duration
}

// Config bundles the orchestrator's tunables.
type Config struct {
	EventWindow    time.Duration
	ConcurrencyCap int
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventWindow <= 0 {
		c.EventWindow = 30 * 24 * time.Hour
	}
	if c.ConcurrencyCap <= 0 {
		c.ConcurrencyCap = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	return c
}

// New builds an Orchestrator from its collaborators.
func New(
	events EventFetcher,
	registry DeviceLister,
	capStore CapabilityStore,
	automations AutomationLister,
	store PersistenceStore,
	notifier Notifier,
	generator *suggest.Generator,
	log *logrus.Logger,
	cfg Config,
) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		events: events, registry: registry, capStore: capStore, automations: automations,
		store: store, notifier: notifier, generator: generator, log: log,
		eventWindow: cfg.EventWindow, concurrencyCap: cfg.ConcurrencyCap, defaultTimeout: cfg.DefaultTimeout,
		phaseDurations: map[string][]time.Duration{},
	}
}

// Stop requests cancellation of the active run at its next suspension
// point, per §5. A no-op if no run is active.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	cancel := o.cancel
	o.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// History returns the bounded (≤30) in-memory job history, most recent last.
func (o *Orchestrator) History() []RunSummary {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	out := make([]RunSummary, len(o.history))
	copy(out, o.history)
	return out
}

// Run executes one pipeline pass and blocks until it finishes. trigger is
// "scheduled" or "manual"; timeout overrides the default wall-clock cap
// when non-zero. A run already in progress is rejected with a
// KindAlreadyRunning error and a zero RunSummary — the caller
// (scheduler/HTTP layer) is expected to report this as "already_running"
// without touching job history (§8 scenario 5).
func (o *Orchestrator) Run(ctx context.Context, runID, trigger string, timeout time.Duration) (RunSummary, error) {
	if !o.tryAcquire() {
		return RunSummary{}, apperrors.New(apperrors.KindAlreadyRunning, "pipeline run already in progress")
	}
	defer o.release()
	return o.execute(ctx, runID, trigger, timeout)
}

// TriggerAsync attempts to start a run in a background goroutine and
// returns immediately: true if a run was accepted and launched, false if
// one was already active (§8 scenario 5's "running_in_background" /
// "already_running" split) — the caller never blocks on the pipeline
// itself. onComplete, if non-nil, is invoked with the finished run's
// result from the background goroutine.
func (o *Orchestrator) TriggerAsync(ctx context.Context, runID, trigger string, timeout time.Duration, onComplete func(RunSummary, error)) bool {
	if !o.tryAcquire() {
		return false
	}
	go func() {
		defer o.release()
		summary, err := o.execute(ctx, runID, trigger, timeout)
		if onComplete != nil {
			onComplete(summary, err)
		}
	}()
	return true
}

// execute runs the six phases; the caller must already hold the run mutex
// (via tryAcquire) and is responsible for releasing it.
func (o *Orchestrator) execute(ctx context.Context, runID, trigger string, timeout time.Duration) (RunSummary, error) {
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	runCtx, cancelFn := context.WithCancel(runCtx)
	o.runMu.Lock()
	o.cancel = cancelFn
	o.runMu.Unlock()
	defer cancel()
	defer cancelFn()

	summary := RunSummary{
		RunID: runID, Trigger: trigger, StartedAt: time.Now(),
		PhaseTimings: map[string]time.Duration{},
	}

	devices, err := o.phase1CapabilityRefresh(runCtx, &summary)
	if err != nil {
		return o.finish(summary, StatusFailed, err)
	}
	if runCtx.Err() != nil {
		return o.finish(summary, StatusCancelled, runCtx.Err())
	}

	events, err := o.phase2EventFetch(runCtx, &summary)
	if err != nil {
		return o.finish(summary, StatusFailed, err)
	}
	summary.EventsCount = len(events)
	if len(events) == 0 {
		return o.finish(summary, StatusNoData, nil)
	}
	if runCtx.Err() != nil {
		return o.finish(summary, StatusCancelled, runCtx.Err())
	}

	pats, aggregates, err := o.phase3PatternDetection(runCtx, events, &summary)
	if err != nil {
		return o.finish(summary, StatusFailed, err)
	}
	summary.PatternsCount = len(pats)
	if runCtx.Err() != nil {
		return o.finish(summary, StatusCancelled, runCtx.Err())
	}

	featureOpps, synergyOpps, err := o.phase4FeatureSynergyAnalysis(runCtx, devices, events, &summary)
	if err != nil {
		return o.finish(summary, StatusFailed, err)
	}
	summary.OpportunityCount = len(featureOpps) + len(synergyOpps)
	if runCtx.Err() != nil {
		return o.finish(summary, StatusCancelled, runCtx.Err())
	}

	failedBefore := o.generator.FailedCalls()
	suggestions, err := o.phase5SuggestionGeneration(runCtx, pats, featureOpps, synergyOpps, &summary)
	if err != nil {
		return o.finish(summary, StatusFailed, err)
	}
	summary.SuggestionsCount = len(suggestions)
	summary.FailedLLMCalls = o.generator.FailedCalls() - failedBefore

	// Cancellation during the LLM phase (§8 scenario 6): the phase itself
	// lets in-flight calls finish and returns whatever it produced, so
	// patterns/aggregates computed above are already persisted; only the
	// terminal status reflects the cancellation.
	finalStatus := StatusCompleted
	var finalErr error
	if runCtx.Err() != nil {
		finalStatus = StatusCancelled
		finalErr = runCtx.Err()
	}

	o.phase6NotifyAndRecord(ctx, &summary, finalStatus)
	return o.finish(summary, finalStatus, finalErr)
}

func (o *Orchestrator) tryAcquire() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.runMu.Lock()
	o.running = false
	o.cancel = nil
	o.runMu.Unlock()
}

func (o *Orchestrator) finish(summary RunSummary, status RunStatus, err error) (RunSummary, error) {
	summary.Status = status
	summary.FinishedAt = time.Now()
	summary.Err = err
	o.appendHistory(summary)
	return summary, err
}

func (o *Orchestrator) appendHistory(summary RunSummary) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	o.history = append(o.history, summary)
	if len(o.history) > maxJobHistory {
		o.history = o.history[len(o.history)-maxJobHistory:]
	}
}

var tracer = otel.Tracer("smarthome-analyzer/orchestrator")

// timePhase runs fn inside a pipeline-phase span, records its wall time
// against name's historical median, and logs a slow_phase warning when it
// exceeds slowPhaseFactor× that median (§4.9).
func (o *Orchestrator) timePhase(ctx context.Context, name string, summary *RunSummary, fn func() error) error {
	_, span := tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	summary.PhaseTimings[name] = elapsed
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.medianMu.Lock()
	history := o.phaseDurations[name]
	median := medianOf(history)
	o.phaseDurations[name] = append(history, elapsed)
	if len(o.phaseDurations[name]) > 50 {
		o.phaseDurations[name] = o.phaseDurations[name][len(o.phaseDurations[name])-50:]
	}
	o.medianMu.Unlock()

	if median > 0 && elapsed > slowPhaseFactor*median {
		o.log.WithFields(logrus.Fields{"phase": name, "elapsed": elapsed, "median": median}).Warn("slow_phase")
	}
	return err
}

func medianOf(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// phase1CapabilityRefresh queries the registry, identifies stale/missing
// CapabilityRecords, parses their declarations, and upserts. Errors here
// never abort the run (§4.9 phase 1) — they're logged and skipped.
func (o *Orchestrator) phase1CapabilityRefresh(ctx context.Context, summary *RunSummary) ([]model.DeviceRecord, error) {
	var devices []model.DeviceRecord
	err := o.timePhase(ctx, "capability_refresh", summary, func() error {
		var err error
		devices, err = o.registry.ListDevices(ctx)
		if err != nil {
			o.log.WithError(err).Warn("capability refresh: listing devices failed, skipping phase")
			devices = nil
			return nil
		}

		stale := o.capStore.NeedsRefresh(devices, time.Now())
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.concurrencyCap)
		for _, d := range stale {
			d := d
			g.Go(func() error {
				raw, err := o.registry.Recommendations(gctx, d.DeviceID)
				if err != nil {
					o.log.WithField("device_id", d.DeviceID).WithError(err).Warn("capability refresh: recommendations fetch failed, skipping")
					return nil
				}
				exposes, err := capability.ExtractExposes(raw)
				if err != nil {
					o.log.WithField("device_id", d.DeviceID).WithError(err).Warn("capability refresh: exposes extraction failed, skipping")
					return nil
				}
				result := capability.Parse(exposes)
				o.capStore.Upsert(model.CapabilityRecord{
					DeviceModel:  d.Model,
					Manufacturer: d.Manufacturer,
					Capabilities: result.Capabilities,
					RawExposes:   raw,
					Source:       model.CapabilitySourceBridge,
					LastUpdated:  time.Now(),
				})
				return nil
			})
		}
		return g.Wait()
	})
	return devices, err
}

// phase2EventFetch pulls the configured event window (default 30 days).
func (o *Orchestrator) phase2EventFetch(ctx context.Context, summary *RunSummary) ([]model.Event, error) {
	var events []model.Event
	err := o.timePhase(ctx, "event_fetch", summary, func() error {
		now := time.Now()
		var err error
		events, err = o.events.FetchEvents(ctx, now.Add(-o.eventWindow), now, eventstore.Filter{}, eventFetchLimit)
		if err != nil {
			return fmt.Errorf("orchestrator: fetching events: %w", err)
		}
		return nil
	})
	return events, err
}

// phase3PatternDetection runs both detectors concurrently and persists
// their output.
func (o *Orchestrator) phase3PatternDetection(ctx context.Context, events []model.Event, summary *RunSummary) ([]model.Pattern, []model.Aggregate, error) {
	var timeOfDay, coOccurrence patterns.DetectResult
	err := o.timePhase(ctx, "pattern_detection", summary, func() error {
		g, _ := errgroup.WithContext(ctx)
		g.Go(func() error {
			timeOfDay = patterns.NewTimeOfDayDetector(patterns.TimeOfDayConfig{}).Detect(events)
			return nil
		})
		g.Go(func() error {
			coOccurrence = patterns.NewCoOccurrenceDetector(patterns.CoOccurrenceConfig{}).Detect(events)
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		all := append(append([]model.Pattern(nil), timeOfDay.Patterns...), coOccurrence.Patterns...)
		aggregates := append(append([]model.Aggregate(nil), timeOfDay.Aggregates...), coOccurrence.Aggregates...)
		if err := o.store.SavePatterns(ctx, all); err != nil {
			return fmt.Errorf("orchestrator: saving patterns: %w", err)
		}
		if err := o.store.SaveAggregates(ctx, aggregates); err != nil {
			return fmt.Errorf("orchestrator: saving aggregates: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	all := append(append([]model.Pattern(nil), timeOfDay.Patterns...), coOccurrence.Patterns...)
	aggregates := append(append([]model.Aggregate(nil), timeOfDay.Aggregates...), coOccurrence.Aggregates...)
	return all, aggregates, nil
}

// phase4FeatureSynergyAnalysis runs FeatureAnalyzer and SynergyDetector
// over the registry + capability store.
func (o *Orchestrator) phase4FeatureSynergyAnalysis(ctx context.Context, devices []model.DeviceRecord, events []model.Event, summary *RunSummary) ([]model.FeatureOpportunity, []model.SynergyOpportunity, error) {
	var featureOpps []model.FeatureOpportunity
	var synergyOpps []model.SynergyOpportunity
	err := o.timePhase(ctx, "feature_synergy_analysis", summary, func() error {
		automations, err := o.automations.ListAutomations(ctx)
		if err != nil {
			o.log.WithError(err).Warn("feature/synergy analysis: listing automations failed, skipping phase")
			return nil
		}

		g, _ := errgroup.WithContext(ctx)
		g.Go(func() error {
			featureOpps = features.NewAnalyzer(o.capStore.Lookup).Analyze(devices)
			return nil
		})
		g.Go(func() error {
			synergyOpps = synergy.NewDetector().Detect(devices, events, automations)
			return nil
		})
		return g.Wait()
	})
	return featureOpps, synergyOpps, err
}

// phase5SuggestionGeneration ranks patterns/opportunities, invokes the
// generator, and persists results. Cancellation mid-flight lets in-flight
// LLM calls complete (§5) — the generator returns whatever it finished.
func (o *Orchestrator) phase5SuggestionGeneration(ctx context.Context, pats []model.Pattern, featureOpps []model.FeatureOpportunity, synergyOpps []model.SynergyOpportunity, summary *RunSummary) ([]model.Suggestion, error) {
	var suggestions []model.Suggestion
	err := o.timePhase(ctx, "suggestion_generation", summary, func() error {
		var genErrs []error
		suggestions, genErrs = o.generator.Generate(ctx, pats, featureOpps, synergyOpps)
		for _, e := range genErrs {
			o.log.WithError(e).Warn("suggestion_generation: per-source failure")
		}
		if len(suggestions) == 0 {
			return nil
		}
		if err := o.store.SaveSuggestions(ctx, suggestions); err != nil {
			return fmt.Errorf("orchestrator: saving suggestions: %w", err)
		}
		return nil
	})
	return suggestions, err
}

// phase6NotifyAndRecord publishes the summary. Job history recording
// itself happens in finish(), kept separate from the notifier call so a
// notifier failure never prevents a run from being recorded.
func (o *Orchestrator) phase6NotifyAndRecord(ctx context.Context, summary *RunSummary, status RunStatus) {
	summary.Status = status
	if err := o.notifier.Publish(ctx, *summary); err != nil {
		o.log.WithError(err).Warn("notify_and_record: publish failed")
	}
}
