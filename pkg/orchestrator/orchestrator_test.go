package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
	"github.com/homelab-ai/smarthome-analyzer/pkg/eventstore"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/llm"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/promptbuilder"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/usage"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Suite")
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

// fakeEvents either returns a fixed slice immediately or, when unblock is
// set, waits for it to close first (used to hold a run open for the
// concurrency test).
type fakeEvents struct {
	events  []model.Event
	unblock chan struct{}
}

func (f *fakeEvents) FetchEvents(ctx context.Context, from, to time.Time, filter eventstore.Filter, limit int) ([]model.Event, error) {
	if f.unblock != nil {
		<-f.unblock
	}
	return f.events, nil
}

type fakeRegistry struct {
	devices []model.DeviceRecord
	err     error
}

func (f *fakeRegistry) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices, nil
}
func (f *fakeRegistry) Recommendations(ctx context.Context, deviceID string) (any, error) {
	return map[string]any{}, nil
}

type fakeCapStore struct{ mu sync.Mutex }

func (f *fakeCapStore) Lookup(deviceModel string) (model.CapabilityRecord, bool) {
	return model.CapabilityRecord{}, false
}
func (f *fakeCapStore) Upsert(record model.CapabilityRecord) {}
func (f *fakeCapStore) NeedsRefresh(devices []model.DeviceRecord, now time.Time) []model.DeviceRecord {
	return nil
}

type fakeAutomations struct{ err error }

func (f *fakeAutomations) ListAutomations(ctx context.Context) ([]model.Automation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

type fakeStore struct {
	mu              sync.Mutex
	savedPatterns   []model.Pattern
	savedAggregates []model.Aggregate
	savedSuggestions []model.Suggestion
}

func (f *fakeStore) SavePatterns(ctx context.Context, patterns []model.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedPatterns = append(f.savedPatterns, patterns...)
	return nil
}
func (f *fakeStore) SaveAggregates(ctx context.Context, aggregates []model.Aggregate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedAggregates = append(f.savedAggregates, aggregates...)
	return nil
}
func (f *fakeStore) SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedSuggestions = append(f.savedSuggestions, suggestions...)
	return nil
}
func (f *fakeStore) patternCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.savedPatterns)
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []RunSummary
}

func (f *fakeNotifier) Publish(ctx context.Context, summary RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, summary)
	return nil
}

// blockingCompleter signals started, then waits on proceed before replying.
type blockingCompleter struct {
	started chan struct{}
	proceed chan struct{}
	once    sync.Once
}

func (b *blockingCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	b.once.Do(func() { close(b.started) })
	<-b.proceed
	payload, _ := json.Marshal(map[string]string{
		"title": "T", "description": "D", "rationale": "R", "category": "comfort", "priority": "low",
	})
	return llm.Response{Text: string(payload), InputTokens: 10, OutputTokens: 10}, nil
}

func noContext(string) promptbuilder.DeviceContext { return promptbuilder.DeviceContext{} }

// dailyToggleEvents builds scenario-1-style events: one entity toggling
// daily at 07:05 for n days, enough to clear TimeOfDayDetector's defaults
// (min_occurrences=5, min_confidence=0.7).
func dailyToggleEvents(entityID string, days int) []model.Event {
	base := time.Date(2026, 1, 1, 7, 5, 0, 0, time.UTC)
	events := make([]model.Event, 0, days)
	for i := 0; i < days; i++ {
		events = append(events, model.Event{
			Timestamp: base.AddDate(0, 0, i),
			EntityID:  entityID,
			DeviceID:  "dev1",
			Domain:    "light",
			State:     "on",
		})
	}
	return events
}

func newTestOrchestrator(events EventFetcher, store *fakeStore, notifier *fakeNotifier, completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}) *Orchestrator {
	return newTestOrchestratorWithCollaborators(events, &fakeRegistry{}, &fakeAutomations{}, store, notifier, completer)
}

func newTestOrchestratorWithCollaborators(events EventFetcher, registry DeviceLister, automations AutomationLister, store *fakeStore, notifier *fakeNotifier, completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}) *Orchestrator {
	gen := suggest.NewGenerator(completer, promptbuilder.NewBuilder(), usage.NewTracker(), noContext, testLogger())
	return New(events, registry, &fakeCapStore{}, automations, store, notifier, gen, testLogger(), Config{})
}

var _ = Describe("Orchestrator.Run", func() {
	It("returns no_data and persists nothing for zero events", func() {
		store := &fakeStore{}
		notifier := &fakeNotifier{}
		o := newTestOrchestrator(&fakeEvents{}, store, notifier, &blockingCompleter{started: make(chan struct{}), proceed: make(chan struct{})})

		summary, err := o.Run(context.Background(), "run1", "manual", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Status).To(Equal(StatusNoData))
		Expect(summary.EventsCount).To(Equal(0))
		Expect(store.patternCount()).To(Equal(0))
	})

	It("rejects a second concurrent manual trigger with already_running", func() {
		store := &fakeStore{}
		notifier := &fakeNotifier{}
		unblock := make(chan struct{})
		o := newTestOrchestrator(&fakeEvents{unblock: unblock}, store, notifier, &blockingCompleter{started: make(chan struct{}), proceed: make(chan struct{})})

		firstDone := make(chan struct{})
		go func() {
			defer close(firstDone)
			o.Run(context.Background(), "run1", "manual", 0)
		}()

		Eventually(func() bool {
			_, err := o.Run(context.Background(), "run2", "manual", 0)
			return apperrors.Is(err, apperrors.KindAlreadyRunning)
		}, time.Second, 10*time.Millisecond).Should(BeTrue())

		close(unblock)
		<-firstDone
	})

	It("marks a run cancelled mid-LLM-phase while persisting already-computed patterns", func() {
		store := &fakeStore{}
		notifier := &fakeNotifier{}
		completer := &blockingCompleter{started: make(chan struct{}), proceed: make(chan struct{})}
		events := dailyToggleEvents("light.hall", 30)
		o := newTestOrchestrator(&fakeEvents{events: events}, store, notifier, completer)

		var summary RunSummary
		done := make(chan struct{})
		go func() {
			defer close(done)
			summary, _ = o.Run(context.Background(), "run1", "manual", 0)
		}()

		<-completer.started
		o.Stop()
		close(completer.proceed)
		<-done

		Expect(summary.Status).To(Equal(StatusCancelled))
		Expect(store.patternCount()).To(BeNumerically(">", 0))
	})

	It("completes normally and notifies when nothing cancels the run", func() {
		store := &fakeStore{}
		notifier := &fakeNotifier{}
		completer := &blockingCompleter{started: make(chan struct{}), proceed: make(chan struct{})}
		close(completer.proceed)
		events := dailyToggleEvents("light.hall", 30)
		o := newTestOrchestrator(&fakeEvents{events: events}, store, notifier, completer)

		summary, err := o.Run(context.Background(), "run1", "manual", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Status).To(Equal(StatusCompleted))
		Expect(summary.PatternsCount).To(BeNumerically(">", 0))
		Expect(o.History()).To(HaveLen(1))
		Expect(notifier.published).To(HaveLen(1))
	})

	It("degrades capability refresh instead of aborting when ListDevices fails", func() {
		store := &fakeStore{}
		notifier := &fakeNotifier{}
		completer := &blockingCompleter{started: make(chan struct{}), proceed: make(chan struct{})}
		close(completer.proceed)
		events := dailyToggleEvents("light.hall", 30)
		o := newTestOrchestratorWithCollaborators(
			&fakeEvents{events: events},
			&fakeRegistry{err: errors.New("registry unreachable")},
			&fakeAutomations{},
			store, notifier, completer,
		)

		summary, err := o.Run(context.Background(), "run1", "manual", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Status).To(Equal(StatusCompleted))
		Expect(summary.PatternsCount).To(BeNumerically(">", 0))
	})

	It("degrades feature/synergy analysis instead of aborting when ListAutomations fails", func() {
		store := &fakeStore{}
		notifier := &fakeNotifier{}
		completer := &blockingCompleter{started: make(chan struct{}), proceed: make(chan struct{})}
		close(completer.proceed)
		events := dailyToggleEvents("light.hall", 30)
		o := newTestOrchestratorWithCollaborators(
			&fakeEvents{events: events},
			&fakeRegistry{},
			&fakeAutomations{err: errors.New("orchestrator API unreachable")},
			store, notifier, completer,
		)

		summary, err := o.Run(context.Background(), "run1", "manual", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Status).To(Equal(StatusCompleted))
		Expect(summary.OpportunityCount).To(Equal(0))
	})
})
