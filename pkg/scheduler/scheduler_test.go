package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/pkg/orchestrator"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

// fakeRunner accepts exactly one concurrent trigger, like Orchestrator's
// own mutex, and blocks the accepted run until release is closed.
type fakeRunner struct {
	mu       sync.Mutex
	busy     bool
	release  chan struct{}
	stopped  bool
}

func (f *fakeRunner) TriggerAsync(ctx context.Context, runID, trigger string, timeout time.Duration, onComplete func(orchestrator.RunSummary, error)) bool {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return false
	}
	f.busy = true
	f.mu.Unlock()

	go func() {
		if f.release != nil {
			<-f.release
		}
		f.mu.Lock()
		f.busy = false
		f.mu.Unlock()
		if onComplete != nil {
			onComplete(orchestrator.RunSummary{RunID: runID, Trigger: trigger, Status: orchestrator.StatusCompleted}, nil)
		}
	}()
	return true
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

var _ = Describe("Scheduler.Trigger", func() {
	It("returns running_in_background for the first manual trigger", func() {
		runner := &fakeRunner{release: make(chan struct{})}
		defer close(runner.release)
		s := New(runner, testLogger())

		result, runID := s.Trigger(context.Background(), 0)
		Expect(result).To(Equal(TriggerRunningInBackground))
		Expect(runID).ToNot(BeEmpty())
	})

	It("returns already_running when a trigger races an active run", func() {
		runner := &fakeRunner{release: make(chan struct{})}
		defer close(runner.release)
		s := New(runner, testLogger())

		first, _ := s.Trigger(context.Background(), 0)
		Expect(first).To(Equal(TriggerRunningInBackground))

		second, _ := s.Trigger(context.Background(), 0)
		Expect(second).To(Equal(TriggerAlreadyRunning))
	})

	It("accepts a new trigger once the previous run has released", func() {
		runner := &fakeRunner{release: make(chan struct{})}
		s := New(runner, testLogger())

		first, _ := s.Trigger(context.Background(), 0)
		Expect(first).To(Equal(TriggerRunningInBackground))

		close(runner.release)
		Eventually(func() TriggerResult {
			result, _ := s.Trigger(context.Background(), 0)
			return result
		}, time.Second, 10*time.Millisecond).Should(Equal(TriggerRunningInBackground))
	})
})

var _ = Describe("Scheduler.Start", func() {
	It("rejects a malformed cron expression", func() {
		runner := &fakeRunner{}
		s := New(runner, testLogger())
		err := s.Start("not a cron expression")
		Expect(err).To(HaveOccurred())
	})

	It("accepts a standard 5-field cron expression", func() {
		runner := &fakeRunner{}
		s := New(runner, testLogger())
		err := s.Start("0 3 * * *")
		Expect(err).ToNot(HaveOccurred())
		s.Stop()
		Expect(runner.stopped).To(BeTrue())
	})
})
