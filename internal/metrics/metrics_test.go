package metrics

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/homelab-ai/smarthome-analyzer/pkg/orchestrator"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

type fakeNotifier struct{ published int }

func (f *fakeNotifier) Publish(ctx context.Context, summary orchestrator.RunSummary) error {
	f.published++
	return nil
}

var _ = Describe("Registry.RecordRun", func() {
	It("increments pipeline_runs_total for the run's trigger and status", func() {
		reg := New()
		started := time.Now()
		reg.RecordRun(orchestrator.RunSummary{
			Trigger:    "scheduled",
			Status:     orchestrator.StatusCompleted,
			StartedAt:  started,
			FinishedAt: started.Add(2 * time.Second),
		})

		Expect(testutil.ToFloat64(reg.runsTotal.WithLabelValues("scheduled", "completed"))).To(Equal(1.0))
	})
})

var _ = Describe("RecordingNotifier.Publish", func() {
	It("records metrics and forwards to the inner notifier", func() {
		reg := New()
		inner := &fakeNotifier{}
		n := &RecordingNotifier{Registry: reg, Inner: inner}

		summary := orchestrator.RunSummary{Trigger: "manual", Status: orchestrator.StatusNoData, EventsCount: 0}
		Expect(n.Publish(context.Background(), summary)).To(Succeed())

		Expect(inner.published).To(Equal(1))
		Expect(testutil.ToFloat64(reg.runsTotal.WithLabelValues("manual", "no_data"))).To(Equal(1.0))
	})

	It("tolerates a nil inner notifier", func() {
		reg := New()
		n := &RecordingNotifier{Registry: reg}

		Expect(n.Publish(context.Background(), orchestrator.RunSummary{Trigger: "manual", Status: orchestrator.StatusFailed})).To(Succeed())
	})
})
