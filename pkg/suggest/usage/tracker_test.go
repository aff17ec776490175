package usage

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestUsage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Usage Tracker Suite")
}

var _ = Describe("Tracker", func() {
	It("accumulates tokens and cost across calls", func() {
		tr := NewTrackerWithRates(1.0, 2.0)
		tr.Record(1_000_000, 500_000)
		tr.Record(500_000, 500_000)

		snap := tr.Snapshot()
		Expect(snap.Calls).To(Equal(int64(2)))
		Expect(snap.InputTokens).To(Equal(int64(1_500_000)))
		Expect(snap.OutputTokens).To(Equal(int64(1_000_000)))
		Expect(snap.EstCostUSD).To(BeNumerically("~", 1.0*1.5+2.0*1.0, 1e-9))
	})

	It("derives a per-day rollup from a snapshot", func() {
		tr := NewTrackerWithRates(1.0, 1.0)
		tr.Record(100, 100)
		day := DayTotalFor(tr.Snapshot(), time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))

		Expect(day.Date).To(Equal("2026-07-30"))
		Expect(day.Calls).To(Equal(int64(1)))
	})
})
