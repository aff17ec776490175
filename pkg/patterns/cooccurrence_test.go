package patterns

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

var _ = Describe("CoOccurrenceDetector.Detect", func() {
	It("finds A+B co-occurring on 20 of 25 days within 10s (scenario 2)", func() {
		var events []model.Event
		base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
		for day := 0; day < 25; day++ {
			ta := base.AddDate(0, 0, day)
			events = append(events, model.Event{Timestamp: ta, EntityID: "binary_sensor.motion_hall", DeviceID: "devA", Domain: "binary_sensor"})

			if day < 20 {
				// B fires 10s after A, within the 5-minute window.
				events = append(events, model.Event{Timestamp: ta.Add(10 * time.Second), EntityID: "light.hall", DeviceID: "devB", Domain: "light"})
			} else {
				// B fires an hour later, outside the window, on the remaining 5 days.
				events = append(events, model.Event{Timestamp: ta.Add(time.Hour), EntityID: "light.hall", DeviceID: "devB", Domain: "light"})
			}
		}

		det := NewCoOccurrenceDetector(CoOccurrenceConfig{})
		result := det.Detect(events)

		Expect(result.Patterns).To(HaveLen(1))
		p := result.Patterns[0]
		Expect(p.CoOccurrence.EntityA).To(Equal("binary_sensor.motion_hall"))
		Expect(p.CoOccurrence.EntityB).To(Equal("light.hall"))
		Expect(p.CoOccurrence.EntityA < p.CoOccurrence.EntityB).To(BeTrue())
		Expect(p.Occurrences).To(Equal(20))
		Expect(p.Confidence).To(BeNumerically("~", 0.8, 1e-9))
		Expect(p.CoOccurrence.Support).To(BeNumerically("~", 20.0/50.0, 1e-9))
		Expect(*p.CoOccurrence.AvgDeltaSeconds).To(BeNumerically("~", 10.0, 1e-6))
	})

	It("orders entity_a < entity_b lexicographically regardless of event order", func() {
		base := time.Now().UTC()
		var events []model.Event
		for i := 0; i < 10; i++ {
			t0 := base.Add(time.Duration(i) * time.Hour)
			events = append(events,
				model.Event{Timestamp: t0, EntityID: "switch.z", DeviceID: "z"},
				model.Event{Timestamp: t0.Add(5 * time.Second), EntityID: "switch.a", DeviceID: "a"},
			)
		}

		det := NewCoOccurrenceDetector(CoOccurrenceConfig{MinSupport: 5, MinConfidence: 0.5})
		result := det.Detect(events)

		Expect(result.Patterns).To(HaveLen(1))
		Expect(result.Patterns[0].CoOccurrence.EntityA).To(Equal("switch.a"))
		Expect(result.Patterns[0].CoOccurrence.EntityB).To(Equal("switch.z"))
	})

	It("caps confidence at 1.0 and keeps support below 1.0", func() {
		base := time.Now().UTC()
		var events []model.Event
		for i := 0; i < 10; i++ {
			t0 := base.Add(time.Duration(i) * time.Hour)
			events = append(events,
				model.Event{Timestamp: t0, EntityID: "a.x", DeviceID: "a"},
				model.Event{Timestamp: t0.Add(time.Second), EntityID: "b.y", DeviceID: "b"},
				model.Event{Timestamp: t0.Add(2 * time.Second), EntityID: "c.z", DeviceID: "c"},
			)
		}

		det := NewCoOccurrenceDetector(CoOccurrenceConfig{MinSupport: 5, MinConfidence: 0.5})
		result := det.Detect(events)

		for _, p := range result.Patterns {
			Expect(p.Confidence).To(BeNumerically("<=", 1.0))
			Expect(p.CoOccurrence.Support).To(BeNumerically("<=", 1.0))
		}
	})

	It("is deterministic when the large-dataset sampling branch triggers", func() {
		base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		var events []model.Event
		for i := 0; i < 60000; i++ {
			t0 := base.Add(time.Duration(i) * time.Minute)
			events = append(events,
				model.Event{Timestamp: t0, EntityID: "a.x", DeviceID: "a"},
				model.Event{Timestamp: t0.Add(time.Second), EntityID: "b.y", DeviceID: "b"},
			)
		}

		det := NewCoOccurrenceDetector(CoOccurrenceConfig{})
		first := det.Detect(events)
		second := det.Detect(events)

		Expect(len(second.Patterns)).To(Equal(len(first.Patterns)))
		for i := range first.Patterns {
			Expect(second.Patterns[i].Occurrences).To(Equal(first.Patterns[i].Occurrences))
			Expect(second.Patterns[i].Confidence).To(Equal(first.Patterns[i].Confidence))
		}
	})
})
