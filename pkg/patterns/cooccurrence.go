package patterns

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// CoOccurrenceConfig holds the detector's tunables; zero values fall back
// to the spec's defaults (5 min window, support 5, confidence 0.7).
type CoOccurrenceConfig struct {
	WindowMinutes int
	MinSupport    int
	MinConfidence float64

	// SamplingThreshold/RecentDays/TargetSize/Seed control the
	// large-dataset sampling branch (§4.3 "Large-dataset sampling").
	SamplingThreshold int
	SamplingRecentDays int
	SamplingTargetSize int
	SamplingSeed       int64
}

func (c CoOccurrenceConfig) withDefaults() CoOccurrenceConfig {
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = 5
	}
	if c.MinSupport <= 0 {
		c.MinSupport = 5
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.7
	}
	if c.SamplingThreshold <= 0 {
		c.SamplingThreshold = 50000
	}
	if c.SamplingRecentDays <= 0 {
		c.SamplingRecentDays = 7
	}
	if c.SamplingTargetSize <= 0 {
		c.SamplingTargetSize = 20000
	}
	if c.SamplingSeed == 0 {
		c.SamplingSeed = clusterSeed
	}
	return c
}

// CoOccurrenceDetector finds pairs of entities that fire together within a
// sliding time window, via a forward-only two-pointer scan over
// timestamp-sorted events.
type CoOccurrenceDetector struct {
	cfg CoOccurrenceConfig
}

// NewCoOccurrenceDetector builds a detector with the given config (zero
// value is valid and uses spec defaults).
func NewCoOccurrenceDetector(cfg CoOccurrenceConfig) *CoOccurrenceDetector {
	return &CoOccurrenceDetector{cfg: cfg.withDefaults()}
}

type pairKey struct{ a, b string }

func sortedPair(a, b string) pairKey {
	if a <= b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// Detect scans events (which it sorts by timestamp internally) for
// co-occurring entity pairs. Events exceeding the sampling threshold are
// downsampled deterministically first (fixed seed) so repeated calls on
// identical input always yield identical patterns.
func (d *CoOccurrenceDetector) Detect(events []model.Event) DetectResult {
	result := DetectResult{}
	if len(events) == 0 {
		return result
	}

	events = d.maybeSample(events)

	sorted := append([]model.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	entityCounts := map[string]int{}
	for _, e := range sorted {
		entityCounts[e.EntityID]++
	}

	pairCounts := map[pairKey]int{}
	deltaSums := map[pairKey]float64{}
	deltaCounts := map[pairKey]int{}

	window := time.Duration(d.cfg.WindowMinutes) * time.Minute
	n := len(sorted)
	for i := 0; i < n; i++ {
		a := sorted[i]
		deadline := a.Timestamp.Add(window)
		seenForA := map[string]bool{}
		for j := i + 1; j < n; j++ {
			b := sorted[j]
			if b.Timestamp.After(deadline) {
				break
			}
			if b.EntityID == a.EntityID {
				continue
			}
			key := sortedPair(a.EntityID, b.EntityID)
			pairCounts[key]++
			if !seenForA[b.EntityID] {
				seenForA[b.EntityID] = true
				deltaSums[key] += b.Timestamp.Sub(a.Timestamp).Seconds()
				deltaCounts[key]++
			}
		}
	}

	totalEvents := len(sorted)
	keys := make([]pairKey, 0, len(pairCounts))
	for k := range pairCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})

	for _, key := range keys {
		count := pairCounts[key]
		countA := entityCounts[key.a]
		countB := entityCounts[key.b]
		minCount := countA
		if countB < minCount {
			minCount = countB
		}
		confidence := 1.0
		if minCount > 0 {
			confidence = float64(count) / float64(minCount)
			if confidence > 1.0 {
				confidence = 1.0
			}
		}
		if count < d.cfg.MinSupport || confidence < d.cfg.MinConfidence {
			continue
		}

		support := float64(count) / float64(totalEvents)
		var avgDelta *float64
		if dc := deltaCounts[key]; dc > 0 {
			v := deltaSums[key] / float64(dc)
			avgDelta = &v
		}

		result.Patterns = append(result.Patterns, model.Pattern{
			PatternID:   uuid.NewString(),
			PatternType: model.PatternCoOccurrence,
			Confidence:  confidence,
			Occurrences: count,
			CreatedAt:   time.Now().UTC(),
			CoOccurrence: &model.CoOccurrencePayload{
				EntityA:         key.a,
				EntityB:         key.b,
				WindowSeconds:   d.cfg.WindowMinutes * 60,
				Support:         support,
				AvgDeltaSeconds: avgDelta,
			},
		})

		result.Aggregates = append(result.Aggregates, buildCoOccurrenceAggregate(key, count, confidence, support, avgDelta, d.cfg.WindowMinutes, sorted))
	}

	return result
}

// maybeSample applies the large-dataset sampling rule: keep the most
// recent SamplingRecentDays verbatim, uniform-sample older events down to
// SamplingTargetSize with a fixed seed.
func (d *CoOccurrenceDetector) maybeSample(events []model.Event) []model.Event {
	if len(events) <= d.cfg.SamplingThreshold {
		return events
	}

	maxTS := events[0].Timestamp
	for _, e := range events {
		if e.Timestamp.After(maxTS) {
			maxTS = e.Timestamp
		}
	}
	cutoff := maxTS.Add(-time.Duration(d.cfg.SamplingRecentDays) * 24 * time.Hour)

	var recent, older []model.Event
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			recent = append(recent, e)
		} else {
			older = append(older, e)
		}
	}

	sampleSize := d.cfg.SamplingTargetSize
	if sampleSize > len(older) {
		sampleSize = len(older)
	}
	rng := rand.New(rand.NewSource(d.cfg.SamplingSeed))
	perm := rng.Perm(len(older))[:sampleSize]
	sort.Ints(perm)
	sampledOlder := make([]model.Event, sampleSize)
	for i, idx := range perm {
		sampledOlder[i] = older[idx]
	}

	out := append(recent, sampledOlder...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func buildCoOccurrenceAggregate(key pairKey, count int, confidence, support float64, avgDelta *float64, windowMinutes int, events []model.Event) model.Aggregate {
	date := ""
	if len(events) > 0 {
		date = events[0].Timestamp.UTC().Format("2006-01-02")
	}
	combinedID := key.a + "+" + key.b
	return model.Aggregate{
		Date:     date,
		EntityID: combinedID,
		Domain:   domainOf(key.a) + "_" + domainOf(key.b),
		CoOccurrence: &model.CoOccurrenceAggregate{
			CombinedID:      combinedID,
			Device1:         key.a,
			Device2:         key.b,
			Occurrences:     count,
			Confidence:      confidence,
			Support:         support,
			AvgDeltaSeconds: avgDelta,
			WindowMinutes:   windowMinutes,
		},
	}
}
