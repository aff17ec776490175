// Package synergy finds unconnected device pairs and contextual automation
// opportunities that existing automations don't already cover (§4.6).
package synergy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// domainAffinity is the known-productive set of domain pairs worth
// automating together, with a base affinity score used in ImpactScore.
var domainAffinity = map[[2]string]float64{
	{"motion", "light"}:      0.9,
	{"light", "motion"}:      0.9,
	{"door", "lock"}:         0.85,
	{"lock", "door"}:         0.85,
	{"temperature", "climate"}: 0.8,
	{"climate", "temperature"}: 0.8,
	{"binary_sensor", "light"}: 0.75,
	{"light", "binary_sensor"}: 0.75,
}

// Detector finds cross-device synergy opportunities.
type Detector struct{}

// NewDetector builds a Detector.
func NewDetector() *Detector { return &Detector{} }

// existingPair is the (trigger_entity, action_entity) key used to suppress
// synergies an automation already implements.
type existingPair struct{ trigger, action string }

func automationPairs(automations []model.Automation) map[existingPair]bool {
	seen := map[existingPair]bool{}
	for _, a := range automations {
		seen[existingPair{a.TriggerEntity, a.ActionEntity}] = true
	}
	return seen
}

// Detect finds device-pair synergies within areas, plus contextual synergy
// opportunities implied by the presence of weather/energy signal entities,
// suppressing anything an existing automation already implements.
func (d *Detector) Detect(devices []model.DeviceRecord, events []model.Event, automations []model.Automation) []model.SynergyOpportunity {
	existing := automationPairs(automations)
	var out []model.SynergyOpportunity

	out = append(out, detectDevicePairSynergies(devices, existing)...)
	out = append(out, detectContextualSynergies(devices, events, existing)...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].ImpactScore > out[j].ImpactScore })
	return out
}

func detectDevicePairSynergies(devices []model.DeviceRecord, existing map[existingPair]bool) []model.SynergyOpportunity {
	byArea := map[string][]model.DeviceRecord{}
	for _, dev := range devices {
		if dev.AreaID == "" {
			continue
		}
		byArea[dev.AreaID] = append(byArea[dev.AreaID], dev)
	}

	areas := make([]string, 0, len(byArea))
	for a := range byArea {
		areas = append(areas, a)
	}
	sort.Strings(areas)

	var out []model.SynergyOpportunity
	for _, area := range areas {
		group := byArea[area]
		sort.Slice(group, func(i, j int) bool { return group[i].DeviceID < group[j].DeviceID })

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				for _, ea := range a.Entities {
					for _, eb := range b.Entities {
						affinity, ok := domainAffinity[[2]string{ea.Domain, eb.Domain}]
						if !ok {
							continue
						}
						if existing[existingPair{ea.EntityID, eb.EntityID}] || existing[existingPair{eb.EntityID, ea.EntityID}] {
							continue
						}
						out = append(out, model.SynergyOpportunity{
							SynergyID:    uuid.NewString(),
							SynergyType:  model.SynergyDevicePair,
							Devices:      []string{a.DeviceID, b.DeviceID},
							Relationship: fmt.Sprintf("%s -> %s", ea.Domain, eb.Domain),
							Area:         area,
							ImpactScore:  affinity * healthFactor(a) * healthFactor(b),
							Complexity:   model.ComplexityEasy,
							Confidence:   affinity,
							Metadata: map[string]any{
								"trigger_entity": ea.EntityID,
								"action_entity":  eb.EntityID,
							},
						})
					}
				}
			}
		}
	}
	return out
}

// healthFactor prefers devices reporting health_score >= 70, scaling down
// the impact score for devices with lower or unknown health.
func healthFactor(dev model.DeviceRecord) float64 {
	if dev.HealthScore == nil {
		return 0.9
	}
	if *dev.HealthScore >= 70 {
		return 1.0
	}
	return 0.6
}

var weatherKeywords = []string{"weather", "forecast", "rain", "wind"}
var energyKeywords = []string{"energy", "power", "consumption", "kwh"}

// detectContextualSynergies emits a synergy opportunity when a weather or
// energy signal entity exists in the event stream but is not referenced by
// any existing automation trigger.
func detectContextualSynergies(devices []model.DeviceRecord, events []model.Event, existing map[existingPair]bool) []model.SynergyOpportunity {
	triggeredEntities := map[string]bool{}
	for pair := range existing {
		triggeredEntities[pair.trigger] = true
	}

	seenEntities := map[string]bool{}
	var out []model.SynergyOpportunity
	for _, e := range events {
		if seenEntities[e.EntityID] {
			continue
		}
		seenEntities[e.EntityID] = true
		lower := strings.ToLower(e.EntityID)

		switch {
		case containsAny(lower, weatherKeywords) && !triggeredEntities[e.EntityID]:
			out = append(out, model.SynergyOpportunity{
				SynergyID:    uuid.NewString(),
				SynergyType:  model.SynergyWeatherContext,
				Devices:      []string{e.DeviceID},
				Relationship: "weather_signal_unused",
				ImpactScore:  0.6,
				Complexity:   model.ComplexityMedium,
				Confidence:   0.6,
				Metadata:     map[string]any{"entity_id": e.EntityID},
			})
		case containsAny(lower, energyKeywords) && !triggeredEntities[e.EntityID]:
			out = append(out, model.SynergyOpportunity{
				SynergyID:    uuid.NewString(),
				SynergyType:  model.SynergyEnergyContext,
				Devices:      []string{e.DeviceID},
				Relationship: "energy_signal_unused",
				ImpactScore:  0.65,
				Complexity:   model.ComplexityMedium,
				Confidence:   0.65,
				Metadata:     map[string]any{"entity_id": e.EntityID},
			})
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
