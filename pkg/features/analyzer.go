// Package features joins device instances to their model's capability
// record and ranks the capabilities a device isn't using yet (§4.5).
package features

import (
	"sort"
	"strings"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

var highImpactKeywords = []string{"led", "notification", "alert", "automation", "energy", "power", "status", "indicator"}
var mediumImpactKeywords = []string{"timer", "mode", "preset", "schedule", "delay", "duration", "threshold", "sensitivity"}

var impactWeight = map[model.Impact]int{model.ImpactHigh: 3, model.ImpactMedium: 2, model.ImpactLow: 1}
var complexityWeight = map[model.Complexity]int{model.ComplexityEasy: 3, model.ComplexityMedium: 2, model.ComplexityAdvanced: 1}

// CapabilityLookup resolves the CapabilityRecord for a device model; it is
// the analyzer's only collaborator, letting tests substitute an in-memory
// map instead of the real store.
type CapabilityLookup func(deviceModel string) (model.CapabilityRecord, bool)

// Analyzer derives FeatureOpportunity records for devices with unused
// capabilities.
type Analyzer struct {
	lookup CapabilityLookup
}

// NewAnalyzer builds an Analyzer backed by lookup.
func NewAnalyzer(lookup CapabilityLookup) *Analyzer {
	return &Analyzer{lookup: lookup}
}

// Analyze joins each device to its model's capability record, derives the
// configured-feature set from entity domains/names, and emits a ranked
// FeatureOpportunity for every capability the device isn't using.
func (a *Analyzer) Analyze(devices []model.DeviceRecord) []model.FeatureOpportunity {
	var opportunities []model.FeatureOpportunity

	for _, device := range devices {
		record, ok := a.lookup(device.Model)
		if !ok || device.Model == "" {
			continue
		}

		configured := configuredFeatures(device)
		for name, descriptor := range record.Capabilities {
			if configured[name] {
				continue
			}
			impact := assessImpact(name)
			opportunities = append(opportunities, model.FeatureOpportunity{
				DeviceID:      device.DeviceID,
				FeatureName:   name,
				FeatureKind:   descriptor.Kind,
				Complexity:    descriptor.Complexity,
				Impact:        impact,
				PriorityScore: impactWeight[impact] * complexityWeight[descriptor.Complexity],
			})
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		if opportunities[i].PriorityScore != opportunities[j].PriorityScore {
			return opportunities[i].PriorityScore > opportunities[j].PriorityScore
		}
		return opportunities[i].DeviceID < opportunities[j].DeviceID
	})
	return opportunities
}

// configuredFeatures derives the basic feature set a device implicitly has
// configured from its entities' domains/names (§4.5 step 2): a light.*
// entity implies light_control, climate.* implies climate_control, and
// binary_sensor.* names implying contact/occupancy by substring match.
func configuredFeatures(device model.DeviceRecord) map[string]bool {
	configured := map[string]bool{}
	for _, entity := range device.Entities {
		lower := strings.ToLower(entity.EntityID)
		switch {
		case strings.HasPrefix(lower, "light."):
			configured["light_control"] = true
		case strings.HasPrefix(lower, "switch."):
			configured["switch_control"] = true
		case strings.HasPrefix(lower, "climate."):
			configured["climate_control"] = true
		case strings.HasPrefix(lower, "binary_sensor."):
			if strings.Contains(lower, "contact") {
				configured["contact"] = true
			}
			if strings.Contains(lower, "motion") {
				configured["occupancy"] = true
			}
		}
	}
	return configured
}

// assessImpact classifies a feature's value by keyword, per §4.5 step 5.
func assessImpact(featureName string) model.Impact {
	lower := strings.ToLower(featureName)
	for _, kw := range highImpactKeywords {
		if strings.Contains(lower, kw) {
			return model.ImpactHigh
		}
	}
	for _, kw := range mediumImpactKeywords {
		if strings.Contains(lower, kw) {
			return model.ImpactMedium
		}
	}
	return model.ImpactLow
}
