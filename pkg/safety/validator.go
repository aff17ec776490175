// Package safety gates every candidate automation specification before
// deploy, running the ordered checks from §4.8: parse, entity availability,
// dangerous actions, high-energy actions, time conflicts, and conflicts with
// automations already deployed on the orchestrator.
package safety

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// Severity classifies an Issue's urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Category classifies what an Issue is about.
type Category string

const (
	CategoryInvalid         Category = "invalid"
	CategoryAvailability    Category = "availability"
	CategoryDangerous       Category = "dangerous"
	CategoryEnergy          Category = "energy"
	CategoryTime            Category = "time"
	CategoryConflict        Category = "conflict"
	CategoryValidationError Category = "validation_error"
)

// Issue is one safety finding against a candidate automation.
type Issue struct {
	Severity       Severity
	Category       Category
	Message        string
	Recommendation string
	Details        map[string]any
}

// Report is the validator's output: §4.8's
// {safe, critical, warnings, infos, coverage} shape.
type Report struct {
	Safe     bool
	Critical []Issue
	Warnings []Issue
	Infos    []Issue
	Coverage float64
	Message  string
}

// EntityExists resolves whether entityID is a known, live entity on the
// orchestrator. It is the validator's only collaborator.
type EntityExists func(entityID string) bool

// dangerousServices maps a service domain to the exact dangerous service
// calls within it (§4.8 step 3).
var dangerousServices = map[string]map[string]bool{
	"lock":                {"lock.unlock": true},
	"alarm_control_panel": {"alarm_control_panel.disarm": true},
}

// highEnergyDomains are the domains flagged as high-energy actions (§4.8
// step 4).
var highEnergyDomains = map[string]bool{
	"climate":      true,
	"water_heater": true,
	"fan":          true,
}

// timeConflictKeywords are the phrases that flag a possible always-on
// automation (§4.8 step 5).
var timeConflictKeywords = []string{"always", "continuously", "every 0", "every second"}

// Validator checks candidate automation specifications for safety.
type Validator struct {
	entityExists EntityExists
}

// NewValidator builds a Validator backed by entityExists.
func NewValidator(entityExists EntityExists) *Validator {
	return &Validator{entityExists: entityExists}
}

// ParseSpec parses an automation specification submitted as YAML text (the
// wire shape of §6's automation_spec). Parse failure is always critical per
// §4.8 step 1, reported via a Report rather than an error so callers don't
// need a separate error path for a single check.
func ParseSpec(yamlText string) (model.AutomationSpec, *Report) {
	var raw struct {
		Alias      string           `yaml:"alias"`
		Mode       string           `yaml:"mode"`
		Trigger    []map[string]any `yaml:"trigger"`
		Condition  []map[string]any `yaml:"condition"`
		Action     []map[string]any `yaml:"action"`
	}
	if err := yaml.Unmarshal([]byte(yamlText), &raw); err != nil || raw.Alias == "" && len(raw.Trigger) == 0 && len(raw.Action) == 0 {
		return model.AutomationSpec{}, &Report{
			Safe: false,
			Critical: []Issue{{
				Severity:       SeverityCritical,
				Category:       CategoryInvalid,
				Message:        "invalid or empty automation specification",
				Recommendation: "check automation YAML syntax",
			}},
			Coverage: 0,
			Message:  "validation blocked",
		}
	}
	return model.AutomationSpec{
		Alias:      raw.Alias,
		Mode:       raw.Mode,
		Triggers:   raw.Trigger,
		Conditions: raw.Condition,
		Actions:    raw.Action,
	}, nil
}

// Validate runs the ordered safety checks against spec and returns a Report.
// automationID, when non-empty, excludes that automation from the conflict
// check (so re-validating an automation against itself never flags a
// conflict). validatedEntities names the entities that were already checked
// for existence during suggestion generation; a miss against one of those is
// critical rather than a warning (§4.8 step 2).
func (v *Validator) Validate(spec model.AutomationSpec, validatedEntities []string, automationID string, existing []model.Automation) Report {
	var issues []Issue

	issues = append(issues, v.checkEntityAvailability(spec, validatedEntities)...)
	issues = append(issues, checkDangerousActions(spec)...)
	issues = append(issues, checkHighEnergyActions(spec)...)
	issues = append(issues, checkTimeConflicts(spec)...)
	issues = append(issues, checkAutomationConflicts(spec, automationID, existing)...)

	var critical, warnings, infos []Issue
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			critical = append(critical, issue)
		case SeverityWarning:
			warnings = append(warnings, issue)
		case SeverityInfo:
			infos = append(infos, issue)
		}
	}

	safe := len(critical) == 0
	message := "validation passed"
	if !safe {
		message = "validation blocked"
	} else if len(warnings) > 0 {
		message = "validation passed with warnings"
	}

	return Report{
		Safe:     safe,
		Critical: critical,
		Warnings: warnings,
		Infos:    infos,
		Coverage: 1.0,
		Message:  message,
	}
}

// checkEntityAvailability is §4.8 step 2: every referenced entity must
// exist; misses against a validated entity are critical, others are
// warnings, and each miss carries up to five fuzzy-match suggestions.
func (v *Validator) checkEntityAvailability(spec model.AutomationSpec, validatedEntities []string) []Issue {
	if v.entityExists == nil {
		return nil
	}

	validated := map[string]bool{}
	for _, e := range validatedEntities {
		validated[e] = true
	}

	seen := map[string]bool{}
	var all []string
	for _, entity := range extractEntities(spec.Triggers) {
		if !seen[entity] {
			seen[entity] = true
			all = append(all, entity)
		}
	}
	for _, entity := range extractEntities(spec.Actions) {
		if !seen[entity] {
			seen[entity] = true
			all = append(all, entity)
		}
	}
	for _, cond := range spec.Conditions {
		if entity, ok := cond["entity_id"].(string); ok && entity != "" && !seen[entity] {
			seen[entity] = true
			all = append(all, entity)
		}
	}

	var issues []Issue
	for _, entity := range all {
		if v.entityExists(entity) {
			continue
		}
		wasValidated := validated[entity]
		suggestions := v.findSimilarEntities(entity)

		severity := SeverityWarning
		if wasValidated {
			severity = SeverityCritical
		}

		recommendation := fmt.Sprintf("verify entity %s exists", entity)
		switch {
		case len(suggestions) > 0:
			recommendation += fmt.Sprintf("; did you mean: %s?", strings.Join(suggestions, ", "))
		case !wasValidated:
			recommendation += "; this entity was not validated during generation, consider using a validated entity instead"
		}

		issues = append(issues, Issue{
			Severity:       severity,
			Category:       CategoryAvailability,
			Message:        fmt.Sprintf("entity not found: %s", entity),
			Recommendation: recommendation,
			Details: map[string]any{
				"entity_id":    entity,
				"was_validated": wasValidated,
				"suggestions":  suggestions,
			},
		})
	}
	return issues
}

// findSimilarEntities computes up to five fuzzy-match suggestions for a
// missing entity by splitting its name on "_" and testing the fixed
// permutation order from §9: (a) drop last word, (b) first-plus-last,
// (c) first-only.
func (v *Validator) findSimilarEntities(entityID string) []string {
	domain, name := splitEntity(entityID)
	if domain == "" || name == "" {
		return nil
	}
	words := strings.Split(name, "_")

	var candidates []string
	if len(words) > 1 {
		candidates = append(candidates, strings.Join(words[:len(words)-1], "_"))
	}
	if len(words) > 2 {
		candidates = append(candidates, words[0]+"_"+words[len(words)-1])
	}
	if len(words) > 0 {
		candidates = append(candidates, words[0])
	}

	var found []string
	for _, candidate := range candidates {
		testID := domain + "." + candidate
		if v.entityExists(testID) {
			found = append(found, testID)
		}
		if len(found) == 5 {
			break
		}
	}
	return found
}

func splitEntity(entityID string) (domain, name string) {
	idx := strings.Index(entityID, ".")
	if idx < 0 {
		return "", entityID
	}
	return entityID[:idx], entityID[idx+1:]
}

// checkDangerousActions is §4.8 step 3.
func checkDangerousActions(spec model.AutomationSpec) []Issue {
	var issues []Issue
	for _, service := range extractServices(spec.Actions) {
		domain, _ := splitEntity(service)
		if dangerousServices[domain] != nil && dangerousServices[domain][service] {
			issues = append(issues, Issue{
				Severity:       SeverityCritical,
				Category:       CategoryDangerous,
				Message:        fmt.Sprintf("potentially dangerous action detected: %s", service),
				Recommendation: "review this action carefully before deploying",
				Details:        map[string]any{"service": service},
			})
		}
	}
	return issues
}

// checkHighEnergyActions is §4.8 step 4.
func checkHighEnergyActions(spec model.AutomationSpec) []Issue {
	var issues []Issue
	for _, entity := range extractEntities(spec.Actions) {
		domain, _ := splitEntity(entity)
		if !highEnergyDomains[domain] {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityWarning,
			Category:       CategoryEnergy,
			Message:        fmt.Sprintf("high-energy device detected: %s", entity),
			Recommendation: "monitor energy consumption and consider scheduling during off-peak hours",
			Details:        map[string]any{"entity_id": entity, "domain": domain},
		})
	}
	return issues
}

// checkTimeConflicts is §4.8 step 5.
func checkTimeConflicts(spec model.AutomationSpec) []Issue {
	text := strings.ToLower(spec.Alias)
	var issues []Issue
	for _, keyword := range timeConflictKeywords {
		if strings.Contains(text, keyword) {
			issues = append(issues, Issue{
				Severity:       SeverityWarning,
				Category:       CategoryTime,
				Message:        fmt.Sprintf("potential time conflict: %q detected", keyword),
				Recommendation: "review time constraints to ensure they are realistic",
				Details:        map[string]any{"keyword": keyword},
			})
		}
	}
	return issues
}

// checkAutomationConflicts is §4.8 step 6: flag a (trigger, action) entity
// pair already implemented by another deployed automation.
func checkAutomationConflicts(spec model.AutomationSpec, automationID string, existing []model.Automation) []Issue {
	triggers := extractEntities(spec.Triggers)
	actions := extractEntities(spec.Actions)
	if len(triggers) == 0 || len(actions) == 0 {
		return nil
	}

	var issues []Issue
	for _, a := range existing {
		if automationID != "" && a.ID == automationID {
			continue
		}
		for _, t := range triggers {
			if t != a.TriggerEntity {
				continue
			}
			for _, act := range actions {
				if act != a.ActionEntity {
					continue
				}
				issues = append(issues, Issue{
					Severity:       SeverityWarning,
					Category:       CategoryConflict,
					Message:        fmt.Sprintf("conflicts with existing automation %s", a.ID),
					Recommendation: "review existing automations to avoid conflicts",
					Details:        map[string]any{"trigger_entity": t, "action_entity": act, "automation_id": a.ID},
				})
			}
		}
	}
	return issues
}

// extractEntities pulls entity_id values (string or []string/[]any) out of a
// list of trigger/action/condition maps.
func extractEntities(items []map[string]any) []string {
	var out []string
	for _, item := range items {
		switch v := item["entity_id"].(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []string:
			out = append(out, v...)
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// extractServices pulls "service" (legacy) or "action" (current) call
// identifiers out of a list of action maps.
func extractServices(actions []map[string]any) []string {
	var out []string
	for _, action := range actions {
		for _, key := range []string{"service", "action"} {
			if s, ok := action[key].(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
