// Package promptbuilder implements the UnifiedPromptBuilder (§4.7): a fixed
// system prompt plus one of four per-source templates, each fed an
// already-enriched device context so the generator never hands the LLM a
// bare entity identifier.
package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// unifiedSystemPrompt is used for every call regardless of source; it names
// the assistant's domain and the non-negotiable safety/creativity guidance.
const unifiedSystemPrompt = `You are a smart-home automation expert with deep knowledge of device capabilities and home-automation best practices.

Guidelines:
- Use device friendly names, not raw entity IDs, in descriptions.
- Prefer devices with a health score above 70; avoid devices below 50 unless none other is available.
- Keep automations simple, practical, and easy for a non-expert to understand.
- Always produce valid trigger/condition/action structures.`

// DeviceContext is the enriched context every template receives in place of
// raw entity identifiers.
type DeviceContext struct {
	FriendlyName string
	Manufacturer string
	Model        string
	Area         string
	HealthScore  *int
	Capabilities []string
}

func (d DeviceContext) render() string {
	if d.FriendlyName == "" && d.Manufacturer == "" && d.Model == "" {
		return "No specific device context available."
	}
	var b strings.Builder
	if d.FriendlyName != "" {
		fmt.Fprintf(&b, "Device: %s\n", d.FriendlyName)
	}
	if d.Manufacturer != "" {
		fmt.Fprintf(&b, "Manufacturer: %s\n", d.Manufacturer)
	}
	if d.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", d.Model)
	}
	if d.Area != "" {
		fmt.Fprintf(&b, "Area: %s\n", d.Area)
	}
	if d.HealthScore != nil {
		fmt.Fprintf(&b, "Health score: %d\n", *d.HealthScore)
	}
	if len(d.Capabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(d.Capabilities, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// OutputMode selects which shape the LLM must reply in (§4.7).
type OutputMode string

const (
	OutputDescription OutputMode = "description"
	OutputAutomation  OutputMode = "automation"
)

var patternTemplate = prompts.PromptTemplate{
	Template: `Pattern detected: {{.PatternType}}
Details: {{.Detail}}
Confidence: {{.Confidence}}
Device context:
{{.DeviceContext}}

{{.ModeInstruction}}`,
	TemplateFormat: prompts.TemplateFormatGoTemplate,
	InputVariables: []string{"PatternType", "Detail", "Confidence", "DeviceContext", "ModeInstruction"},
}

var featureTemplate = prompts.PromptTemplate{
	Template: `Unused device capability: {{.FeatureName}} ({{.Impact}} impact, {{.Complexity}} to configure)
Device context:
{{.DeviceContext}}

{{.ModeInstruction}}`,
	TemplateFormat: prompts.TemplateFormatGoTemplate,
	InputVariables: []string{"FeatureName", "Impact", "Complexity", "DeviceContext", "ModeInstruction"},
}

var synergyTemplate = prompts.PromptTemplate{
	Template: `Synergy opportunity: {{.Relationship}} (type {{.SynergyType}})
Devices: {{.Devices}}
Device context:
{{.DeviceContext}}

{{.ModeInstruction}}`,
	TemplateFormat: prompts.TemplateFormatGoTemplate,
	InputVariables: []string{"Relationship", "SynergyType", "Devices", "DeviceContext", "ModeInstruction"},
}

var yamlGenerationTemplate = prompts.PromptTemplate{
	Template: `Generate a complete automation specification for this approved suggestion:

Title: {{.Title}}
Description: {{.Description}}

Validated entity IDs (use ONLY these, never invent a new one):
{{.ValidatedEntities}}

Device context:
{{.DeviceContext}}

Requirements:
1. Reply with a single YAML document (not JSON), with top-level keys alias, trigger, condition, action, mode.
2. Reference only the validated entity IDs above.
3. Set mode to "single" unless the suggestion clearly needs "restart".`,
	TemplateFormat: prompts.TemplateFormatGoTemplate,
	InputVariables: []string{"Title", "Description", "ValidatedEntities", "DeviceContext"},
}

func modeInstruction(mode OutputMode) string {
	if mode == OutputAutomation {
		return "Reply with a structured automation specification (trigger/condition/action)."
	}
	return "Reply with only a title, description, rationale, category, and priority — no automation specification."
}

// Builder assembles (system, user) prompt pairs per §4.7. It has no
// collaborators of its own; callers pass in already-resolved device context.
type Builder struct{}

// NewBuilder constructs a Builder.
func NewBuilder() *Builder { return &Builder{} }

// Prompt is the (system_prompt, user_prompt) pair every template produces.
type Prompt struct {
	System string
	User   string
}

// BuildPatternPrompt renders pattern_prompt for a time-of-day or
// co-occurrence pattern.
func (b *Builder) BuildPatternPrompt(p model.Pattern, ctx DeviceContext, mode OutputMode) (Prompt, error) {
	var detail string
	switch p.PatternType {
	case model.PatternTimeOfDay:
		if p.TimeOfDay != nil {
			detail = fmt.Sprintf("entity %s typically active at %02d:%02d (±%.0f min)", p.TimeOfDay.EntityID, p.TimeOfDay.Hour, p.TimeOfDay.Minute, p.TimeOfDay.StdMinutes)
		}
	case model.PatternCoOccurrence:
		if p.CoOccurrence != nil {
			detail = fmt.Sprintf("%s and %s co-occur within %ds", p.CoOccurrence.EntityA, p.CoOccurrence.EntityB, p.CoOccurrence.WindowSeconds)
		}
	}

	user, err := patternTemplate.Format(map[string]any{
		"PatternType":     string(p.PatternType),
		"Detail":          detail,
		"Confidence":      fmt.Sprintf("%.0f%%", p.Confidence*100),
		"DeviceContext":   ctx.render(),
		"ModeInstruction": modeInstruction(mode),
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("promptbuilder: pattern_prompt: %w", err)
	}
	return Prompt{System: unifiedSystemPrompt, User: user}, nil
}

// BuildFeaturePrompt renders feature_prompt for a FeatureOpportunity.
func (b *Builder) BuildFeaturePrompt(o model.FeatureOpportunity, ctx DeviceContext, mode OutputMode) (Prompt, error) {
	user, err := featureTemplate.Format(map[string]any{
		"FeatureName":     o.FeatureName,
		"Impact":          string(o.Impact),
		"Complexity":      string(o.Complexity),
		"DeviceContext":   ctx.render(),
		"ModeInstruction": modeInstruction(mode),
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("promptbuilder: feature_prompt: %w", err)
	}
	return Prompt{System: unifiedSystemPrompt, User: user}, nil
}

// BuildSynergyPrompt renders synergy_prompt for a SynergyOpportunity.
func (b *Builder) BuildSynergyPrompt(s model.SynergyOpportunity, ctx DeviceContext, mode OutputMode) (Prompt, error) {
	user, err := synergyTemplate.Format(map[string]any{
		"Relationship":    s.Relationship,
		"SynergyType":     string(s.SynergyType),
		"Devices":         strings.Join(s.Devices, ", "),
		"DeviceContext":   ctx.render(),
		"ModeInstruction": modeInstruction(mode),
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("promptbuilder: synergy_prompt: %w", err)
	}
	return Prompt{System: unifiedSystemPrompt, User: user}, nil
}

// BuildYAMLGenerationPrompt renders yaml_generation_prompt: the only
// template invoked in automation output mode, restricted to entities the
// caller has already validated against the registry.
func (b *Builder) BuildYAMLGenerationPrompt(title, description string, validatedEntities []string, ctx DeviceContext) (Prompt, error) {
	user, err := yamlGenerationTemplate.Format(map[string]any{
		"Title":             title,
		"Description":       description,
		"ValidatedEntities": strings.Join(validatedEntities, ", "),
		"DeviceContext":     ctx.render(),
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("promptbuilder: yaml_generation_prompt: %w", err)
	}
	return Prompt{System: unifiedSystemPrompt, User: user}, nil
}
