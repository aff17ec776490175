// Package suggest turns patterns, feature opportunities, and synergy
// opportunities into Suggestion records via the LLM (§4.7).
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
	"github.com/homelab-ai/smarthome-analyzer/pkg/safety"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/llm"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/promptbuilder"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/usage"
)

const (
	maxTokensDescription = 300
	maxTokensAutomation  = 600
	defaultTemperature   = 0.7
	maxSuggestions       = 10
)

var priorityWeight = map[model.Priority]int{model.PriorityHigh: 3, model.PriorityMedium: 2, model.PriorityLow: 1}

// DeviceContextLookup resolves the enriched device context a prompt needs
// for the device(s) an opportunity names. Devices with no known context
// still render (promptbuilder falls back to a "no context available" line).
type DeviceContextLookup func(deviceID string) promptbuilder.DeviceContext

// descriptionPayload is the exact JSON schema the LLM must reply with in
// description mode (§4.7).
type descriptionPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}

const reschemaInstruction = "\n\nYour previous reply did not match the required schema. Reply in exactly this schema and nothing else: {\"title\": string, \"description\": string, \"rationale\": string, \"category\": \"energy\"|\"comfort\"|\"security\"|\"convenience\", \"priority\": \"high\"|\"medium\"|\"low\"}."

// GenerationError is a per-suggestion failure surfaced to the caller instead
// of a Suggestion: the prompt could not be built, an LLM call failed, or
// both the initial call and its one reprompt attempt failed to produce a
// parseable reply.
type GenerationError struct {
	Source SourceRef
	Err    error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("suggest: %s: %v", e.Source.kind, e.Err) }

// SourceRef identifies which pattern/opportunity a Suggestion or
// GenerationError came from.
type SourceRef struct {
	kind string
	id   string
}

// completer is the subset of *llm.Client's surface the generator needs;
// tests substitute a fake instead of a live Anthropic/Bedrock client.
type completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Generator produces Suggestion records from detector/analyzer output via
// the LLM, enforcing §4.7's prompt construction, per-call limits, ranking,
// and failure semantics.
type Generator struct {
	llmClient completer
	builder   *promptbuilder.Builder
	tracker   *usage.Tracker
	contextOf DeviceContextLookup
	log       *logrus.Logger

	failedCalls atomic.Int64
}

// NewGenerator builds a Generator.
func NewGenerator(llmClient completer, builder *promptbuilder.Builder, tracker *usage.Tracker, contextOf DeviceContextLookup, log *logrus.Logger) *Generator {
	return &Generator{llmClient: llmClient, builder: builder, tracker: tracker, contextOf: contextOf, log: log}
}

// FailedCalls returns the number of LLM calls that failed outright (not
// counting parse-schema retries), for health/metrics reporting.
func (g *Generator) FailedCalls() int64 { return g.failedCalls.Load() }

// Generate produces a ranked, truncated (≤10) Suggestion list from every
// pattern, feature opportunity, and synergy opportunity passed in. Errors
// from individual sources are collected and returned alongside the
// suggestions rather than aborting the whole batch.
func (g *Generator) Generate(ctx context.Context, patterns []model.Pattern, features []model.FeatureOpportunity, synergies []model.SynergyOpportunity) ([]model.Suggestion, []error) {
	var suggestions []model.Suggestion
	var errs []error

	for _, p := range patterns {
		if ctx.Err() != nil {
			break
		}
		ref := SourceRef{kind: "pattern", id: p.PatternID}
		s, err := g.fromPattern(ctx, p, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		suggestions = append(suggestions, s)
	}
	for _, f := range features {
		if ctx.Err() != nil {
			break
		}
		ref := SourceRef{kind: "feature", id: f.DeviceID + "/" + f.FeatureName}
		s, err := g.fromFeature(ctx, f, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		suggestions = append(suggestions, s)
	}
	for _, syn := range synergies {
		if ctx.Err() != nil {
			break
		}
		ref := SourceRef{kind: "synergy", id: syn.SynergyID}
		s, err := g.fromSynergy(ctx, syn, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		suggestions = append(suggestions, s)
	}

	rank(suggestions)
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, errs
}

// rank sorts by confidence descending, tie-broken by priority_score
// descending (§4.7).
func rank(suggestions []model.Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].PriorityScore > suggestions[j].PriorityScore
	})
}

func (g *Generator) fromPattern(ctx context.Context, p model.Pattern, ref SourceRef) (model.Suggestion, error) {
	deviceID := ""
	if p.TimeOfDay != nil {
		deviceID = p.TimeOfDay.EntityID
	} else if p.CoOccurrence != nil {
		deviceID = p.CoOccurrence.EntityA
	}
	prompt, err := g.builder.BuildPatternPrompt(p, g.contextOf(deviceID), promptbuilder.OutputDescription)
	if err != nil {
		return model.Suggestion{}, &GenerationError{Source: ref, Err: err}
	}
	payload, err := g.completeDescription(ctx, prompt, ref)
	if err != nil {
		return model.Suggestion{}, err
	}
	patternID := p.PatternID
	return toSuggestion(payload, model.SourcePattern, p.Confidence, &patternID, nil), nil
}

func (g *Generator) fromFeature(ctx context.Context, f model.FeatureOpportunity, ref SourceRef) (model.Suggestion, error) {
	prompt, err := g.builder.BuildFeaturePrompt(f, g.contextOf(f.DeviceID), promptbuilder.OutputDescription)
	if err != nil {
		return model.Suggestion{}, &GenerationError{Source: ref, Err: err}
	}
	payload, err := g.completeDescription(ctx, prompt, ref)
	if err != nil {
		return model.Suggestion{}, err
	}
	confidence := float64(impactConfidence[f.Impact])
	s := toSuggestion(payload, model.SourceFeature, confidence, nil, nil)
	s.PriorityScore = f.PriorityScore
	return s, nil
}

var impactConfidence = map[model.Impact]float64{model.ImpactHigh: 0.9, model.ImpactMedium: 0.7, model.ImpactLow: 0.5}

func (g *Generator) fromSynergy(ctx context.Context, syn model.SynergyOpportunity, ref SourceRef) (model.Suggestion, error) {
	var deviceID string
	if len(syn.Devices) > 0 {
		deviceID = syn.Devices[0]
	}
	prompt, err := g.builder.BuildSynergyPrompt(syn, g.contextOf(deviceID), promptbuilder.OutputDescription)
	if err != nil {
		return model.Suggestion{}, &GenerationError{Source: ref, Err: err}
	}
	payload, err := g.completeDescription(ctx, prompt, ref)
	if err != nil {
		return model.Suggestion{}, err
	}
	synergyID := syn.SynergyID
	return toSuggestion(payload, model.SourceSynergy, syn.Confidence, nil, &synergyID), nil
}

// GenerateAutomation materialises an approved suggestion's automation
// specification in automation output mode, restricted to validatedEntities
// (§4.7).
func (g *Generator) GenerateAutomation(ctx context.Context, s model.Suggestion, validatedEntities []string) (model.AutomationSpec, error) {
	var deviceCtx promptbuilder.DeviceContext
	prompt, err := g.builder.BuildYAMLGenerationPrompt(s.Title, s.Description, validatedEntities, deviceCtx)
	if err != nil {
		return model.AutomationSpec{}, err
	}

	resp, err := g.llmClient.Complete(ctx, llm.Request{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   maxTokensAutomation,
		Temperature: defaultTemperature,
	})
	if err != nil {
		g.failedCalls.Add(1)
		g.log.WithError(err).Warn("llm call failed generating automation spec")
		return model.AutomationSpec{}, err
	}
	g.tracker.Record(resp.InputTokens, resp.OutputTokens)

	spec, parseReport := safety.ParseSpec(resp.Text)
	if parseReport != nil {
		return model.AutomationSpec{}, fmt.Errorf("suggest: parse automation spec: %s", parseReport.Message)
	}
	return spec, nil
}

// completeDescription runs one description-mode LLM call, retrying once
// with an explicit re-schema instruction on a parse failure (§4.7 failure
// semantics).
func (g *Generator) completeDescription(ctx context.Context, prompt promptbuilder.Prompt, ref SourceRef) (descriptionPayload, error) {
	resp, err := g.llmClient.Complete(ctx, llm.Request{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   maxTokensDescription,
		Temperature: defaultTemperature,
	})
	if err != nil {
		g.failedCalls.Add(1)
		g.log.WithFields(logrus.Fields{"source": ref.kind, "id": ref.id}).WithError(err).Warn("llm call failed, skipping suggestion")
		return descriptionPayload{}, &GenerationError{Source: ref, Err: err}
	}
	g.tracker.Record(resp.InputTokens, resp.OutputTokens)

	payload, err := parseDescription(resp.Text)
	if err == nil {
		return payload, nil
	}

	g.log.WithFields(logrus.Fields{"source": ref.kind, "id": ref.id}).Warn("llm reply failed schema validation, regenerating once")
	retryResp, retryErr := g.llmClient.Complete(ctx, llm.Request{
		System:      prompt.System,
		User:        prompt.User + reschemaInstruction,
		MaxTokens:   maxTokensDescription,
		Temperature: defaultTemperature,
	})
	if retryErr != nil {
		g.failedCalls.Add(1)
		return descriptionPayload{}, &GenerationError{Source: ref, Err: retryErr}
	}
	g.tracker.Record(retryResp.InputTokens, retryResp.OutputTokens)

	payload, err = parseDescription(retryResp.Text)
	if err != nil {
		return descriptionPayload{}, &GenerationError{Source: ref, Err: fmt.Errorf("schema mismatch after regeneration: %w", err)}
	}
	return payload, nil
}

func parseDescription(text string) (descriptionPayload, error) {
	var payload descriptionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return descriptionPayload{}, err
	}
	if payload.Title == "" || payload.Description == "" {
		return descriptionPayload{}, fmt.Errorf("missing required fields")
	}
	return payload, nil
}

func toSuggestion(payload descriptionPayload, source model.SuggestionSource, confidence float64, patternRef, synergyRef *string) model.Suggestion {
	priority := model.Priority(payload.Priority)
	now := time.Now()
	return model.Suggestion{
		ID:            uuid.NewString(),
		Source:        source,
		Title:         payload.Title,
		Description:   payload.Description,
		Rationale:     payload.Rationale,
		Confidence:    confidence,
		Category:      model.SuggestionCategory(payload.Category),
		Priority:      priority,
		PriorityScore: priorityWeight[priority],
		Status:        model.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		PatternRef:    patternRef,
		SynergyRef:    synergyRef,
	}
}
