// Package notify delivers the two outbound notices named in §6 ("analysis
// complete" and "suggestion created") to a Slack channel via an incoming
// webhook. The original source publishes these as MQTT messages on
// ha-ai/analysis/complete and ha-ai/suggestions/new at QoS 1; no MQTT client
// library appears anywhere in the example corpus, so this redesign keeps the
// same two event kinds and JSON payload shape but delivers them over the
// Slack webhook the teacher's own stack already carries
// (github.com/slack-go/slack), matching config.SlackWebhookURL.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/homelab-ai/smarthome-analyzer/internal/retryutil"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
	"github.com/homelab-ai/smarthome-analyzer/pkg/orchestrator"
)

// eventKind mirrors the "event" field the original MQTT payloads carry.
type eventKind string

const (
	eventAnalysisComplete eventKind = "analysis_complete"
	eventSuggestionNew    eventKind = "suggestion_created"

	topicAnalysisComplete = "ha-ai/analysis/complete"
	topicSuggestionNew    = "ha-ai/suggestions/new"
)

// analysisCompletePayload is the JSON body published for a finished run,
// keeping the original client's field names (timestamp/success/counters)
// under the "topic" they were addressed to over MQTT.
type analysisCompletePayload struct {
	Event             eventKind `json:"event"`
	Topic             string    `json:"topic"`
	Timestamp         time.Time `json:"timestamp"`
	Success           bool      `json:"success"`
	RunID             string    `json:"run_id"`
	Trigger           string    `json:"trigger"`
	EventsCount       int64     `json:"events_count"`
	PatternsDetected  int64     `json:"patterns_detected"`
	SuggestionsCount  int64     `json:"suggestions_generated"`
	ProcessingTimeSec float64   `json:"processing_time_sec"`
	CostUSD           float64   `json:"cost"`
}

type suggestionCreatedPayload struct {
	Event        eventKind `json:"event"`
	Topic        string    `json:"topic"`
	Timestamp    time.Time `json:"timestamp"`
	SuggestionID string    `json:"suggestion_id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Confidence   float64   `json:"confidence"`
	Priority     string    `json:"priority"`
}

// Publisher delivers notifications to the configured Slack webhook,
// satisfying pkg/orchestrator.Notifier. A zero-value webhookURL makes every
// publish a logged no-op rather than an error, since a notification channel
// is an optional deployment concern, not one the pipeline's correctness
// depends on.
type Publisher struct {
	webhookURL string
	policy     *retryutil.Policy
	log        *logrus.Entry
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// New builds a Publisher. webhookURL is the SLACK_WEBHOOK_URL config value.
func New(webhookURL string, log *logrus.Logger) *Publisher {
	return &Publisher{
		webhookURL: webhookURL,
		policy:     retryutil.NewPolicy("notify", time.Second, 5*time.Second, 2),
		log:        log.WithField("component", "notify"),
		post:        slack.PostWebhookContext,
	}
}

var _ orchestrator.Notifier = (*Publisher)(nil)

// Publish delivers the analysis-complete notice for a finished run, per §6's
// "emits 'analysis complete' notices" and §8 scenario coverage of the
// run-summary fields it carries.
func (p *Publisher) Publish(ctx context.Context, summary orchestrator.RunSummary) error {
	payload := analysisCompletePayload{
		Event:             eventAnalysisComplete,
		Topic:             topicAnalysisComplete,
		Timestamp:         summary.FinishedAt,
		Success:           summary.Status == orchestrator.StatusCompleted,
		RunID:             summary.RunID,
		Trigger:           summary.Trigger,
		EventsCount:       int64(summary.EventsCount),
		PatternsDetected:  int64(summary.PatternsCount),
		SuggestionsCount:  int64(summary.SuggestionsCount),
		ProcessingTimeSec: summary.FinishedAt.Sub(summary.StartedAt).Seconds(),
		CostUSD:           summary.EstCostUSD,
	}
	return p.deliver(ctx, topicAnalysisComplete, payload, fmt.Sprintf(
		"analysis run %s (%s) finished: %s, %d events, %d patterns, %d suggestions",
		summary.RunID, summary.Trigger, summary.Status, summary.EventsCount,
		summary.PatternsCount, summary.SuggestionsCount))
}

// PublishSuggestion delivers the suggestion-created notice, per §6's
// ha-ai/suggestions/new topic. Called once per newly generated suggestion,
// typically from the HTTP layer right after a suggestion is persisted.
func (p *Publisher) PublishSuggestion(ctx context.Context, s model.Suggestion) error {
	payload := suggestionCreatedPayload{
		Event:        eventSuggestionNew,
		Topic:        topicSuggestionNew,
		Timestamp:    s.CreatedAt,
		SuggestionID: s.ID,
		Title:        s.Title,
		Category:     string(s.Category),
		Confidence:   s.Confidence,
		Priority:     string(s.Priority),
	}
	return p.deliver(ctx, topicSuggestionNew, payload, fmt.Sprintf(
		"new suggestion %q (%s, %s priority, confidence %.2f)",
		s.Title, s.Category, s.Priority, s.Confidence))
}

func (p *Publisher) deliver(ctx context.Context, topic string, payload any, text string) error {
	if p.webhookURL == "" {
		p.log.WithField("topic", topic).Debug("notify: no webhook configured, skipping delivery")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal %s payload: %w", topic, err)
	}

	msg := &slack.WebhookMessage{
		Text: text,
		Attachments: []slack.Attachment{{
			Fallback: text,
			Text:     string(body),
			Footer:   topic,
		}},
	}

	err = p.policy.Do(ctx, func(ctx context.Context) error {
		return p.post(ctx, p.webhookURL, msg)
	})
	if err != nil {
		p.log.WithField("topic", topic).WithError(err).Warn("notify: delivery failed")
		return fmt.Errorf("notify: deliver to %s: %w", topic, err)
	}
	return nil
}
