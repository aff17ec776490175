// Package automationapi talks to the orchestrator collaborator's automation
// API (§6): listing deployed automations for SynergyDetector/SafetyValidator
// conflict checks, reloading the automation config after a deploy, and
// invoking services (turn_on/turn_off/trigger) the same way the original
// source's orchestrator_client module does. Built on the same
// retry/circuit-breaker policy as pkg/registry and pkg/eventstore.
package automationapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
	"github.com/homelab-ai/smarthome-analyzer/internal/retryutil"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// Client is bound to ORCHESTRATOR_URL/ORCHESTRATOR_TOKEN.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     *retryutil.Policy
	log        *logrus.Entry
}

// New builds a Client.
func New(baseURL, token string, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				MaxConnsPerHost:     10,
			},
		},
		policy: retryutil.NewPolicy("automationapi", 2*time.Second, 10*time.Second, 3),
		log:    log.WithField("component", "automationapi"),
	}
}

type wireAutomation struct {
	ID      string           `json:"id"`
	Alias   string           `json:"alias"`
	Trigger []map[string]any `json:"trigger"`
	Action  []map[string]any `json:"action"`
}

func (w wireAutomation) toModel() model.Automation {
	return model.Automation{
		ID:            w.ID,
		Alias:         w.Alias,
		TriggerEntity: firstEntity(w.Trigger, "entity_id"),
		ActionEntity:  firstEntity(w.Action, "entity_id"),
	}
}

func firstEntity(steps []map[string]any, key string) string {
	for _, step := range steps {
		if v, ok := step[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ListAutomations fetches the orchestrator's current automation config,
// satisfying pkg/orchestrator.AutomationLister for phase 4's synergy/
// conflict checks.
func (c *Client) ListAutomations(ctx context.Context) ([]model.Automation, error) {
	var wire []wireAutomation
	if err := c.get(ctx, "/api/config/automation/config", &wire); err != nil {
		return nil, err
	}
	out := make([]model.Automation, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

// ReloadAutomations tells the orchestrator to reload its automation config
// after a new automation has been materialised and written, per the deploy
// route's "push to orchestrator" step.
func (c *Client) ReloadAutomations(ctx context.Context) error {
	return c.post(ctx, "/api/services/automation/reload", nil)
}

// CallService invokes one of turn_on/turn_off/trigger against an entity,
// the same three calls the original source's orchestrator client exposes.
func (c *Client) CallService(ctx context.Context, service string, entityID string) error {
	switch service {
	case "turn_on", "turn_off", "trigger":
	default:
		return fmt.Errorf("automationapi: unsupported service %q", service)
	}
	return c.post(ctx, "/api/services/automation/"+service, map[string]any{"entity_id": entityID})
}

// State fetches the current state of one entity. The deploy handler does
// not call it; a deploy ends with the reload.
func (c *Client) State(ctx context.Context, entityID string) (string, error) {
	var payload struct {
		State string `json:"state"`
	}
	if err := c.get(ctx, "/api/states/"+entityID, &payload); err != nil {
		return "", err
	}
	return payload.State, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		c.authorize(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := c.checkStatus(resp, path); err != nil {
			return err
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		var reader *bytes.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reader = bytes.NewReader(encoded)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return c.checkStatus(resp, path)
	})
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode == http.StatusNotFound {
		return &retryutil.NonRetryable{Status: resp.StatusCode, Err: apperrors.New(apperrors.KindNotFound, "not found: "+path)}
	}
	if resp.StatusCode >= 400 && !retryutil.StatusIsRetryable(resp.StatusCode) {
		return &retryutil.NonRetryable{Status: resp.StatusCode, Err: fmt.Errorf("orchestrator returned %d for %s", resp.StatusCode, path)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("orchestrator returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
