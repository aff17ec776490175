// Package eventstore fetches historical Home Assistant-style events from
// the external time-series store, with retry/back-off and a health check
// (§4.1).
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/retryutil"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// Filter optionally narrows a fetch to one entity/device/domain.
type Filter struct {
	EntityID string
	DeviceID string
	Domain   string
}

// Client fetches events from the remote store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     *retryutil.Policy
	log        *logrus.Entry
}

// New builds a Client bound to baseURL (the EVENT_STORE_URL collaborator).
func New(baseURL string, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				MaxConnsPerHost:     10,
			},
		},
		policy: retryutil.NewPolicy("eventstore", 2*time.Second, 10*time.Second, 3),
		log:    log.WithField("component", "eventstore"),
	}
}

type eventsResponse struct {
	Events []wireEvent `json:"events"`
}

type wireEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	EntityID   string         `json:"entity_id"`
	DeviceID   string         `json:"device_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func domainOf(entityID string) string {
	for i, r := range entityID {
		if r == '.' {
			return entityID[:i]
		}
	}
	return entityID
}

// FetchEvents returns events in [from, to], ordered by timestamp ascending,
// bounded at limit. Retries transient failures per the shared retry policy;
// 4xx responses are surfaced immediately without retry.
func (c *Client) FetchEvents(ctx context.Context, from, to time.Time, filter Filter, limit int) ([]model.Event, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(limit))
	if filter.EntityID != "" {
		q.Set("entity_id", filter.EntityID)
	}
	if filter.DeviceID != "" {
		q.Set("device_id", filter.DeviceID)
	}
	if filter.Domain != "" {
		q.Set("domain", filter.Domain)
	}

	var parsed eventsResponse
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && !retryutil.StatusIsRetryable(resp.StatusCode) {
			return &retryutil.NonRetryable{Status: resp.StatusCode, Err: fmt.Errorf("event store returned %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("event store returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(parsed.Events))
	for _, w := range parsed.Events {
		events = append(events, model.Event{
			Timestamp:  w.Timestamp,
			EntityID:   w.EntityID,
			DeviceID:   w.DeviceID,
			Domain:     domainOf(w.EntityID),
			State:      w.State,
			Attributes: w.Attributes,
		})
	}
	return events, nil
}

// Health reports the remote store's liveness.
func (c *Client) Health(ctx context.Context) (model.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return model.HealthDown, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("event store health check failed")
		return model.HealthDown, nil
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return model.HealthOK, nil
	case resp.StatusCode < 500:
		return model.HealthDegraded, nil
	default:
		return model.HealthDown, nil
	}
}
