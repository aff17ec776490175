// Package registry fetches devices (with their nested entities and area IDs)
// and per-device capability recommendations from the external
// device-registry collaborator (§4.2), sharing the event store's retry and
// circuit-breaker policy.
package registry

import (
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

// Client fetches device/entity/area metadata from the registry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     *retryutil.Policy
	log        *logrus.Entry
}

// New builds a Client bound to baseURL (the REGISTRY_URL collaborator).
func New(baseURL string, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				MaxConnsPerHost:     10,
			},
		},
		policy: retryutil.NewPolicy("registry", 2*time.Second, 10*time.Second, 3),
		log:    log.WithField("component", "registry"),
	}
}

type wireDevice struct {
	DeviceID     string  `json:"device_id"`
	Name         string  `json:"name"`
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	AreaID       string  `json:"area_id"`
	Integration  string  `json:"integration"`
	HealthScore  *int    `json:"health_score"`
	Entities     []struct {
		EntityID string `json:"entity_id"`
		Domain   string `json:"domain"`
	} `json:"entities"`
}

func (w wireDevice) toModel() model.DeviceRecord {
	refs := make([]model.EntityRef, 0, len(w.Entities))
	for _, e := range w.Entities {
		refs = append(refs, model.EntityRef{EntityID: e.EntityID, Domain: e.Domain})
	}
	return model.DeviceRecord{
		DeviceID:     w.DeviceID,
		Name:         w.Name,
		Manufacturer: w.Manufacturer,
		Model:        w.Model,
		AreaID:       w.AreaID,
		Integration:  w.Integration,
		HealthScore:  w.HealthScore,
		Entities:     refs,
	}
}

// ListDevices returns every registered device.
func (c *Client) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	var wire []wireDevice
	err := c.get(ctx, "/api/discovery/devices", &wire)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeviceRecord, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

// GetDevice looks up a single device. An unknown device_id yields a
// non-retryable KindNotFound error.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (model.DeviceRecord, error) {
	var wire wireDevice
	err := c.get(ctx, "/api/discovery/devices/"+deviceID, &wire)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	return wire.toModel(), nil
}

// Recommendations returns the registry's "exposes" recommendation payload
// for a device, consumed by CapabilityParser.
func (c *Client) Recommendations(ctx context.Context, deviceID string) (any, error) {
	var payload any
	if err := c.get(ctx, "/api/recommendations/"+deviceID, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return &retryutil.NonRetryable{
				Status: resp.StatusCode,
				Err:    apperrors.New(apperrors.KindNotFound, "device not found: "+path),
			}
		}
		if resp.StatusCode >= 400 && !retryutil.StatusIsRetryable(resp.StatusCode) {
			return &retryutil.NonRetryable{Status: resp.StatusCode, Err: fmt.Errorf("registry returned %d for %s", resp.StatusCode, path)}
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("registry returned %d for %s", resp.StatusCode, path)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// Health reports the registry's liveness.
func (c *Client) Health(ctx context.Context) model.HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return model.HealthDown
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("registry health check failed")
		return model.HealthDown
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return model.HealthOK
	case resp.StatusCode < 500:
		return model.HealthDegraded
	default:
		return model.HealthDown
	}
}
