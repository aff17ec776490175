package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
	"github.com/homelab-ai/smarthome-analyzer/internal/retryutil"
)

// Client completes chat requests against a primary backend, retrying
// transient failures under a circuit breaker, and falling over to a
// secondary backend once the primary's breaker opens or its retries are
// exhausted (§2 "LLM primary/secondary provider").
type Client struct {
	primary   Backend
	secondary Backend // nil when no fallback is configured
	policy    *retryutil.Policy
	log       *logrus.Logger
}

// NewClient builds a Client. secondary may be nil.
func NewClient(primary, secondary Backend, log *logrus.Logger) *Client {
	return &Client{
		primary:   primary,
		secondary: secondary,
		policy:    retryutil.NewPolicy("llm."+primary.Name(), 2*time.Second, 10*time.Second, 3),
		log:       log,
	}
}

// Complete runs req against the primary backend, retrying transient
// failures, then fails over to the secondary backend (a single attempt, no
// further retry budget) if the primary's policy is exhausted.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.primary.Complete(ctx, req)
		return callErr
	})
	if err == nil {
		return resp, nil
	}

	if c.secondary == nil {
		return Response{}, apperrors.Wrap(apperrors.KindTransientRemote, "llm: primary backend exhausted, no secondary configured", err)
	}

	c.log.WithFields(logrus.Fields{
		"primary":   c.primary.Name(),
		"secondary": c.secondary.Name(),
		"error":     err.Error(),
	}).Warn("falling back to secondary LLM backend")

	resp, fallbackErr := c.secondary.Complete(ctx, req)
	if fallbackErr != nil {
		return Response{}, apperrors.Wrap(apperrors.KindTransientRemote, "llm: both backends failed", fallbackErr)
	}
	return resp, nil
}
