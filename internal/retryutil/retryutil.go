// Package retryutil centralises the retry/back-off/circuit-breaker policy
// shared by every outbound HTTP collaborator (event store, device registry,
// LLM provider): exponential back-off starting at 2s, capped at 10s,
// n=3 retries after the first attempt by default, non-idempotent (4xx)
// errors never retried.
package retryutil

import (
	"context"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
)

var tracer = otel.Tracer("smarthome-analyzer/retryutil")

// Policy bundles a circuit breaker with the backoff parameters for one
// remote collaborator (named for the breaker's metrics/log lines).
type Policy struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	initial time.Duration
	cap     time.Duration
	retries uint64
}

// NewPolicy builds a Policy. initial/cap/retries default to the spec's
// 2s/10s/3 when zero-valued.
func NewPolicy(name string, initial, cap time.Duration, retries uint64) *Policy {
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if cap <= 0 {
		cap = 10 * time.Second
	}
	if retries == 0 {
		retries = 3
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Policy{name: name, breaker: breaker, initial: initial, cap: cap, retries: retries}
}

// NonRetryable wraps an error to signal the HTTP status it carries is a 4xx
// (or otherwise non-idempotent-unsafe) failure that must not be retried.
type NonRetryable struct {
	Status int
	Err    error
}

func (n *NonRetryable) Error() string { return n.Err.Error() }
func (n *NonRetryable) Unwrap() error { return n.Err }

// StatusIsRetryable reports whether an HTTP response status should be
// retried: 5xx and 429 are transient; the rest of the 4xx family is
// permanent per §4.1 ("MUST NOT retry non-idempotent errors (4xx)").
func StatusIsRetryable(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

// Do executes fn under the policy's circuit breaker, retrying transient
// failures with jittered exponential back-off. fn should wrap a 4xx
// response in *NonRetryable so Do stops immediately instead of burning the
// retry budget on a request that will never succeed.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, p.name, trace.WithAttributes(attribute.String("retryutil.policy", p.name)))
	defer span.End()

	backoff := retry.NewExponential(p.initial)
	backoff = retry.WithCappedDuration(p.cap, backoff)
	backoff = retry.WithMaxRetries(p.retries, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	var attempts int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		var nonRetryable *NonRetryable
		if errorsAs(err, &nonRetryable) {
			return apperrors.Wrap(apperrors.KindPermanentRemote, p.name+": non-retryable response", nonRetryable.Err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.RetryableError(apperrors.Wrap(apperrors.KindTransientRemote, p.name+": transient failure", err))
	})
	span.SetAttributes(attribute.Int("retryutil.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// errorsAs walks err's Unwrap chain and reports whether it holds a
// *NonRetryable, storing it in target: a hand-rolled errors.As for this one
// target type, so this file needs no "errors" import.
func errorsAs(err error, target **NonRetryable) bool {
	for err != nil {
		if nr, ok := err.(*NonRetryable); ok {
			*target = nr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
