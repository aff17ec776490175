package httpapi

import (
	"context"

	"github.com/open-policy-agent/opa/rego"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/pkg/safety"
)

// overridePolicy is the deploy-override authorization rule: a deploy
// blocked by a critical safety finding may only proceed when the caller
// explicitly requested an override *and* ALLOW_SAFETY_OVERRIDE is set,
// as DESIGN.md's pkg/safety entry describes. Kept data-driven through OPA's
// embedded rego.New evaluator rather than inlined as a Go if-statement, so
// the rule can later grow conditions (safety level, category) without a
// code change — the same separation the teacher draws around its own
// rego-policy packages for approval gating.
const overridePolicy = `
package smarthome.deploy

default allow = false

allow {
	input.override_enabled
	input.requested_override
}
`

// overrideGate wraps a prepared rego query so every deploy request reuses
// the same compiled policy instead of recompiling it per call.
type overrideGate struct {
	log   *logrus.Entry
	query rego.PreparedEvalQuery
	ready bool
}

func newOverrideGate(log *logrus.Entry) *overrideGate {
	g := &overrideGate{log: log}
	query, err := rego.New(
		rego.Query("data.smarthome.deploy.allow"),
		rego.Module("override.rego", overridePolicy),
	).PrepareForEval(context.Background())
	if err != nil {
		if log != nil {
			log.WithError(err).Error("failed to prepare deploy-override policy, overrides will be denied")
		}
		return g
	}
	g.query = query
	g.ready = true
	return g
}

// allow evaluates the override policy for a caller who requested an
// override on a deploy blocked by report's critical findings.
// overrideEnabled is the ALLOW_SAFETY_OVERRIDE configuration value; report
// is accepted for symmetry with the policy's future growth even though the
// current rule does not yet branch on it.
func (g *overrideGate) allow(overrideEnabled bool, report safety.Report) bool {
	if !g.ready {
		return false
	}
	input := map[string]any{
		"override_enabled":   overrideEnabled,
		"requested_override": true,
		"has_critical":       len(report.Critical) > 0,
	}
	results, err := g.query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		g.log.WithError(err).Warn("deploy-override policy evaluation failed, denying override")
		return false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed
}
