// Package usage tracks LLM token consumption and estimated cost. In-memory
// atomic counters accumulate per-call usage; DayTotalFor builds a per-day
// rollup, but nothing in this repository writes per-day totals to the
// SuggestionStore. spec.md §9's "global usage counters become atomic
// counters on the generator component" redesign note is implemented here.
package usage

import (
	"sync/atomic"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// defaultInputRatePerMillion and defaultOutputRatePerMillion are the cost, in
// USD, per one million input and output tokens. These are illustrative defaults; callers needing a
// different price list build a Tracker with NewTrackerWithRates.
var defaultInputRatePerMillion = 3.0
var defaultOutputRatePerMillion = 15.0

// Snapshot is a value-copy read of a Tracker's running totals.
type Snapshot struct {
	InputTokens  int64
	OutputTokens int64
	Calls        int64
	EstCostUSD   float64
}

// Tracker accumulates token usage and cost across LLM calls. Safe for
// concurrent use; reads return a Snapshot, never the live counters.
type Tracker struct {
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	calls        atomic.Int64

	inputRate  float64
	outputRate float64

	encoding *tiktoken.Tiktoken
}

// NewTracker builds a Tracker using the default per-million-token rates.
func NewTracker() *Tracker {
	return NewTrackerWithRates(defaultInputRatePerMillion, defaultOutputRatePerMillion)
}

// NewTrackerWithRates builds a Tracker with explicit USD-per-million-token
// rates, for callers pricing a non-default model.
func NewTrackerWithRates(inputRatePerMillion, outputRatePerMillion float64) *Tracker {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Tracker{inputRate: inputRatePerMillion, outputRate: outputRatePerMillion, encoding: enc}
}

// EstimateTokens counts the tokens a prompt string would consume, for
// pre-call budget checks. Returns 0 if the encoder failed to load.
func (t *Tracker) EstimateTokens(text string) int {
	if t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Record adds one call's usage to the running totals and returns the
// incremental cost of this call.
func (t *Tracker) Record(inputTokens, outputTokens int) float64 {
	t.inputTokens.Add(int64(inputTokens))
	t.outputTokens.Add(int64(outputTokens))
	t.calls.Add(1)
	return t.inputRate*float64(inputTokens)/1_000_000 + t.outputRate*float64(outputTokens)/1_000_000
}

// Snapshot returns a value-copy of the running totals.
func (t *Tracker) Snapshot() Snapshot {
	input := t.inputTokens.Load()
	output := t.outputTokens.Load()
	return Snapshot{
		InputTokens:  input,
		OutputTokens: output,
		Calls:        t.calls.Load(),
		EstCostUSD:   t.inputRate*float64(input)/1_000_000 + t.outputRate*float64(output)/1_000_000,
	}
}

// DayTotal is the per-day rollup shape; no code in this repository persists it.
type DayTotal struct {
	Date         string // YYYY-MM-DD
	InputTokens  int64
	OutputTokens int64
	Calls        int64
	EstCostUSD   float64
}

// DayTotalFor converts a Snapshot taken at `at` into the per-day shape.
func DayTotalFor(snap Snapshot, at time.Time) DayTotal {
	return DayTotal{
		Date:         at.UTC().Format("2006-01-02"),
		InputTokens:  snap.InputTokens,
		OutputTokens: snap.OutputTokens,
		Calls:        snap.Calls,
		EstCostUSD:   snap.EstCostUSD,
	}
}
