// Package model holds the data types shared by every stage of the analysis
// pipeline: raw events and device metadata in, patterns/opportunities in the
// middle, suggestions and feedback out.
package model

import "time"

// Event is an immutable record read from the event store.
type Event struct {
	Timestamp  time.Time
	EntityID   string
	DeviceID   string
	Domain     string
	State      string
	Attributes map[string]any
}

// EntityRef names one entity a device exposes.
type EntityRef struct {
	EntityID string
	Domain   string
}

// DeviceRecord is a read-only device as reported by the registry collaborator.
type DeviceRecord struct {
	DeviceID     string
	Name         string
	Manufacturer string
	Model        string
	AreaID       string
	Integration  string
	HealthScore  *int // 0-100, nil when unknown
	Entities     []EntityRef
}

// CapabilitySource records where a CapabilityRecord came from.
type CapabilitySource string

const (
	CapabilitySourceBridge   CapabilitySource = "bridge"
	CapabilitySourceManual   CapabilitySource = "manual"
	CapabilitySourceInferred CapabilitySource = "inferred"
)

// Complexity classifies how involved a capability is to configure.
type Complexity string

const (
	ComplexityEasy     Complexity = "easy"
	ComplexityMedium   Complexity = "medium"
	ComplexityAdvanced Complexity = "advanced"
)

// CapabilityKind distinguishes the shape of a CapabilityDescriptor.
type CapabilityKind string

const (
	CapabilityBinary    CapabilityKind = "binary"
	CapabilityNumeric   CapabilityKind = "numeric"
	CapabilityEnum      CapabilityKind = "enum"
	CapabilityComposite CapabilityKind = "composite"
)

// CapabilityDescriptor is a tagged variant describing one capability of a
// device model. Only the fields relevant to Kind are populated.
type CapabilityDescriptor struct {
	Kind        CapabilityKind
	MQTTName    string
	Complexity  Complexity
	Description string

	// binary
	ValueOn  string
	ValueOff string

	// numeric
	Min  *float64
	Max  *float64
	Unit string

	// enum
	Values []string

	// composite
	Features []string
}

// CapabilityRecord is the write-through cache entry for one device model.
type CapabilityRecord struct {
	DeviceModel  string
	Manufacturer string
	Description  string
	Capabilities map[string]CapabilityDescriptor // friendly_name -> descriptor
	RawExposes   any
	Source       CapabilitySource
	LastUpdated  time.Time
}

// Stale reports whether the record is older than the 30-day freshness window.
func (c CapabilityRecord) Stale(now time.Time) bool {
	return now.Sub(c.LastUpdated) > 30*24*time.Hour
}

// PatternType distinguishes the two detector families.
type PatternType string

const (
	PatternTimeOfDay    PatternType = "time_of_day"
	PatternCoOccurrence PatternType = "co_occurrence"
)

// Pattern is the common envelope emitted by both detectors. Exactly one of
// the type-specific payloads (TimeOfDay / CoOccurrence) is populated,
// matching PatternType.
type Pattern struct {
	PatternID   string
	PatternType PatternType
	Confidence  float64
	Occurrences int
	CreatedAt   time.Time

	TimeOfDay    *TimeOfDayPayload
	CoOccurrence *CoOccurrencePayload
}

// TimeOfDayPayload is the type-specific payload for PatternTimeOfDay.
type TimeOfDayPayload struct {
	EntityID    string
	Hour        int
	Minute      int
	StdMinutes  float64
	TotalEvents int
}

// CoOccurrencePayload is the type-specific payload for PatternCoOccurrence.
// EntityA/EntityB are sorted lexicographically so the pair is unordered.
type CoOccurrencePayload struct {
	EntityA         string
	EntityB         string
	WindowSeconds   int
	Support         float64
	AvgDeltaSeconds *float64
}

// Impact classifies how valuable an opportunity is judged to be.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// FeatureOpportunity names an unused capability of a specific device.
type FeatureOpportunity struct {
	DeviceID      string
	FeatureName   string
	FeatureKind   CapabilityKind
	Complexity    Complexity
	Impact        Impact
	PriorityScore int
}

// SynergyType distinguishes the kinds of cross-device synergies.
type SynergyType string

const (
	SynergyDevicePair     SynergyType = "device_pair"
	SynergyWeatherContext SynergyType = "weather_context"
	SynergyEnergyContext  SynergyType = "energy_context"
	SynergyEventContext   SynergyType = "event_context"
)

// SynergyOpportunity is a plausible but not-yet-implemented cross-device
// automation.
type SynergyOpportunity struct {
	SynergyID    string
	SynergyType  SynergyType
	Devices      []string
	Relationship string
	Area         string
	ImpactScore  float64
	Complexity   Complexity
	Confidence   float64
	Metadata     map[string]any
}

// SuggestionSource names which pipeline stage produced a Suggestion.
type SuggestionSource string

const (
	SourcePattern   SuggestionSource = "pattern"
	SourceFeature   SuggestionSource = "feature"
	SourceSynergy   SuggestionSource = "synergy"
	SourceCommunity SuggestionSource = "community"
)

// SuggestionCategory buckets a suggestion by the kind of value it delivers.
type SuggestionCategory string

const (
	CategoryEnergy      SuggestionCategory = "energy"
	CategoryComfort     SuggestionCategory = "comfort"
	CategorySecurity    SuggestionCategory = "security"
	CategoryConvenience SuggestionCategory = "convenience"
)

// Priority is the coarse urgency bucket attached to a Suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SuggestionStatus is the suggestion lifecycle state machine.
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusApproved SuggestionStatus = "approved"
	StatusRejected SuggestionStatus = "rejected"
	StatusModified SuggestionStatus = "modified"
	StatusDeployed SuggestionStatus = "deployed"
	StatusFailed   SuggestionStatus = "failed"
)

// Suggestion is a proposed automation the user may accept, reject, or edit.
type Suggestion struct {
	ID                string
	Source            SuggestionSource
	Title             string
	Description       string
	Rationale         string
	AutomationSpec    *AutomationSpec // nil until materialised on approval
	Confidence        float64
	Category          SuggestionCategory
	Priority          Priority
	PriorityScore     int
	Status            SuggestionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PatternRef        *string
	SynergyRef        *string
	ValidatedEntities []string
}

// AutomationSpec is the materialised, orchestrator-deployable automation.
// It mirrors the "automation_spec" wire shape from the external interface
// section: a trigger list, a condition list, and an action list, each
// expressed as a loosely-typed map so new trigger/condition/action kinds
// don't require a schema migration.
type AutomationSpec struct {
	Alias      string
	Triggers   []map[string]any
	Conditions []map[string]any
	Actions    []map[string]any
	Mode       string
}

// Aggregate is the common envelope for per-day, per-entity detector
// rollups. Exactly one of the payload fields is populated.
type Aggregate struct {
	Date        string // YYYY-MM-DD
	EntityID    string
	Domain      string
	TimeOfDay   *TimeOfDayAggregate
	CoOccurrence *CoOccurrenceAggregate
}

// TimeOfDayAggregate is the per-day rollup written by TimeOfDayDetector.
type TimeOfDayAggregate struct {
	HourlyCount [24]int
	PeakHours   []int
	Frequency   float64
	Confidence  float64
	Occurrences int
}

// CoOccurrenceAggregate is the per-day rollup written by CoOccurrenceDetector.
type CoOccurrenceAggregate struct {
	CombinedID      string
	Device1         string
	Device2         string
	Occurrences     int
	Confidence      float64
	Support         float64
	AvgDeltaSeconds *float64
	WindowMinutes   int
}

// FeedbackAction is the user's disposition on a suggestion.
type FeedbackAction string

const (
	FeedbackApproved FeedbackAction = "approved"
	FeedbackRejected FeedbackAction = "rejected"
	FeedbackModified FeedbackAction = "modified"
)

// Feedback records a user's disposition on a suggestion.
type Feedback struct {
	ID           string
	SuggestionID string
	Action       FeedbackAction
	FreeText     *string
	CreatedAt    time.Time
}

// Automation is a read-only summary of an automation already deployed on
// the collaborator, used by SynergyDetector and SafetyValidator to detect
// conflicts/duplicates by (trigger_entity, action_entity) tuple.
type Automation struct {
	ID             string
	TriggerEntity  string
	ActionEntity   string
	Alias          string
}

// HealthStatus is the tri-state reported by fetch-client health checks.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)
