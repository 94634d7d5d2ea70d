package core

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the canonical five-level event and alert severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the canonical values
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// Severities lists the canonical values from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// SourceCategory classifies where an event originated.
type SourceCategory string

const (
	SourceNetworkDevice   SourceCategory = "network-device"
	SourceServer          SourceCategory = "server"
	SourceApplication     SourceCategory = "application"
	SourceIdentitySystem  SourceCategory = "identity-system"
	SourceIntrusionSensor SourceCategory = "intrusion-sensor"
	SourceGeneric         SourceCategory = "generic"
)

// IsValid checks if the source category is one of the fixed set
func (c SourceCategory) IsValid() bool {
	switch c {
	case SourceNetworkDevice, SourceServer, SourceApplication,
		SourceIdentitySystem, SourceIntrusionSensor, SourceGeneric:
		return true
	default:
		return false
	}
}

// Outcome is the result recorded on an event's action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Event represents the common event schema for all ingested security events.
// Events are immutable once created except for correlation back-references
// and enrichment appended through AddCorrelationRef.
type Event struct {
	EventID         string                 `json:"event_id" bson:"_id"`
	Timestamp       time.Time              `json:"timestamp" bson:"timestamp"`
	Source          string                 `json:"source" bson:"source"`
	SourceCategory  SourceCategory         `json:"source_category" bson:"source_category"`
	SourceFormat    string                 `json:"source_format" bson:"source_format"`
	Severity        Severity               `json:"severity" bson:"severity"`
	Actor           string                 `json:"actor,omitempty" bson:"actor,omitempty"`
	SourceAddr      string                 `json:"source_addr,omitempty" bson:"source_addr,omitempty"`
	DestAddr        string                 `json:"dest_addr,omitempty" bson:"dest_addr,omitempty"`
	SourcePort      int                    `json:"source_port,omitempty" bson:"source_port,omitempty"`
	DestPort        int                    `json:"dest_port,omitempty" bson:"dest_port,omitempty"`
	Protocol        string                 `json:"protocol,omitempty" bson:"protocol,omitempty"`
	Action          string                 `json:"action,omitempty" bson:"action,omitempty"`
	Outcome         Outcome                `json:"outcome" bson:"outcome"`
	Fields          map[string]interface{} `json:"fields" bson:"fields"`
	RawData         string                 `json:"raw_data" bson:"raw_data"`
	CorrelationRefs []string               `json:"correlation_refs,omitempty" bson:"correlation_refs,omitempty"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent() *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Outcome:   OutcomeUnknown,
		Fields:    make(map[string]interface{}),
	}
}

// AddCorrelationRef appends a back-reference to another event this event was
// matched with. Duplicate references are ignored.
func (e *Event) AddCorrelationRef(eventID string) {
	if eventID == "" || eventID == e.EventID {
		return
	}
	for _, ref := range e.CorrelationRefs {
		if ref == eventID {
			return
		}
	}
	e.CorrelationRefs = append(e.CorrelationRefs, eventID)
}

// Field returns the named normalized field, or nil if absent.
func (e *Event) Field(name string) interface{} {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[name]
}
