package core

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	// AlertStatusOpen indicates a newly created alert awaiting review
	AlertStatusOpen AlertStatus = "open"
	// AlertStatusAcknowledged indicates an alert an operator has claimed
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusInvestigating indicates active investigation
	AlertStatusInvestigating AlertStatus = "investigating"
	// AlertStatusResolved is terminal: the alert was handled
	AlertStatusResolved AlertStatus = "resolved"
	// AlertStatusFalsePositive is terminal: the alert was a false positive
	AlertStatusFalsePositive AlertStatus = "false_positive"
	// AlertStatusSuppressed parks the alert; only an explicit reopen leaves it
	AlertStatusSuppressed AlertStatus = "suppressed"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusInvestigating,
		AlertStatusResolved, AlertStatusFalsePositive, AlertStatusSuppressed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the alert's lifecycle.
// Suppressed is treated as terminal except for the explicit reopen edge.
func (s AlertStatus) IsTerminal() bool {
	switch s {
	case AlertStatusResolved, AlertStatusFalsePositive, AlertStatusSuppressed:
		return true
	default:
		return false
	}
}

// AuditEntry records an operator or engine action taken on an alert.
type AuditEntry struct {
	Action    string    `json:"action" bson:"action"`
	Actor     string    `json:"actor" bson:"actor"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Comment is a free-text note attached to an alert.
type Comment struct {
	Author    string    `json:"author" bson:"author"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Alert is the central mutable entity produced from trigger records.
// Invariants enforced by the lifecycle manager: ResolvedAt is set iff status
// is resolved or false_positive; escalation level only increases, and only
// while the alert is open or acknowledged.
type Alert struct {
	AlertID           string        `json:"alert_id" bson:"_id"`
	Title             string        `json:"title" bson:"title"`
	Description       string        `json:"description" bson:"description"`
	Severity          Severity      `json:"severity" bson:"severity"`
	Status            AlertStatus   `json:"status" bson:"status"`
	RuleID            string        `json:"rule_id" bson:"rule_id"`
	RuleSource        TriggerSource `json:"rule_source" bson:"rule_source"`
	EventIDs          []string      `json:"event_ids" bson:"event_ids"`
	AssignedTo        string        `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	CreatedAt         time.Time     `json:"created_at" bson:"created_at"`
	AcknowledgedAt    *time.Time    `json:"acknowledged_at,omitempty" bson:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	EscalationLevel   int           `json:"escalation_level" bson:"escalation_level"`
	SuppressionReason string        `json:"suppression_reason,omitempty" bson:"suppression_reason,omitempty"`
	Fingerprint       string        `json:"fingerprint,omitempty" bson:"fingerprint,omitempty"`
	DuplicateCount    int           `json:"duplicate_count" bson:"duplicate_count"`
	LastSeen          time.Time     `json:"last_seen" bson:"last_seen"`
	Comments          []Comment     `json:"comments,omitempty" bson:"comments,omitempty"`
	AuditLog          []AuditEntry  `json:"audit_log,omitempty" bson:"audit_log,omitempty"`
}

// NewAlert creates an open alert from a trigger record.
func NewAlert(trigger TriggerRecord, now time.Time) *Alert {
	ids := make([]string, len(trigger.EventIDs))
	copy(ids, trigger.EventIDs)
	return &Alert{
		AlertID:     uuid.New().String(),
		Title:       trigger.Title,
		Description: trigger.Description,
		Severity:    trigger.Severity,
		Status:      AlertStatusOpen,
		RuleID:      trigger.RuleID,
		RuleSource:  trigger.Source,
		EventIDs:    ids,
		CreatedAt:   now,
		LastSeen:    now,
	}
}

// Clone returns a deep copy of the alert. Callers mutate the clone and only
// persist it on success, so a failed write leaves the stored alert intact.
func (a *Alert) Clone() *Alert {
	clone := *a
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		clone.AcknowledgedAt = &at
	}
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		clone.ResolvedAt = &at
	}
	if a.EventIDs != nil {
		clone.EventIDs = append([]string(nil), a.EventIDs...)
	}
	if a.Comments != nil {
		clone.Comments = append([]Comment(nil), a.Comments...)
	}
	if a.AuditLog != nil {
		clone.AuditLog = append([]AuditEntry(nil), a.AuditLog...)
	}
	return &clone
}

// Audit appends an entry to the alert's action log.
func (a *Alert) Audit(action, actor string, at time.Time) {
	a.AuditLog = append(a.AuditLog, AuditEntry{Action: action, Actor: actor, Timestamp: at})
}

// AddComment appends a free-text note.
func (a *Alert) AddComment(author, text string, at time.Time) {
	if text == "" {
		return
	}
	a.Comments = append(a.Comments, Comment{Author: author, Text: text, Timestamp: at})
}

// MergeEventIDs unions the given event identifiers into the alert's
// contributing-event list, preserving first-seen order.
func (a *Alert) MergeEventIDs(eventIDs []string) {
	seen := make(map[string]struct{}, len(a.EventIDs))
	for _, id := range a.EventIDs {
		seen[id] = struct{}{}
	}
	for _, id := range eventIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		a.EventIDs = append(a.EventIDs, id)
	}
}
