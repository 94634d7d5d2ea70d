package core

import "time"

// TriggerRecord is the intermediate signal an engine emits when a rule's
// conditions are satisfied. The alert lifecycle manager consumes it.
type TriggerRecord struct {
	RuleID      string        `json:"rule_id"`
	RuleName    string        `json:"rule_name"`
	Source      TriggerSource `json:"source"`
	Severity    Severity      `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	EventIDs    []string      `json:"event_ids"`
	Confidence  float64       `json:"confidence"`
	Actions     []RuleAction  `json:"actions,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
