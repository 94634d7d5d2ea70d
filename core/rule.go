package core

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// RuleType classifies stateless per-event detection rules.
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypeAnomaly   RuleType = "anomaly"
	RuleTypeSignature RuleType = "signature"
)

// TriggerSource identifies which engine produced a trigger record.
type TriggerSource string

const (
	TriggerSourceDetection   TriggerSource = "detection"
	TriggerSourceCorrelation TriggerSource = "correlation"
)

// ConditionOperator is the closed set of comparison operators a rule
// condition may use. The evaluator switches exhaustively over these.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpContains    ConditionOperator = "contains"
	OpRegex       ConditionOperator = "regex"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
)

// IsValid checks if the operator is part of the closed set
func (op ConditionOperator) IsValid() bool {
	switch op {
	case OpEquals, OpContains, OpRegex, OpGreaterThan, OpLessThan:
		return true
	default:
		return false
	}
}

// Condition is a single field comparison. Conditions on a rule combine
// conjunctively; there is no native disjunction.
type Condition struct {
	Field    string            `json:"field" bson:"field" yaml:"field" validate:"required"`
	Operator ConditionOperator `json:"operator" bson:"operator" yaml:"operator" validate:"required"`
	Value    interface{}       `json:"value" bson:"value" yaml:"value" validate:"required"`
}

// Validate checks the condition for structural problems.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("%w: condition field cannot be empty", ErrInvalidRule)
	}
	if !c.Operator.IsValid() {
		return fmt.Errorf("%w: unknown condition operator %q", ErrInvalidRule, c.Operator)
	}
	if c.Value == nil {
		return fmt.Errorf("%w: condition value cannot be nil", ErrInvalidRule)
	}
	return nil
}

// AlertTemplate carries the title/description stamped onto alerts a rule
// generates.
type AlertTemplate struct {
	Title       string `json:"title" bson:"title" yaml:"title"`
	Description string `json:"description" bson:"description" yaml:"description"`
}

// RuleAction is an action requested when a rule triggers.
type RuleAction string

const (
	ActionNotify   RuleAction = "notify"
	ActionEscalate RuleAction = "escalate"
	ActionAssign   RuleAction = "assign"
)

// Rule represents a stateless per-event detection rule. Trigger and
// false-positive counters are mutated only through the atomic helpers so
// concurrent evaluation workers never race on them.
type Rule struct {
	ID         string        `json:"id" bson:"_id" validate:"required"`
	Name       string        `json:"name" bson:"name" validate:"required"`
	Enabled    bool          `json:"enabled" bson:"enabled"`
	Type       RuleType      `json:"type" bson:"type"`
	Conditions []Condition   `json:"conditions" bson:"conditions" validate:"required,min=1"`
	Severity   Severity      `json:"severity" bson:"severity"`
	Template   AlertTemplate `json:"template" bson:"template"`
	Actions    []RuleAction  `json:"actions,omitempty" bson:"actions,omitempty"`
	Version    int           `json:"version" bson:"version"`
	CreatedAt  time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" bson:"updated_at"`

	triggerCount       atomic.Int64
	falsePositiveCount atomic.Int64
}

// Validate checks the rule at creation/update time. A rule with zero
// conditions is rejected.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: rule id cannot be empty", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name cannot be empty", ErrInvalidRule)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", ErrInvalidRule, r.ID)
	}
	for i, cond := range r.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("%w: rule %s has invalid severity %q", ErrInvalidRule, r.ID, r.Severity)
	}
	return nil
}

// RecordTrigger atomically increments the trigger counter.
func (r *Rule) RecordTrigger() int64 {
	return r.triggerCount.Add(1)
}

// RecordFalsePositive atomically increments the false-positive counter.
func (r *Rule) RecordFalsePositive() int64 {
	return r.falsePositiveCount.Add(1)
}

// TriggerCount returns the number of times the rule has triggered.
func (r *Rule) TriggerCount() int64 {
	return r.triggerCount.Load()
}

// FalsePositiveCount returns the number of alerts from this rule that were
// marked false positive.
func (r *Rule) FalsePositiveCount() int64 {
	return r.falsePositiveCount.Load()
}

// SetCounters restores persisted counter values, e.g. after loading the rule
// from storage.
func (r *Rule) SetCounters(triggers, falsePositives int64) {
	r.triggerCount.Store(triggers)
	r.falsePositiveCount.Store(falsePositives)
}
