package core

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// CorrelationType defines the matching discipline of a correlation rule.
type CorrelationType string

const (
	// CorrelationSequential matches conditions strictly in declared order.
	CorrelationSequential CorrelationType = "sequential"
	// CorrelationParallel matches conditions in any order within the window.
	CorrelationParallel CorrelationType = "parallel"
	// CorrelationGrouped partitions events by grouping fields and matches
	// partitions that reach the minimum size.
	CorrelationGrouped CorrelationType = "grouped"
)

// IsValid checks if the correlation type is known
func (t CorrelationType) IsValid() bool {
	switch t {
	case CorrelationSequential, CorrelationParallel, CorrelationGrouped:
		return true
	default:
		return false
	}
}

// CorrelationRule is a stateful multi-event rule evaluated over a sliding
// time window. Distinct from Rule: it matches patterns across events rather
// than single events.
type CorrelationRule struct {
	ID            string          `json:"id" bson:"_id" validate:"required"`
	Name          string          `json:"name" bson:"name" validate:"required"`
	Enabled       bool            `json:"enabled" bson:"enabled"`
	Type          CorrelationType `json:"type" bson:"type"`
	Conditions    []Condition     `json:"conditions" bson:"conditions" validate:"required,min=1"`
	Window        time.Duration   `json:"window" bson:"window"`
	MinEvents     int             `json:"min_events" bson:"min_events" validate:"gte=2"`
	MaxEvents     int             `json:"max_events,omitempty" bson:"max_events,omitempty"`
	GroupByFields []string        `json:"group_by,omitempty" bson:"group_by,omitempty"`
	Severity      Severity        `json:"severity" bson:"severity"`
	AlertOnMatch  bool            `json:"alert_on_match" bson:"alert_on_match"`
	Template      AlertTemplate   `json:"template" bson:"template"`
	CreatedAt     time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" bson:"updated_at"`

	matchCount  atomic.Int64
	lastMatched atomic.Int64 // unix nanos, 0 = never
}

// Validate checks the correlation rule invariants: positive window, minimum
// event count of at least two, grouping fields for grouped rules.
func (r *CorrelationRule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: correlation rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: correlation rule id cannot be empty", ErrInvalidRule)
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: unknown correlation type %q", ErrInvalidRule, r.Type)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%w: correlation rule %s has non-positive window", ErrInvalidRule, r.ID)
	}
	if r.MinEvents < 2 {
		return fmt.Errorf("%w: correlation rule %s requires min_events >= 2, got %d", ErrInvalidRule, r.ID, r.MinEvents)
	}
	if r.MaxEvents != 0 && r.MaxEvents < r.MinEvents {
		return fmt.Errorf("%w: correlation rule %s has max_events < min_events", ErrInvalidRule, r.ID)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: correlation rule %s has no conditions", ErrInvalidRule, r.ID)
	}
	for i, cond := range r.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	if r.Type == CorrelationGrouped && len(r.GroupByFields) == 0 {
		return fmt.Errorf("%w: grouped correlation rule %s has no grouping fields", ErrInvalidRule, r.ID)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("%w: correlation rule %s has invalid severity %q", ErrInvalidRule, r.ID, r.Severity)
	}
	return nil
}

// RecordMatch increments the match counter and stamps the last-matched time.
func (r *CorrelationRule) RecordMatch(at time.Time) int64 {
	r.lastMatched.Store(at.UnixNano())
	return r.matchCount.Add(1)
}

// MatchCount returns how many times the rule has matched.
func (r *CorrelationRule) MatchCount() int64 {
	return r.matchCount.Load()
}

// LastMatched returns the timestamp of the most recent match, or the zero
// time if the rule has never matched.
func (r *CorrelationRule) LastMatched() time.Time {
	nanos := r.lastMatched.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
