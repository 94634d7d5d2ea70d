package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() *Rule {
	return &Rule{
		ID:      "rule-1",
		Name:    "failed login",
		Enabled: true,
		Type:    RuleTypeSignature,
		Conditions: []Condition{
			{Field: "action", Operator: OpEquals, Value: "login"},
		},
		Severity: SeverityHigh,
		Template: AlertTemplate{Title: "Login failure", Description: "observed"},
	}
}

func TestRule_Validate_AcceptsValidRule(t *testing.T) {
	require.NoError(t, validRule().Validate())
}

func TestRule_Validate_RejectsZeroConditions(t *testing.T) {
	rule := validRule()
	rule.Conditions = nil
	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRule_Validate_RejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"empty id", func(r *Rule) { r.ID = "  " }},
		{"empty name", func(r *Rule) { r.Name = "" }},
		{"unknown operator", func(r *Rule) { r.Conditions[0].Operator = "matches" }},
		{"empty condition field", func(r *Rule) { r.Conditions[0].Field = "" }},
		{"nil condition value", func(r *Rule) { r.Conditions[0].Value = nil }},
		{"invalid severity", func(r *Rule) { r.Severity = "urgent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
		})
	}
}

func TestRule_Counters_AreConcurrencySafe(t *testing.T) {
	rule := validRule()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rule.RecordTrigger()
			rule.RecordFalsePositive()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), rule.TriggerCount())
	assert.Equal(t, int64(50), rule.FalsePositiveCount())
}

func TestRule_SetCounters_RestoresPersistedValues(t *testing.T) {
	rule := validRule()
	rule.SetCounters(17, 3)
	assert.Equal(t, int64(17), rule.TriggerCount())
	assert.Equal(t, int64(3), rule.FalsePositiveCount())
}

func validCorrelationRule() *CorrelationRule {
	return &CorrelationRule{
		ID:      "corr-1",
		Name:    "brute force",
		Enabled: true,
		Type:    CorrelationGrouped,
		Conditions: []Condition{
			{Field: "outcome", Operator: OpEquals, Value: "failure"},
		},
		Window:        2 * time.Minute,
		MinEvents:     3,
		GroupByFields: []string{"source_addr"},
		Severity:      SeverityCritical,
		AlertOnMatch:  true,
	}
}

func TestCorrelationRule_Validate_AcceptsValidRule(t *testing.T) {
	require.NoError(t, validCorrelationRule().Validate())
}

func TestCorrelationRule_Validate_EnforcesInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CorrelationRule)
	}{
		{"zero window", func(r *CorrelationRule) { r.Window = 0 }},
		{"negative window", func(r *CorrelationRule) { r.Window = -time.Second }},
		{"min events below two", func(r *CorrelationRule) { r.MinEvents = 1 }},
		{"max below min", func(r *CorrelationRule) { r.MaxEvents = 2 }},
		{"grouped without group fields", func(r *CorrelationRule) { r.GroupByFields = nil }},
		{"no conditions", func(r *CorrelationRule) { r.Conditions = nil }},
		{"unknown type", func(r *CorrelationRule) { r.Type = "chained" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validCorrelationRule()
			tt.mutate(rule)
			assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
		})
	}
}

func TestCorrelationRule_RecordMatch_TracksCountAndTime(t *testing.T) {
	rule := validCorrelationRule()
	assert.True(t, rule.LastMatched().IsZero())

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rule.RecordMatch(at)
	rule.RecordMatch(at.Add(time.Minute))

	assert.Equal(t, int64(2), rule.MatchCount())
	assert.Equal(t, at.Add(time.Minute), rule.LastMatched())
}
