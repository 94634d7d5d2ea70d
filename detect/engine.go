package detect

import (
	"fmt"
	"sort"
	"sync"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Engine evaluates each event independently against the loaded detection
// rules. Evaluation has no side effects beyond the rules' own atomic
// counters, so concurrent Evaluate calls are safe.
type Engine struct {
	mu      sync.RWMutex
	rules   map[string]*core.Rule
	matcher *Matcher
	logger  *zap.SugaredLogger
}

// NewEngine creates a detection engine.
func NewEngine(matcher *Matcher, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		rules:   make(map[string]*core.Rule),
		matcher: matcher,
		logger:  logger,
	}
}

// AddRule validates and registers a rule. Invalid rules are rejected and
// never evaluated.
func (e *Engine) AddRule(rule *core.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

// RemoveRule unregisters a rule.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}
	delete(e.rules, id)
	return nil
}

// ReloadRules replaces the loaded rule set. Rules failing validation are
// skipped and reported; valid rules still load (per-rule isolation).
func (e *Engine) ReloadRules(rules []*core.Rule) []error {
	loaded := make(map[string]*core.Rule, len(rules))
	var errs []error
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded[rule.ID] = rule
	}
	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()
	e.logger.Infow("Reloaded detection rules", "loaded", len(loaded), "rejected", len(errs))
	return errs
}

// Rule returns a loaded rule by ID.
func (e *Engine) Rule(id string) (*core.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}
	return rule, nil
}

// Evaluate runs the event through every enabled rule and returns a trigger
// record per matching rule. All conditions on a rule must match.
func (e *Engine) Evaluate(event *core.Event) []core.TriggerRecord {
	e.mu.RLock()
	rules := make([]*core.Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	e.mu.RUnlock()

	var triggers []core.TriggerRecord
	for _, rule := range rules {
		if !e.matcher.MatchAll(event, rule.Conditions) {
			continue
		}
		rule.RecordTrigger()
		metrics.TriggersEmitted.WithLabelValues("detection").Inc()
		triggers = append(triggers, core.TriggerRecord{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Source:      core.TriggerSourceDetection,
			Severity:    rule.Severity,
			Title:       rule.Template.Title,
			Description: rule.Template.Description,
			EventIDs:    []string{event.EventID},
			Confidence:  1.0,
			Actions:     rule.Actions,
			Timestamp:   event.Timestamp,
		})
		e.logger.Debugw("Detection rule triggered", "rule_id", rule.ID, "event_id", event.EventID)
	}
	return triggers
}

// RuleStats is the per-rule slice of the engine statistics.
type RuleStats struct {
	RuleID         string `json:"rule_id"`
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	Triggers       int64  `json:"triggers"`
	FalsePositives int64  `json:"false_positives"`
}

// Statistics summarizes the loaded rule set and its counters.
type Statistics struct {
	TotalRules          int         `json:"total_rules"`
	EnabledRules        int         `json:"enabled_rules"`
	TotalTriggers       int64       `json:"total_triggers"`
	TotalFalsePositives int64       `json:"total_false_positives"`
	PerRule             []RuleStats `json:"per_rule"`
}

// Statistics returns a snapshot of rule counts and trigger/false-positive
// counters, sorted by rule ID for stable output.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Statistics{TotalRules: len(e.rules)}
	for _, rule := range e.rules {
		if rule.Enabled {
			stats.EnabledRules++
		}
		triggers := rule.TriggerCount()
		falsePositives := rule.FalsePositiveCount()
		stats.TotalTriggers += triggers
		stats.TotalFalsePositives += falsePositives
		stats.PerRule = append(stats.PerRule, RuleStats{
			RuleID:         rule.ID,
			Name:           rule.Name,
			Enabled:        rule.Enabled,
			Triggers:       triggers,
			FalsePositives: falsePositives,
		})
	}
	sort.Slice(stats.PerRule, func(i, j int) bool {
		return stats.PerRule[i].RuleID < stats.PerRule[j].RuleID
	})
	return stats
}
