package config

import (
	"fmt"
	"os"
	"time"

	"argus/core"

	"gopkg.in/yaml.v3"
)

// ruleDoc is the YAML shape of a detection rule.
type ruleDoc struct {
	ID         string             `yaml:"id"`
	Name       string             `yaml:"name"`
	Enabled    *bool              `yaml:"enabled"`
	Type       string             `yaml:"type"`
	Conditions []core.Condition   `yaml:"conditions"`
	Severity   string             `yaml:"severity"`
	Template   core.AlertTemplate `yaml:"template"`
	Actions    []core.RuleAction  `yaml:"actions"`
}

// correlationRuleDoc is the YAML shape of a correlation rule. The window is
// declared in seconds.
type correlationRuleDoc struct {
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Enabled       *bool              `yaml:"enabled"`
	Type          string             `yaml:"type"`
	Conditions    []core.Condition   `yaml:"conditions"`
	WindowSeconds int                `yaml:"window_seconds"`
	MinEvents     int                `yaml:"min_events"`
	MaxEvents     int                `yaml:"max_events"`
	GroupBy       []string           `yaml:"group_by"`
	Severity      string             `yaml:"severity"`
	AlertOnMatch  *bool              `yaml:"alert_on_match"`
	Template      core.AlertTemplate `yaml:"template"`
}

type rulesFile struct {
	Rules            []ruleDoc            `yaml:"rules"`
	CorrelationRules []correlationRuleDoc `yaml:"correlation_rules"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// LoadRulesFile reads seed rules from a YAML file. Rules default to enabled
// and correlation rules to alert-on-match unless the file says otherwise.
// Every rule is validated; a single bad rule fails the whole file so a typo
// cannot silently disable a detection.
func LoadRulesFile(path string) ([]*core.Rule, []*core.CorrelationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	now := time.Now().UTC()
	rules := make([]*core.Rule, 0, len(file.Rules))
	for i, doc := range file.Rules {
		rule := &core.Rule{
			ID:         doc.ID,
			Name:       doc.Name,
			Enabled:    boolOr(doc.Enabled, true),
			Type:       core.RuleType(doc.Type),
			Conditions: doc.Conditions,
			Severity:   core.Severity(doc.Severity),
			Template:   doc.Template,
			Actions:    doc.Actions,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := rule.Validate(); err != nil {
			return nil, nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}

	correlationRules := make([]*core.CorrelationRule, 0, len(file.CorrelationRules))
	for i, doc := range file.CorrelationRules {
		rule := &core.CorrelationRule{
			ID:            doc.ID,
			Name:          doc.Name,
			Enabled:       boolOr(doc.Enabled, true),
			Type:          core.CorrelationType(doc.Type),
			Conditions:    doc.Conditions,
			Window:        time.Duration(doc.WindowSeconds) * time.Second,
			MinEvents:     doc.MinEvents,
			MaxEvents:     doc.MaxEvents,
			GroupByFields: doc.GroupBy,
			Severity:      core.Severity(doc.Severity),
			AlertOnMatch:  boolOr(doc.AlertOnMatch, true),
			Template:      doc.Template,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := rule.Validate(); err != nil {
			return nil, nil, fmt.Errorf("correlation_rules[%d]: %w", i, err)
		}
		correlationRules = append(correlationRules, rule)
	}
	return rules, correlationRules, nil
}
