package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRulesFile_ParsesBothRuleKinds(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: failed-login
    name: Failed login
    type: signature
    severity: high
    conditions:
      - field: action
        operator: equals
        value: login
      - field: outcome
        operator: equals
        value: failure
    template:
      title: Failed login
      description: A login attempt failed

correlation_rules:
  - id: brute-force
    name: Brute force
    type: grouped
    window_seconds: 300
    min_events: 5
    group_by: [source_addr]
    severity: critical
    conditions:
      - field: outcome
        operator: equals
        value: failure
`)

	rules, correlationRules, err := LoadRulesFile(path)
	require.NoError(t, err)

	require.Len(t, rules, 1)
	rule := rules[0]
	assert.Equal(t, "failed-login", rule.ID)
	assert.True(t, rule.Enabled, "enabled defaults to true")
	assert.Equal(t, core.SeverityHigh, rule.Severity)
	assert.Len(t, rule.Conditions, 2)
	assert.Equal(t, 1, rule.Version)

	require.Len(t, correlationRules, 1)
	crule := correlationRules[0]
	assert.Equal(t, core.CorrelationGrouped, crule.Type)
	assert.Equal(t, 5*time.Minute, crule.Window)
	assert.Equal(t, []string{"source_addr"}, crule.GroupByFields)
	assert.True(t, crule.AlertOnMatch, "alert_on_match defaults to true")
}

func TestLoadRulesFile_ExplicitFlagsOverrideDefaults(t *testing.T) {
	path := writeRulesFile(t, `
correlation_rules:
  - id: recon
    name: Recon pattern
    type: parallel
    enabled: false
    alert_on_match: false
    window_seconds: 60
    min_events: 2
    severity: low
    conditions:
      - field: action
        operator: equals
        value: scan
      - field: action
        operator: equals
        value: probe
`)

	_, correlationRules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, correlationRules, 1)
	assert.False(t, correlationRules[0].Enabled)
	assert.False(t, correlationRules[0].AlertOnMatch)
}

func TestLoadRulesFile_OneBadRuleFailsTheFile(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: ok
    name: Fine
    severity: high
    conditions:
      - field: action
        operator: equals
        value: login
  - id: broken
    name: No conditions
    severity: high
`)

	_, _, err := LoadRulesFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidRule)
}

func TestLoadRulesFile_MissingFile(t *testing.T) {
	_, _, err := LoadRulesFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRulesFile_MalformedYAML(t *testing.T) {
	path := writeRulesFile(t, "rules: [unclosed")
	_, _, err := LoadRulesFile(path)
	assert.Error(t, err)
}
