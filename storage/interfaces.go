// Package storage defines the persisted-state boundary of the engine:
// create/read/update/query-by-time-range for events, rules, and alerts.
// The engine does not own the storage schema; implementations here are
// collaborators behind these narrow interfaces.
package storage

import (
	"context"
	"time"

	"argus/core"
)

// EventStorage persists canonical events. Events are never deleted by this
// subsystem; archival is an external concern.
type EventStorage interface {
	InsertEvent(ctx context.Context, event *core.Event) error
	GetEvent(ctx context.Context, id string) (*core.Event, error)
	UpdateEvent(ctx context.Context, event *core.Event) error
	GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]*core.Event, error)
}

// RuleStorage persists detection rules, including their trigger and
// false-positive counters.
type RuleStorage interface {
	CreateRule(ctx context.Context, rule *core.Rule) error
	GetRule(ctx context.Context, id string) (*core.Rule, error)
	UpdateRule(ctx context.Context, rule *core.Rule) error
	ListRules(ctx context.Context, limit, offset int) ([]*core.Rule, error)
	GetEnabledRules(ctx context.Context) ([]*core.Rule, error)
}

// CorrelationRuleStorage persists correlation rules.
type CorrelationRuleStorage interface {
	CreateCorrelationRule(ctx context.Context, rule *core.CorrelationRule) error
	GetCorrelationRule(ctx context.Context, id string) (*core.CorrelationRule, error)
	UpdateCorrelationRule(ctx context.Context, rule *core.CorrelationRule) error
	ListCorrelationRules(ctx context.Context, limit, offset int) ([]*core.CorrelationRule, error)
	GetEnabledCorrelationRules(ctx context.Context) ([]*core.CorrelationRule, error)
}

// AlertFilter narrows and paginates alert queries.
type AlertFilter struct {
	Status   core.AlertStatus
	Severity core.Severity
	RuleID   string
	Limit    int
	Offset   int
}

// AlertStorage persists alerts and supports the dedup fingerprint lookup.
type AlertStorage interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	UpdateAlert(ctx context.Context, alert *core.Alert) error
	FindAlertsByFingerprint(ctx context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, int64, error)
	GetAlertsByTimeRange(ctx context.Context, start, end time.Time) ([]*core.Alert, error)
}

// Storage aggregates all persistence concerns of the engine.
type Storage interface {
	EventStorage
	RuleStorage
	CorrelationRuleStorage
	AlertStorage
	Close(ctx context.Context) error
}
