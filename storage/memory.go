package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"argus/core"
)

// MemoryStorage is an in-memory implementation of the storage boundary.
// Used by tests and as the default backend for single-node deployments that
// do not need durability.
type MemoryStorage struct {
	mu               sync.RWMutex
	events           map[string]*core.Event
	rules            map[string]*core.Rule
	correlationRules map[string]*core.CorrelationRule
	alerts           map[string]*core.Alert
	alertOrder       []string // insertion order for stable listings
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events:           make(map[string]*core.Event),
		rules:            make(map[string]*core.Rule),
		correlationRules: make(map[string]*core.CorrelationRule),
		alerts:           make(map[string]*core.Alert),
	}
}

// InsertEvent stores an event.
func (m *MemoryStorage) InsertEvent(_ context.Context, event *core.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.EventID] = event
	return nil
}

// GetEvent returns an event by ID.
func (m *MemoryStorage) GetEvent(_ context.Context, id string) (*core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	return event, nil
}

// UpdateEvent replaces a stored event.
func (m *MemoryStorage) UpdateEvent(_ context.Context, event *core.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.EventID]; !ok {
		return notFound("event", event.EventID)
	}
	m.events[event.EventID] = event
	return nil
}

// GetEventsByTimeRange returns events with start <= timestamp < end,
// ordered by timestamp.
func (m *MemoryStorage) GetEventsByTimeRange(_ context.Context, start, end time.Time) ([]*core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.Event
	for _, event := range m.events {
		if !event.Timestamp.Before(start) && event.Timestamp.Before(end) {
			result = append(result, event)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// CreateRule stores a detection rule.
func (m *MemoryStorage) CreateRule(_ context.Context, rule *core.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return nil
}

// GetRule returns a detection rule by ID.
func (m *MemoryStorage) GetRule(_ context.Context, id string) (*core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, notFound("rule", id)
	}
	return rule, nil
}

// UpdateRule replaces a stored detection rule.
func (m *MemoryStorage) UpdateRule(_ context.Context, rule *core.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return notFound("rule", rule.ID)
	}
	m.rules[rule.ID] = rule
	return nil
}

// ListRules returns detection rules ordered by ID with pagination.
func (m *MemoryStorage) ListRules(_ context.Context, limit, offset int) ([]*core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]*core.Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return paginate(rules, limit, offset), nil
}

// GetEnabledRules returns all enabled detection rules.
func (m *MemoryStorage) GetEnabledRules(_ context.Context) ([]*core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rules []*core.Rule
	for _, rule := range m.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// CreateCorrelationRule stores a correlation rule.
func (m *MemoryStorage) CreateCorrelationRule(_ context.Context, rule *core.CorrelationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.correlationRules[rule.ID] = rule
	return nil
}

// GetCorrelationRule returns a correlation rule by ID.
func (m *MemoryStorage) GetCorrelationRule(_ context.Context, id string) (*core.CorrelationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.correlationRules[id]
	if !ok {
		return nil, notFound("correlation rule", id)
	}
	return rule, nil
}

// UpdateCorrelationRule replaces a stored correlation rule.
func (m *MemoryStorage) UpdateCorrelationRule(_ context.Context, rule *core.CorrelationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.correlationRules[rule.ID]; !ok {
		return notFound("correlation rule", rule.ID)
	}
	m.correlationRules[rule.ID] = rule
	return nil
}

// ListCorrelationRules returns correlation rules ordered by ID with
// pagination.
func (m *MemoryStorage) ListCorrelationRules(_ context.Context, limit, offset int) ([]*core.CorrelationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]*core.CorrelationRule, 0, len(m.correlationRules))
	for _, rule := range m.correlationRules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return paginate(rules, limit, offset), nil
}

// GetEnabledCorrelationRules returns all enabled correlation rules.
func (m *MemoryStorage) GetEnabledCorrelationRules(_ context.Context) ([]*core.CorrelationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rules []*core.CorrelationRule
	for _, rule := range m.correlationRules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// InsertAlert stores an alert.
func (m *MemoryStorage) InsertAlert(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.AlertID]; !ok {
		m.alertOrder = append(m.alertOrder, alert.AlertID)
	}
	m.alerts[alert.AlertID] = alert
	return nil
}

// GetAlert returns an alert by ID.
func (m *MemoryStorage) GetAlert(_ context.Context, id string) (*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, notFound("alert", id)
	}
	return alert, nil
}

// UpdateAlert replaces a stored alert.
func (m *MemoryStorage) UpdateAlert(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.AlertID]; !ok {
		return notFound("alert", alert.AlertID)
	}
	m.alerts[alert.AlertID] = alert
	return nil
}

// FindAlertsByFingerprint returns alerts carrying the fingerprint created at
// or after windowStart, in creation order.
func (m *MemoryStorage) FindAlertsByFingerprint(_ context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.Alert
	for _, id := range m.alertOrder {
		alert := m.alerts[id]
		if alert.Fingerprint == fingerprint && !alert.CreatedAt.Before(windowStart) {
			result = append(result, alert)
		}
	}
	return result, nil
}

// ListAlerts returns filtered alerts in creation order plus the total count
// before pagination.
func (m *MemoryStorage) ListAlerts(_ context.Context, filter AlertFilter) ([]*core.Alert, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*core.Alert
	for _, id := range m.alertOrder {
		alert := m.alerts[id]
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && alert.Severity != filter.Severity {
			continue
		}
		if filter.RuleID != "" && alert.RuleID != filter.RuleID {
			continue
		}
		matched = append(matched, alert)
	}
	total := int64(len(matched))
	return paginate(matched, filter.Limit, filter.Offset), total, nil
}

// GetAlertsByTimeRange returns alerts created in [start, end), ordered by
// creation time.
func (m *MemoryStorage) GetAlertsByTimeRange(_ context.Context, start, end time.Time) ([]*core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*core.Alert
	for _, alert := range m.alerts {
		if !alert.CreatedAt.Before(start) && alert.CreatedAt.Before(end) {
			result = append(result, alert)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStorage) Close(_ context.Context) error {
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
