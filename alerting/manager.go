package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/storage"

	"go.uber.org/zap"
)

// DefaultDedupWindow is how long a fingerprint merges new triggers into an
// existing alert instead of opening a new one.
const DefaultDedupWindow = time.Hour

// RuleResolver looks up a registered detection rule so false-positive
// verdicts can be counted against it.
type RuleResolver interface {
	Rule(id string) (*core.Rule, error)
}

// Manager drives the alert lifecycle. All mutations serialize on an internal
// lock so the check-then-create dedup path and concurrent status transitions
// cannot interleave.
type Manager struct {
	mu          sync.Mutex
	store       storage.AlertStorage
	rules       RuleResolver
	index       DedupIndex
	dedupWindow time.Duration
	now         func() time.Time
	logger      *zap.SugaredLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDedupWindow overrides the dedup window.
func WithDedupWindow(window time.Duration) Option {
	return func(m *Manager) {
		if window > 0 {
			m.dedupWindow = window
		}
	}
}

// WithDedupIndex installs a fingerprint fast-path index.
func WithDedupIndex(index DedupIndex) Option {
	return func(m *Manager) { m.index = index }
}

// WithRuleResolver lets the manager count false positives against rules.
func WithRuleResolver(rules RuleResolver) Option {
	return func(m *Manager) { m.rules = rules }
}

// WithClock overrides the time source. Tests use this to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an alert lifecycle manager.
func NewManager(store storage.AlertStorage, logger *zap.SugaredLogger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		dedupWindow: DefaultDedupWindow,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOrMerge turns a trigger record into an alert. A trigger whose
// fingerprint matches a live alert created inside the dedup window merges into
// it: duplicate count up, last-seen refreshed, event IDs unioned. Otherwise a
// new open alert is created.
func (m *Manager) CreateOrMerge(ctx context.Context, trigger core.TriggerRecord) (*core.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	fingerprint := Fingerprint(trigger)

	existing, err := m.findLive(ctx, fingerprint, now.Add(-m.dedupWindow))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		merged := existing.Clone()
		merged.DuplicateCount++
		merged.LastSeen = now
		merged.MergeEventIDs(trigger.EventIDs)
		merged.Audit("merged_duplicate", "engine", now)
		if err := m.store.UpdateAlert(ctx, merged); err != nil {
			return nil, false, fmt.Errorf("merge alert %s: %w", merged.AlertID, err)
		}
		metrics.AlertsMerged.Inc()
		m.logger.Debugw("Merged duplicate trigger into alert",
			"alert_id", merged.AlertID, "rule_id", trigger.RuleID, "duplicates", merged.DuplicateCount)
		return merged, true, nil
	}

	alert := core.NewAlert(trigger, now)
	alert.Fingerprint = fingerprint
	alert.Audit("created", "engine", now)
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return nil, false, fmt.Errorf("create alert: %w", err)
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	if m.index != nil {
		if err := m.index.Store(ctx, fingerprint, alert.AlertID, m.dedupWindow); err != nil {
			m.logger.Warnw("Dedup index store failed", "error", err)
		}
	}
	m.logger.Infow("Alert created",
		"alert_id", alert.AlertID, "rule_id", trigger.RuleID, "severity", alert.Severity)
	return alert, false, nil
}

// findLive returns the mergeable alert for a fingerprint, or nil. The index
// is consulted first; storage is the authority on misses and terminal hits.
func (m *Manager) findLive(ctx context.Context, fingerprint string, windowStart time.Time) (*core.Alert, error) {
	if m.index != nil {
		alertID, ok, err := m.index.Lookup(ctx, fingerprint)
		if err != nil {
			m.logger.Warnw("Dedup index lookup failed", "error", err)
		} else if ok {
			alert, err := m.store.GetAlert(ctx, alertID)
			if err == nil && !alert.Status.IsTerminal() && !alert.CreatedAt.Before(windowStart) {
				return alert, nil
			}
		}
	}
	candidates, err := m.store.FindAlertsByFingerprint(ctx, fingerprint, windowStart)
	if err != nil {
		return nil, fmt.Errorf("fingerprint lookup: %w", err)
	}
	for _, alert := range candidates {
		if !alert.Status.IsTerminal() {
			return alert, nil
		}
	}
	return nil, nil
}

// Acknowledge moves an alert to acknowledged and stamps the first
// acknowledgement time.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actor string) (*core.Alert, error) {
	return m.transition(ctx, alertID, core.AlertStatusAcknowledged, actor, "acknowledged", func(alert *core.Alert, now time.Time) {
		if alert.AcknowledgedAt == nil {
			alert.AcknowledgedAt = &now
		}
	})
}

// StartInvestigation moves an alert to investigating.
func (m *Manager) StartInvestigation(ctx context.Context, alertID, actor string) (*core.Alert, error) {
	return m.transition(ctx, alertID, core.AlertStatusInvestigating, actor, "investigation_started", nil)
}

// Resolve closes an alert, stamping the resolution time.
func (m *Manager) Resolve(ctx context.Context, alertID, actor, comment string) (*core.Alert, error) {
	return m.transition(ctx, alertID, core.AlertStatusResolved, actor, "resolved", func(alert *core.Alert, now time.Time) {
		alert.ResolvedAt = &now
		alert.AddComment(actor, comment, now)
	})
}

// MarkFalsePositive closes an alert as a false positive and counts the
// verdict against the originating detection rule.
func (m *Manager) MarkFalsePositive(ctx context.Context, alertID, actor, comment string) (*core.Alert, error) {
	alert, err := m.transition(ctx, alertID, core.AlertStatusFalsePositive, actor, "marked_false_positive", func(alert *core.Alert, now time.Time) {
		alert.ResolvedAt = &now
		alert.AddComment(actor, comment, now)
	})
	if err != nil {
		return nil, err
	}
	if m.rules != nil && alert.RuleSource == core.TriggerSourceDetection {
		if rule, err := m.rules.Rule(alert.RuleID); err == nil {
			rule.RecordFalsePositive()
		}
	}
	return alert, nil
}

// Suppress parks an alert with a reason. Suppressed alerts leave only through
// Reopen.
func (m *Manager) Suppress(ctx context.Context, alertID, reason, actor string) (*core.Alert, error) {
	return m.transition(ctx, alertID, core.AlertStatusSuppressed, actor, "suppressed", func(alert *core.Alert, _ time.Time) {
		alert.SuppressionReason = reason
	})
}

// Reopen moves a suppressed alert back to open.
func (m *Manager) Reopen(ctx context.Context, alertID, actor string) (*core.Alert, error) {
	return m.transition(ctx, alertID, core.AlertStatusOpen, actor, "reopened", func(alert *core.Alert, _ time.Time) {
		alert.SuppressionReason = ""
	})
}

// Assign sets the alert's assignee. Assignment does not change status and is
// rejected on terminal alerts.
func (m *Manager) Assign(ctx context.Context, alertID, assignee, actor string) (*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if stored.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot assign alert in status %s", core.ErrInvalidTransition, stored.Status)
	}
	alert := stored.Clone()
	now := m.now().UTC()
	alert.AssignedTo = assignee
	alert.Audit("assigned to "+assignee, actor, now)
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Escalate bumps the escalation level. Escalation is only meaningful while
// the alert is open or acknowledged.
func (m *Manager) Escalate(ctx context.Context, alertID, actor string) (*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if stored.Status != core.AlertStatusOpen && stored.Status != core.AlertStatusAcknowledged {
		return nil, fmt.Errorf("%w: cannot escalate alert in status %s", core.ErrInvalidTransition, stored.Status)
	}
	alert := stored.Clone()
	now := m.now().UTC()
	alert.EscalationLevel++
	alert.Audit(fmt.Sprintf("escalated to level %d", alert.EscalationLevel), actor, now)
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	m.logger.Infow("Alert escalated", "alert_id", alertID, "level", alert.EscalationLevel)
	return alert, nil
}

// Comment attaches a note to an alert without changing its status.
func (m *Manager) Comment(ctx context.Context, alertID, author, text string) (*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	alert := stored.Clone()
	alert.AddComment(author, text, m.now().UTC())
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Get returns an alert by ID.
func (m *Manager) Get(ctx context.Context, alertID string) (*core.Alert, error) {
	return m.store.GetAlert(ctx, alertID)
}

// List returns filtered alerts and the total count before pagination.
func (m *Manager) List(ctx context.Context, filter storage.AlertFilter) ([]*core.Alert, int64, error) {
	return m.store.ListAlerts(ctx, filter)
}

// BulkResult reports the per-alert outcome of a bulk operation.
type BulkResult struct {
	AlertID string `json:"alert_id"`
	Error   string `json:"error,omitempty"`
}

// BulkTransition applies one status transition to many alerts, best effort.
// Each alert succeeds or fails independently.
func (m *Manager) BulkTransition(ctx context.Context, alertIDs []string, target core.AlertStatus, actor string) []BulkResult {
	results := make([]BulkResult, 0, len(alertIDs))
	for _, id := range alertIDs {
		var err error
		switch target {
		case core.AlertStatusAcknowledged:
			_, err = m.Acknowledge(ctx, id, actor)
		case core.AlertStatusInvestigating:
			_, err = m.StartInvestigation(ctx, id, actor)
		case core.AlertStatusResolved:
			_, err = m.Resolve(ctx, id, actor, "")
		case core.AlertStatusFalsePositive:
			_, err = m.MarkFalsePositive(ctx, id, actor, "")
		case core.AlertStatusSuppressed:
			_, err = m.Suppress(ctx, id, "", actor)
		case core.AlertStatusOpen:
			_, err = m.Reopen(ctx, id, actor)
		default:
			err = fmt.Errorf("%w: unknown target status %q", core.ErrInvalidTransition, target)
		}
		result := BulkResult{AlertID: id}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// transition loads, validates, mutates, and persists one status change. All
// mutation happens on a clone, so the alert in storage is untouched when the
// transition is rejected or the write fails.
func (m *Manager) transition(ctx context.Context, alertID string, target core.AlertStatus, actor, action string, mutate func(*core.Alert, time.Time)) (*core.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	alert := stored.Clone()
	if err := alert.TransitionTo(target); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if mutate != nil {
		mutate(alert, now)
	}
	alert.Audit(action, actor, now)
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	if m.index != nil && target.IsTerminal() && alert.Fingerprint != "" {
		if err := m.index.Forget(ctx, alert.Fingerprint); err != nil {
			m.logger.Warnw("Dedup index forget failed", "error", err)
		}
	}
	m.logger.Infow("Alert transitioned",
		"alert_id", alertID, "status", target, "actor", actor)
	return alert, nil
}
