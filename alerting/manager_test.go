package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus/core"
	"argus/detect"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var managerBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testClock is an adjustable time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *storage.MemoryStorage, *testClock) {
	t.Helper()
	store := storage.NewMemoryStorage()
	clock := &testClock{now: managerBase}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(store, zap.NewNop().Sugar(), opts...), store, clock
}

func testTrigger(eventIDs ...string) core.TriggerRecord {
	if len(eventIDs) == 0 {
		eventIDs = []string{"evt-1"}
	}
	return core.TriggerRecord{
		RuleID:      "rule-1",
		RuleName:    "failed login",
		Source:      core.TriggerSourceDetection,
		Severity:    core.SeverityHigh,
		Title:       "Failed login",
		Description: "login failed",
		EventIDs:    eventIDs,
		Confidence:  1.0,
		Timestamp:   managerBase,
	}
}

func TestFingerprint_IgnoresEventOrder(t *testing.T) {
	a := Fingerprint(testTrigger("e1", "e2", "e3"))
	b := Fingerprint(testTrigger("e3", "e1", "e2"))
	assert.Equal(t, a, b)
}

func TestFingerprint_DistinguishesRuleSeverityAndEvents(t *testing.T) {
	base := testTrigger("e1")
	byRule := testTrigger("e1")
	byRule.RuleID = "rule-2"
	bySeverity := testTrigger("e1")
	bySeverity.Severity = core.SeverityLow
	byEvents := testTrigger("e2")

	fp := Fingerprint(base)
	assert.NotEqual(t, fp, Fingerprint(byRule))
	assert.NotEqual(t, fp, Fingerprint(bySeverity))
	assert.NotEqual(t, fp, Fingerprint(byEvents))
}

func TestManager_CreateOrMerge_CreatesOpenAlert(t *testing.T) {
	manager, _, _ := newTestManager(t)

	alert, merged, err := manager.CreateOrMerge(context.Background(), testTrigger())
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, core.AlertStatusOpen, alert.Status)
	assert.Equal(t, "Failed login", alert.Title)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.NotEmpty(t, alert.Fingerprint)
	assert.Zero(t, alert.DuplicateCount)
	require.Len(t, alert.AuditLog, 1)
	assert.Equal(t, "created", alert.AuditLog[0].Action)
}

func TestManager_CreateOrMerge_DeduplicatesWithinWindow(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()

	first, merged, err := manager.CreateOrMerge(ctx, testTrigger("e1"))
	require.NoError(t, err)
	require.False(t, merged)

	clock.Advance(10 * time.Minute)
	second, merged, err := manager.CreateOrMerge(ctx, testTrigger("e1"))
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, first.AlertID, second.AlertID, "the duplicate must merge, not create")
	assert.Equal(t, 1, second.DuplicateCount)
	assert.Equal(t, managerBase.Add(10*time.Minute), second.LastSeen)
}

func TestManager_CreateOrMerge_MergeUnionsEventIDs(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	// Same fingerprint requires the same event set; merging still unions in
	// anything new carried by the trigger.
	first, _, err := manager.CreateOrMerge(ctx, testTrigger("e1", "e2"))
	require.NoError(t, err)
	merged, wasMerge, err := manager.CreateOrMerge(ctx, testTrigger("e2", "e1"))
	require.NoError(t, err)
	require.True(t, wasMerge)
	assert.Equal(t, first.AlertID, merged.AlertID)
	assert.ElementsMatch(t, []string{"e1", "e2"}, merged.EventIDs)
}

func TestManager_CreateOrMerge_NewAlertAfterWindowExpires(t *testing.T) {
	manager, _, clock := newTestManager(t, WithDedupWindow(time.Hour))
	ctx := context.Background()

	first, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	second, merged, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)
	assert.False(t, merged)
	assert.NotEqual(t, first.AlertID, second.AlertID)
}

func TestManager_CreateOrMerge_NewAlertWhenExistingIsTerminal(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	first, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)
	_, err = manager.Resolve(ctx, first.AlertID, "analyst", "handled")
	require.NoError(t, err)

	second, merged, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)
	assert.False(t, merged, "a resolved alert must not absorb new triggers")
	assert.NotEqual(t, first.AlertID, second.AlertID)
}

func TestManager_Acknowledge_StampsFirstAckTime(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	acked, err := manager.Acknowledge(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, managerBase.Add(5*time.Minute), *acked.AcknowledgedAt)
}

func TestManager_Resolve_SetsResolutionTimestamp(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	resolved, err := manager.Resolve(ctx, alert.AlertID, "analyst", "fixed upstream")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, managerBase.Add(30*time.Minute), *resolved.ResolvedAt)
	require.Len(t, resolved.Comments, 1)
	assert.Equal(t, "fixed upstream", resolved.Comments[0].Text)
}

func TestManager_AcknowledgeAfterResolve_FailsAndLeavesAlertResolved(t *testing.T) {
	manager, store, _ := newTestManager(t)
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)
	_, err = manager.Resolve(ctx, alert.AlertID, "analyst", "")
	require.NoError(t, err)

	_, err = manager.Acknowledge(ctx, alert.AlertID, "analyst")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	stored, err := store.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, stored.Status)
}

func TestManager_MarkFalsePositive_CountsAgainstRule(t *testing.T) {
	matcher, err := detect.NewMatcher(0, zap.NewNop().Sugar())
	require.NoError(t, err)
	engine := detect.NewEngine(matcher, zap.NewNop().Sugar())
	rule := &core.Rule{
		ID: "rule-1", Name: "failed login", Enabled: true,
		Conditions: []core.Condition{{Field: "action", Operator: core.OpEquals, Value: "login"}},
		Severity:   core.SeverityHigh,
	}
	require.NoError(t, engine.AddRule(rule))

	manager, _, _ := newTestManager(t, WithRuleResolver(engine))
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	marked, err := manager.MarkFalsePositive(ctx, alert.AlertID, "analyst", "benign script")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusFalsePositive, marked.Status)
	require.NotNil(t, marked.ResolvedAt)
	assert.Equal(t, int64(1), rule.FalsePositiveCount())
}

func TestManager_SuppressAndReopen(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	suppressed, err := manager.Suppress(ctx, alert.AlertID, "maintenance window", "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusSuppressed, suppressed.Status)
	assert.Equal(t, "maintenance window", suppressed.SuppressionReason)

	_, err = manager.Resolve(ctx, alert.AlertID, "analyst", "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	reopened, err := manager.Reopen(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, reopened.Status)
	assert.Empty(t, reopened.SuppressionReason)
}

func TestManager_Escalate_OnlyWhileOpenOrAcknowledged(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	escalated, err := manager.Escalate(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, 1, escalated.EscalationLevel)

	_, err = manager.Acknowledge(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	escalated, err = manager.Escalate(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, 2, escalated.EscalationLevel)

	_, err = manager.StartInvestigation(ctx, alert.AlertID, "analyst")
	require.NoError(t, err)
	_, err = manager.Escalate(ctx, alert.AlertID, "analyst")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestManager_Assign_RejectedOnTerminalAlert(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	assigned, err := manager.Assign(ctx, alert.AlertID, "bob", "lead")
	require.NoError(t, err)
	assert.Equal(t, "bob", assigned.AssignedTo)

	_, err = manager.Resolve(ctx, alert.AlertID, "bob", "")
	require.NoError(t, err)
	_, err = manager.Assign(ctx, alert.AlertID, "carol", "lead")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestManager_BulkTransition_IsBestEffort(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _, err := manager.CreateOrMerge(ctx, testTrigger("e1"))
	require.NoError(t, err)
	b, _, err := manager.CreateOrMerge(ctx, testTrigger("e2"))
	require.NoError(t, err)
	_, err = manager.Resolve(ctx, b.AlertID, "analyst", "")
	require.NoError(t, err)

	results := manager.BulkTransition(ctx, []string{a.AlertID, b.AlertID, "missing"}, core.AlertStatusAcknowledged, "analyst")
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error, "open alert acknowledges fine")
	assert.NotEmpty(t, results[1].Error, "resolved alert rejects the transition")
	assert.NotEmpty(t, results[2].Error, "unknown alert reports not found")

	acked, err := manager.Get(ctx, a.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, acked.Status)
}

// flakyAlertStore fails alert updates on demand so tests can observe what a
// failed write leaves behind.
type flakyAlertStore struct {
	*storage.MemoryStorage
	failUpdates bool
}

func (s *flakyAlertStore) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	if s.failUpdates {
		return errors.New("alert store unavailable")
	}
	return s.MemoryStorage.UpdateAlert(ctx, alert)
}

func newFlakyManager(t *testing.T) (*Manager, *flakyAlertStore) {
	t.Helper()
	store := &flakyAlertStore{MemoryStorage: storage.NewMemoryStorage()}
	clock := &testClock{now: managerBase}
	return NewManager(store, zap.NewNop().Sugar(), WithClock(clock.Now)), store
}

func TestManager_Transition_StoredAlertIntactWhenUpdateFails(t *testing.T) {
	manager, store := newFlakyManager(t)
	ctx := context.Background()

	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	store.failUpdates = true
	_, err = manager.Acknowledge(ctx, alert.AlertID, "alice")
	require.Error(t, err)

	stored, err := manager.Get(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, stored.Status)
	assert.Nil(t, stored.AcknowledgedAt)
	require.Len(t, stored.AuditLog, 1)
	assert.Equal(t, "created", stored.AuditLog[0].Action)

	// Once the store recovers the same transition goes through.
	store.failUpdates = false
	acked, err := manager.Acknowledge(ctx, alert.AlertID, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, acked.Status)
}

func TestManager_Merge_StoredAlertIntactWhenUpdateFails(t *testing.T) {
	manager, store := newFlakyManager(t)
	ctx := context.Background()

	alert, _, err := manager.CreateOrMerge(ctx, testTrigger("e1"))
	require.NoError(t, err)

	store.failUpdates = true
	_, _, err = manager.CreateOrMerge(ctx, testTrigger("e1"))
	require.Error(t, err)

	stored, err := manager.Get(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Zero(t, stored.DuplicateCount)
	assert.Equal(t, managerBase, stored.LastSeen)
	require.Len(t, stored.AuditLog, 1)
}

func TestManager_Comment_StoredAlertIntactWhenUpdateFails(t *testing.T) {
	manager, store := newFlakyManager(t)
	ctx := context.Background()

	alert, _, err := manager.CreateOrMerge(ctx, testTrigger())
	require.NoError(t, err)

	store.failUpdates = true
	_, err = manager.Comment(ctx, alert.AlertID, "alice", "triage note")
	require.Error(t, err)

	stored, err := manager.Get(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Empty(t, stored.Comments)
}

func TestManager_Get_UnknownAlertReturnsNotFound(t *testing.T) {
	manager, _, _ := newTestManager(t)
	_, err := manager.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
