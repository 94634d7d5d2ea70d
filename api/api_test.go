package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"argus/alerting"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/normalize"
	"argus/stats"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testHarness struct {
	api     *API
	store   *storage.MemoryStorage
	manager *alerting.Manager
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := storage.NewMemoryStorage()

	matcher, err := detect.NewMatcher(0, logger)
	require.NoError(t, err)
	detection := detect.NewEngine(matcher, logger)
	correlation := detect.NewCorrelationEngine(matcher, logger)
	manager := alerting.NewManager(store, logger, alerting.WithRuleResolver(detection))
	aggregator := stats.NewAggregator(store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pipeline := ingest.NewPipeline(ctx, normalize.New(logger), detection, correlation, manager, store, ingest.DefaultOptions(), logger)
	pipeline.Start()
	t.Cleanup(pipeline.Stop)

	api := NewAPI("127.0.0.1:0", pipeline, manager, aggregator, detection, correlation, store, logger)
	return &testHarness{api: api, store: store, manager: manager}
}

func (h *testHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (h *testHarness) openAlert(t *testing.T, eventIDs ...string) *core.Alert {
	t.Helper()
	if len(eventIDs) == 0 {
		eventIDs = []string{"evt-1"}
	}
	alert, _, err := h.manager.CreateOrMerge(context.Background(), core.TriggerRecord{
		RuleID:   "rule-1",
		RuleName: "failed login",
		Source:   core.TriggerSourceDetection,
		Severity: core.SeverityHigh,
		Title:    "Failed login",
		EventIDs: eventIDs,
	})
	require.NoError(t, err)
	return alert
}

func TestAPI_HealthCheck(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_IngestEvent_AcceptsAndPersists(t *testing.T) {
	h := newTestHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"source": "fw-01",
		"action": "login",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var event core.Event
	decodeInto(t, rec, &event)
	require.NotEmpty(t, event.EventID)
	assert.Equal(t, "fw-01", event.Source)

	rec = h.do(t, http.MethodGet, "/api/v1/events/"+event.EventID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_IngestEvent_MissingSourceIsBadRequest(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{"action": "login"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetEvent_UnknownIsNotFound(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/events/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RuleCRUD(t *testing.T) {
	h := newTestHarness(t)

	rule := map[string]interface{}{
		"id": "r1", "name": "failed login", "enabled": true,
		"conditions": []map[string]interface{}{
			{"field": "action", "operator": "equals", "value": "login"},
		},
		"severity": "high",
	}
	rec := h.do(t, http.MethodPost, "/api/v1/rules", rule)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created core.Rule
	decodeInto(t, rec, &created)
	assert.Equal(t, 1, created.Version)

	rec = h.do(t, http.MethodGet, "/api/v1/rules/r1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rule["name"] = "failed login v2"
	rec = h.do(t, http.MethodPut, "/api/v1/rules/r1", rule)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated core.Rule
	decodeInto(t, rec, &updated)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "failed login v2", updated.Name)

	rec = h.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []core.Rule
	decodeInto(t, rec, &listed)
	assert.Len(t, listed, 1)

	rec = h.do(t, http.MethodDelete, "/api/v1/rules/r1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Deleted rules are disabled, not erased.
	rec = h.do(t, http.MethodGet, "/api/v1/rules/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var disabled core.Rule
	decodeInto(t, rec, &disabled)
	assert.False(t, disabled.Enabled)
}

func TestAPI_CreateRule_InvalidRuleIsBadRequest(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/rules", map[string]interface{}{
		"id": "r1", "name": "no conditions", "severity": "high",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RuleStatistics(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/rules/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decodeInto(t, rec, &body)
	assert.Contains(t, body, "total_rules")
}

func TestAPI_CorrelationRuleCRUD(t *testing.T) {
	h := newTestHarness(t)

	rule := map[string]interface{}{
		"id": "c1", "name": "brute force", "enabled": true,
		"type":       "grouped",
		"window":     300000000000, // 5m in nanoseconds
		"min_events": 3,
		"group_by":   []string{"source_addr"},
		"conditions": []map[string]interface{}{
			{"field": "outcome", "operator": "equals", "value": "failure"},
		},
		"severity":       "high",
		"alert_on_match": true,
	}
	rec := h.do(t, http.MethodPost, "/api/v1/correlation-rules", rule)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/correlation-rules/c1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/correlation-rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []core.CorrelationRule
	decodeInto(t, rec, &listed)
	assert.Len(t, listed, 1)

	rec = h.do(t, http.MethodDelete, "/api/v1/correlation-rules/c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_AlertLifecycleActions(t *testing.T) {
	h := newTestHarness(t)
	alert := h.openAlert(t)
	base := "/api/v1/alerts/" + alert.AlertID

	rec := h.do(t, http.MethodPost, base+"/acknowledge", map[string]string{"actor": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var acked core.Alert
	decodeInto(t, rec, &acked)
	assert.Equal(t, core.AlertStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	rec = h.do(t, http.MethodPost, base+"/assign", map[string]string{"actor": "alice", "assignee": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, base+"/escalate", map[string]string{"actor": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var escalated core.Alert
	decodeInto(t, rec, &escalated)
	assert.Equal(t, 1, escalated.EscalationLevel)

	rec = h.do(t, http.MethodPost, base+"/comments", map[string]string{"actor": "alice", "comment": "checking"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, base+"/resolve", map[string]string{"actor": "alice", "comment": "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved core.Alert
	decodeInto(t, rec, &resolved)
	assert.Equal(t, core.AlertStatusResolved, resolved.Status)

	// A terminal alert rejects further transitions.
	rec = h.do(t, http.MethodPost, base+"/acknowledge", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_SuppressAndReopenAlert(t *testing.T) {
	h := newTestHarness(t)
	alert := h.openAlert(t)
	base := "/api/v1/alerts/" + alert.AlertID

	rec := h.do(t, http.MethodPost, base+"/suppress", map[string]string{"actor": "alice", "reason": "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, base+"/reopen", map[string]string{"actor": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var reopened core.Alert
	decodeInto(t, rec, &reopened)
	assert.Equal(t, core.AlertStatusOpen, reopened.Status)
}

func TestAPI_AlertActions_UnknownAlertIsNotFound(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/alerts/ghost/acknowledge", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AssignAlert_RequiresAssignee(t *testing.T) {
	h := newTestHarness(t)
	alert := h.openAlert(t)
	rec := h.do(t, http.MethodPost, "/api/v1/alerts/"+alert.AlertID+"/assign", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListAlerts_FiltersAndPaginates(t *testing.T) {
	h := newTestHarness(t)
	h.openAlert(t, "e1")
	h.openAlert(t, "e2")

	rec := h.do(t, http.MethodGet, "/api/v1/alerts?status=open&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Alerts []core.Alert `json:"alerts"`
		Total  int64        `json:"total"`
		Limit  int          `json:"limit"`
	}
	decodeInto(t, rec, &body)
	assert.Equal(t, int64(2), body.Total)
	assert.Len(t, body.Alerts, 1)
	assert.Equal(t, 1, body.Limit)
}

func TestAPI_BulkUpdateAlerts_ReportsPerAlertOutcome(t *testing.T) {
	h := newTestHarness(t)
	a := h.openAlert(t, "e1")

	rec := h.do(t, http.MethodPost, "/api/v1/alerts/bulk", map[string]interface{}{
		"alert_ids": []string{a.AlertID, "ghost"},
		"status":    "acknowledged",
		"actor":     "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []alerting.BulkResult `json:"results"`
	}
	decodeInto(t, rec, &body)
	require.Len(t, body.Results, 2)
	assert.Empty(t, body.Results[0].Error)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestAPI_BulkUpdateAlerts_RequiresIDs(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/alerts/bulk", map[string]interface{}{
		"alert_ids": []string{}, "status": "acknowledged",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_StatsEndpoints(t *testing.T) {
	h := newTestHarness(t)
	alert := h.openAlert(t)
	_, err := h.manager.Resolve(context.Background(), alert.AlertID, "alice", "")
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary stats.Summary
	decodeInto(t, rec, &summary)
	assert.Equal(t, int64(1), summary.TotalAlerts)
	assert.Equal(t, 1, summary.Resolved)

	rec = h.do(t, http.MethodGet, "/api/v1/stats/mtta", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/v1/stats/mttr", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/stats/trends?period=24h&granularity=hour", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trends map[string]interface{}
	decodeInto(t, rec, &trends)
	assert.Equal(t, "hour", trends["granularity"])
}

func TestAPI_Trends_RejectsBadParameters(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/stats/trends?granularity=fortnight", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/v1/stats/trends?period=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Pagination_ClampsOutOfRangeValues(t *testing.T) {
	h := newTestHarness(t)
	for i := 0; i < 3; i++ {
		h.openAlert(t, fmt.Sprintf("e%d", i))
	}
	rec := h.do(t, http.MethodGet, "/api/v1/alerts?limit=-5&offset=-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	decodeInto(t, rec, &body)
	assert.Equal(t, 100, body.Limit)
	assert.Zero(t, body.Offset)
}
