package api

import (
	"net/http"

	"argus/core"
	"argus/storage"

	"github.com/gorilla/mux"
)

// actionRequest is the shared body of the operator action endpoints.
type actionRequest struct {
	Actor    string `json:"actor"`
	Assignee string `json:"assignee,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

func (req *actionRequest) actor() string {
	if req.Actor == "" {
		return "unknown"
	}
	return req.Actor
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	filter := storage.AlertFilter{
		Status:   core.AlertStatus(r.URL.Query().Get("status")),
		Severity: core.Severity(r.URL.Query().Get("severity")),
		RuleID:   r.URL.Query().Get("rule_id"),
		Limit:    limit,
		Offset:   offset,
	}
	alerts, total, err := a.alerts.List(r.Context(), filter)
	if err != nil {
		a.writeError(w, err, "Failed to list alerts")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.alerts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err, "Failed to get alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	alert, err := a.alerts.Acknowledge(r.Context(), mux.Vars(r)["id"], req.actor())
	if err != nil {
		a.writeError(w, err, "Failed to acknowledge alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) assignAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	if req.Assignee == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "assignee is required"})
		return
	}
	alert, err := a.alerts.Assign(r.Context(), mux.Vars(r)["id"], req.Assignee, req.actor())
	if err != nil {
		a.writeError(w, err, "Failed to assign alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) escalateAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	alert, err := a.alerts.Escalate(r.Context(), mux.Vars(r)["id"], req.actor())
	if err != nil {
		a.writeError(w, err, "Failed to escalate alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) resolveAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	alert, err := a.alerts.Resolve(r.Context(), mux.Vars(r)["id"], req.actor(), req.Comment)
	if err != nil {
		a.writeError(w, err, "Failed to resolve alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) falsePositiveAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	alert, err := a.alerts.MarkFalsePositive(r.Context(), mux.Vars(r)["id"], req.actor(), req.Comment)
	if err != nil {
		a.writeError(w, err, "Failed to mark alert false positive")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) suppressAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	alert, err := a.alerts.Suppress(r.Context(), mux.Vars(r)["id"], req.Reason, req.actor())
	if err != nil {
		a.writeError(w, err, "Failed to suppress alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) reopenAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	alert, err := a.alerts.Reopen(r.Context(), mux.Vars(r)["id"], req.actor())
	if err != nil {
		a.writeError(w, err, "Failed to reopen alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

func (a *API) commentAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	if req.Comment == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "comment is required"})
		return
	}
	alert, err := a.alerts.Comment(r.Context(), mux.Vars(r)["id"], req.actor(), req.Comment)
	if err != nil {
		a.writeError(w, err, "Failed to comment on alert")
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}

type bulkRequest struct {
	AlertIDs []string         `json:"alert_ids"`
	Status   core.AlertStatus `json:"status"`
	Actor    string           `json:"actor"`
}

// bulkUpdateAlerts applies one transition to many alerts; each alert
// succeeds or fails independently and the response carries every outcome.
func (a *API) bulkUpdateAlerts(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	if len(req.AlertIDs) == 0 {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "alert_ids is required"})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "unknown"
	}
	results := a.alerts.BulkTransition(r.Context(), req.AlertIDs, req.Status, actor)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
