package api

import (
	"net/http"
	"strconv"
	"time"

	"argus/core"

	"github.com/gorilla/mux"
)

func parsePagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	rules, err := a.store.ListRules(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, err, "Failed to list rules")
		return
	}
	a.writeJSON(w, http.StatusOK, rules)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var rule core.Rule
	if !a.decodeBody(w, r, &rule) {
		return
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Version == 0 {
		rule.Version = 1
	}
	if err := a.detection.AddRule(&rule); err != nil {
		a.writeError(w, err, "Failed to add rule")
		return
	}
	if err := a.store.CreateRule(r.Context(), &rule); err != nil {
		a.writeError(w, err, "Failed to persist rule")
		return
	}
	a.writeJSON(w, http.StatusCreated, &rule)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := a.store.GetRule(r.Context(), id)
	if err != nil {
		a.writeError(w, err, "Failed to get rule")
		return
	}
	a.writeJSON(w, http.StatusOK, rule)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var rule core.Rule
	if !a.decodeBody(w, r, &rule) {
		return
	}
	rule.ID = id
	existing, err := a.store.GetRule(r.Context(), id)
	if err != nil {
		a.writeError(w, err, "Failed to load rule for update")
		return
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	rule.Version = existing.Version + 1
	rule.SetCounters(existing.TriggerCount(), existing.FalsePositiveCount())
	if err := a.detection.AddRule(&rule); err != nil {
		a.writeError(w, err, "Failed to update rule")
		return
	}
	if err := a.store.UpdateRule(r.Context(), &rule); err != nil {
		a.writeError(w, err, "Failed to persist rule update")
		return
	}
	a.writeJSON(w, http.StatusOK, &rule)
}

// deleteRule unregisters the rule from the engine and disables it in storage.
// Disabled rules stay queryable so their trigger history is not lost.
func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := a.store.GetRule(r.Context(), id)
	if err != nil {
		a.writeError(w, err, "Failed to load rule for delete")
		return
	}
	_ = a.detection.RemoveRule(id)
	rule.Enabled = false
	rule.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateRule(r.Context(), rule); err != nil {
		a.writeError(w, err, "Failed to disable rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getRuleStatistics(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.detection.Statistics())
}

func (a *API) listCorrelationRules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	rules, err := a.store.ListCorrelationRules(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, err, "Failed to list correlation rules")
		return
	}
	a.writeJSON(w, http.StatusOK, rules)
}

func (a *API) createCorrelationRule(w http.ResponseWriter, r *http.Request) {
	var rule core.CorrelationRule
	if !a.decodeBody(w, r, &rule) {
		return
	}
	if err := a.correlation.AddRule(&rule); err != nil {
		a.writeError(w, err, "Failed to add correlation rule")
		return
	}
	if err := a.store.CreateCorrelationRule(r.Context(), &rule); err != nil {
		a.writeError(w, err, "Failed to persist correlation rule")
		return
	}
	a.writeJSON(w, http.StatusCreated, &rule)
}

func (a *API) getCorrelationRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := a.store.GetCorrelationRule(r.Context(), id)
	if err != nil {
		a.writeError(w, err, "Failed to get correlation rule")
		return
	}
	a.writeJSON(w, http.StatusOK, rule)
}

func (a *API) deleteCorrelationRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := a.store.GetCorrelationRule(r.Context(), id)
	if err != nil {
		a.writeError(w, err, "Failed to load correlation rule for delete")
		return
	}
	_ = a.correlation.RemoveRule(id)
	rule.Enabled = false
	if err := a.store.UpdateCorrelationRule(r.Context(), rule); err != nil {
		a.writeError(w, err, "Failed to disable correlation rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
