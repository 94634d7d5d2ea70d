package api

import (
	"net/http"
	"time"

	"argus/stats"
)

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	summary, err := a.aggregator.Summary(r.Context())
	if err != nil {
		a.writeError(w, err, "Failed to compute stats summary")
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

// getTrends serves time-bucketed alert counts. Query parameters: period as a
// Go duration (default 24h) and granularity hour/day/week/month.
func (a *API) getTrends(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if raw := r.URL.Query().Get("period"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid period"})
			return
		}
		period = parsed
	}
	granularity := stats.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = stats.GranularityHour
	}
	if !granularity.IsValid() {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid granularity"})
		return
	}
	series, err := a.aggregator.Trends(r.Context(), period, granularity)
	if err != nil {
		a.writeError(w, err, "Failed to compute trends")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"period":      period.String(),
		"granularity": granularity,
		"buckets":     series,
	})
}

func (a *API) getMTTA(w http.ResponseWriter, r *http.Request) {
	seconds, err := a.aggregator.MTTA(r.Context())
	if err != nil {
		a.writeError(w, err, "Failed to compute MTTA")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]float64{"mtta_seconds": seconds})
}

func (a *API) getMTTR(w http.ResponseWriter, r *http.Request) {
	seconds, err := a.aggregator.MTTR(r.Context())
	if err != nil {
		a.writeError(w, err, "Failed to compute MTTR")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]float64{"mttr_seconds": seconds})
}
