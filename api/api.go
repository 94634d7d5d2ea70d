// Package api exposes the engine over HTTP: event ingestion, rule
// management, alert operator actions, and derived statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"argus/alerting"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/stats"
	"argus/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// API is the HTTP surface of the engine.
type API struct {
	router      *mux.Router
	server      *http.Server
	pipeline    *ingest.Pipeline
	alerts      *alerting.Manager
	aggregator  *stats.Aggregator
	detection   *detect.Engine
	correlation *detect.CorrelationEngine
	store       storage.Storage
	logger      *zap.SugaredLogger
}

// NewAPI wires the HTTP routes.
func NewAPI(
	addr string,
	pipeline *ingest.Pipeline,
	alerts *alerting.Manager,
	aggregator *stats.Aggregator,
	detection *detect.Engine,
	correlation *detect.CorrelationEngine,
	store storage.Storage,
	logger *zap.SugaredLogger,
) *API {
	a := &API{
		router:      mux.NewRouter(),
		pipeline:    pipeline,
		alerts:      alerts,
		aggregator:  aggregator,
		detection:   detection,
		correlation: correlation,
		store:       store,
		logger:      logger,
	}
	a.routes()
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

func (a *API) routes() {
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := a.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/events", a.ingestEvent).Methods("POST")
	v1.HandleFunc("/events/{id}", a.getEvent).Methods("GET")

	v1.HandleFunc("/rules", a.listRules).Methods("GET")
	v1.HandleFunc("/rules", a.createRule).Methods("POST")
	v1.HandleFunc("/rules/statistics", a.getRuleStatistics).Methods("GET")
	v1.HandleFunc("/rules/{id}", a.getRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", a.updateRule).Methods("PUT")
	v1.HandleFunc("/rules/{id}", a.deleteRule).Methods("DELETE")

	v1.HandleFunc("/correlation-rules", a.listCorrelationRules).Methods("GET")
	v1.HandleFunc("/correlation-rules", a.createCorrelationRule).Methods("POST")
	v1.HandleFunc("/correlation-rules/{id}", a.getCorrelationRule).Methods("GET")
	v1.HandleFunc("/correlation-rules/{id}", a.deleteCorrelationRule).Methods("DELETE")

	v1.HandleFunc("/alerts", a.listAlerts).Methods("GET")
	v1.HandleFunc("/alerts/bulk", a.bulkUpdateAlerts).Methods("POST")
	v1.HandleFunc("/alerts/{id}", a.getAlert).Methods("GET")
	v1.HandleFunc("/alerts/{id}/acknowledge", a.acknowledgeAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/assign", a.assignAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/escalate", a.escalateAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/resolve", a.resolveAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/false-positive", a.falsePositiveAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/suppress", a.suppressAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/reopen", a.reopenAlert).Methods("POST")
	v1.HandleFunc("/alerts/{id}/comments", a.commentAlert).Methods("POST")

	v1.HandleFunc("/stats", a.getStats).Methods("GET")
	v1.HandleFunc("/stats/trends", a.getTrends).Methods("GET")
	v1.HandleFunc("/stats/mtta", a.getMTTA).Methods("GET")
	v1.HandleFunc("/stats/mttr", a.getMTTR).Methods("GET")
}

// Handler returns the router, e.g. for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (a *API) Start() error {
	a.logger.Infow("API server listening", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *API) healthCheck(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

// writeError maps engine errors onto HTTP status codes and logs the full
// error server-side.
func (a *API) writeError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalidRule), errors.Is(err, core.ErrMissingSource):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	a.logger.Errorw(message, "error", err, "status_code", status)
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(v); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
