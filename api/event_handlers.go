package api

import (
	"net/http"

	"argus/normalize"

	"github.com/gorilla/mux"
)

// ingestEvent accepts one raw record as a JSON object. The declared source
// format comes from the format query parameter and defaults to structured.
func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if !a.decodeBody(w, r, &raw) {
		return
	}
	format := normalize.SourceFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = normalize.FormatStructured
	}
	event, err := a.pipeline.Ingest(r.Context(), raw, format)
	if err != nil {
		a.writeError(w, err, "Failed to ingest event")
		return
	}
	a.writeJSON(w, http.StatusAccepted, event)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	event, err := a.store.GetEvent(r.Context(), id)
	if err != nil {
		a.writeError(w, err, "Failed to get event")
		return
	}
	a.writeJSON(w, http.StatusOK, event)
}
