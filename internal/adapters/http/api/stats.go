package api

import "net/http"

// StatsProvider reports engine counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]any
}

// StatsHandler serves a snapshot of session, queue and worker counters.
type StatsHandler struct {
	source StatsProvider
}

// NewStatsHandler wraps source; a nil source serves an empty object.
func NewStatsHandler(source StatsProvider) *StatsHandler {
	return &StatsHandler{source: source}
}

// HandleStats writes the current snapshot.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot := map[string]any{}
	if h.source != nil {
		snapshot = h.source.GetStats()
	}
	writeJSON(w, http.StatusOK, snapshot)
}
