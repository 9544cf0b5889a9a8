package api

import "net/http"

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if a.GetConfig == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config provider unavailable"})
		return
	}

	cfg := a.GetConfig()
	if cfg == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

type statsResponse struct {
	TotalMissions   int `json:"total_missions"`
	EnabledMissions int `json:"enabled_missions"`
	TotalRuns       int `json:"total_runs"`
	RecentFailures  int `json:"recent_failures"`
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	missions, err := a.Controller.List(r.Context(), true)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := statsResponse{TotalMissions: len(missions)}
	for _, m := range missions {
		if m.Enable {
			resp.EnabledMissions++
		}
	}

	if a.Runs != nil {
		for _, m := range missions {
			stats, err := a.Runs.GetMissionStats(r.Context(), m.ID)
			if err != nil {
				a.Log.Warnw("mission stats lookup failed", "mission_id", m.ID, "error", err)
				continue
			}
			resp.TotalRuns += stats.TotalRuns
			resp.RecentFailures += stats.Failures
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
