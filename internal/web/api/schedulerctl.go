package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// disabledResponse is the 200 payload returned when a feature flag gates the
// scheduler facade, so UIs render a disabled banner instead of an error.
type disabledResponse struct {
	FeatureEnabled   bool `json:"featureEnabled"`
	SchedulerEnabled bool `json:"schedulerEnabled"`
}

// schedulerDisabledResponse reports whether the scheduler facade is gated by
// configuration, and the payload to answer with if so.
func (a *API) schedulerDisabledResponse() (*disabledResponse, bool) {
	if a.MissionsEnabled && a.SchedulerAPIEnabled {
		return nil, false
	}
	return &disabledResponse{
		FeatureEnabled:   a.MissionsEnabled,
		SchedulerEnabled: a.SchedulerAPIEnabled,
	}, true
}

// routeScheduler dispatches /api/v1/scheduler/{action} requests.
func (a *API) routeScheduler(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/v1/scheduler/")

	if resp, disabled := a.schedulerDisabledResponse(); disabled {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	switch {
	case action == "state" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, a.Scheduler.GetState())
	case action == "start" && r.Method == http.MethodPost:
		a.Scheduler.Start()
		writeJSON(w, http.StatusOK, a.Scheduler.GetState())
	case action == "stop" && r.Method == http.MethodPost:
		a.Scheduler.Stop()
		writeJSON(w, http.StatusOK, a.Scheduler.GetState())
	case action == "tick" && r.Method == http.MethodPost:
		a.Scheduler.Trigger(r.Context())
		writeJSON(w, http.StatusOK, a.Scheduler.GetState())
	case action == "run" && r.Method == http.MethodPost:
		a.handleSchedulerRun(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (a *API) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MissionID string `json:"missionId"`
		Forced    bool   `json:"forced"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if body.MissionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missionId is required"})
		return
	}

	outcome, err := a.Scheduler.RunMission(r.Context(), body.MissionID, body.Forced)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
