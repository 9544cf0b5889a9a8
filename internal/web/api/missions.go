package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/opsdeck/missiond/internal/mission"
	"github.com/opsdeck/missiond/internal/store"
)

const maxBodyBytes = 2 * 1024 * 1024

type missionDetail struct {
	*mission.Record
	Stats *missionStatsResp `json:"stats,omitempty"`
}

type missionStatsResp struct {
	TotalRuns     int     `json:"total_runs"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

func (a *API) handleListMissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// continue
	case http.MethodPost:
		a.handleCreateMission(w, r)
		return
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	includeDisabled := r.URL.Query().Get("includeDisabled") != "false"
	missions, err := a.Controller.List(r.Context(), includeDisabled)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	if missions == nil {
		missions = []*mission.Record{}
	}
	writeJSON(w, http.StatusOK, missions)
}

// handleCreateMission accepts either a bare draft or a template reference
// with overrides: {"templateSlug": "...", "overrides": {...}}.
func (a *API) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TemplateSlug string         `json:"templateSlug"`
		Overrides    map[string]any `json:"overrides"`
		mission.Draft
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	draft := &body.Draft
	if body.TemplateSlug != "" {
		var err error
		draft, err = a.Templates.DraftFromTemplate(body.TemplateSlug, body.Overrides)
		if err != nil {
			writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
			return
		}
	}

	rec, err := a.Controller.Create(r.Context(), draft)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleGetMission(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := a.Controller.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mission not found"})
		return
	}

	detail := missionDetail{Record: rec}
	if a.Runs != nil {
		if stats, err := a.Runs.GetMissionStats(r.Context(), id); err == nil {
			detail.Stats = &missionStatsResp{
				TotalRuns:     stats.TotalRuns,
				Successes:     stats.Successes,
				Failures:      stats.Failures,
				AvgDurationMs: stats.AvgDurationMs,
			}
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateMission(w http.ResponseWriter, r *http.Request, id string) {
	var draft mission.Draft
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&draft); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	rec, err := a.Controller.Update(r.Context(), id, &draft)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDeleteMission(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.Controller.Delete(r.Context(), id); err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleSetMissionEnabled(w http.ResponseWriter, r *http.Request, id string, enabled bool) {
	rec, err := a.Controller.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRunMission(w http.ResponseWriter, r *http.Request, id string) {
	if resp, disabled := a.schedulerDisabledResponse(); disabled {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var body struct {
		Forced bool `json:"forced"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
	}

	outcome, err := a.Scheduler.RunMission(r.Context(), id, body.Forced)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if a.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history unavailable"})
		return
	}

	opts := store.ListOpts{
		MissionID: r.URL.Query().Get("missionId"),
		Limit:     50,
	}
	runs, err := a.Runs.ListRuns(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	if a.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history unavailable"})
		return
	}
	run, err := a.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}
