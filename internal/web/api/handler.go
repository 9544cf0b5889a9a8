package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/opsdeck/missiond/internal/config"
	"github.com/opsdeck/missiond/internal/controller"
	"github.com/opsdeck/missiond/internal/mission"
	"github.com/opsdeck/missiond/internal/scheduler"
	"github.com/opsdeck/missiond/internal/store"
	"github.com/opsdeck/missiond/internal/telemetry"
	"github.com/opsdeck/missiond/internal/template"
)

// API holds dependencies for all API handlers.
type API struct {
	Log        *zap.SugaredLogger
	Controller *controller.Controller
	Templates  *template.Repository
	Scheduler  *scheduler.Scheduler
	Runs       store.RunStore
	Events     *telemetry.Broker
	GetConfig  func() *config.Config

	// Feature flags; when either gate is down the scheduler facade answers
	// with a disabled payload instead of touching the scheduler.
	MissionsEnabled     bool
	SchedulerAPIEnabled bool
}

// RegisterRoutes registers all API routes on the given ServeMux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/missions/", a.routeMissions)
	mux.HandleFunc("/api/v1/missions", a.handleListMissions)
	mux.HandleFunc("/api/v1/templates/", a.routeTemplates)
	mux.HandleFunc("/api/v1/templates", a.handleListTemplates)
	mux.HandleFunc("/api/v1/scheduler/", a.routeScheduler)
	mux.HandleFunc("/api/v1/runs/", a.routeRuns)
	mux.HandleFunc("/api/v1/runs", a.handleListRuns)
	mux.HandleFunc("/api/v1/events", a.handleEvents)
	mux.HandleFunc("/api/v1/config", a.handleConfig)
	mux.HandleFunc("/api/v1/health", a.handleHealth)
	mux.HandleFunc("/api/v1/stats", a.handleStats)
}

// routeMissions dispatches /api/v1/missions/{id}[/action] requests.
func (a *API) routeMissions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/missions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		a.handleListMissions(w, r)
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "run" && r.Method == http.MethodPost:
		a.handleRunMission(w, r, id)
	case action == "enable" && r.Method == http.MethodPut:
		a.handleSetMissionEnabled(w, r, id, true)
	case action == "disable" && r.Method == http.MethodPut:
		a.handleSetMissionEnabled(w, r, id, false)
	case action == "" && r.Method == http.MethodGet:
		a.handleGetMission(w, r, id)
	case action == "" && r.Method == http.MethodPut:
		a.handleUpdateMission(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		a.handleDeleteMission(w, r, id)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// routeTemplates dispatches /api/v1/templates/{slug}[/action] requests.
func (a *API) routeTemplates(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/templates/")
	parts := strings.SplitN(path, "/", 2)
	slug := parts[0]
	if slug == "" {
		a.handleListTemplates(w, r)
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "instantiate" && r.Method == http.MethodPost:
		a.handleInstantiateTemplate(w, r, slug)
	case action == "" && r.Method == http.MethodGet:
		a.handleGetTemplate(w, r, slug)
	case action == "" && r.Method == http.MethodDelete:
		a.handleDeleteTemplate(w, r, slug)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// routeRuns dispatches /api/v1/runs/{id} requests.
func (a *API) routeRuns(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" {
		a.handleListRuns(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	a.handleGetRun(w, r, id)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already committed; an encode failure here only
	// means the client went away.
	_ = json.NewEncoder(w).Encode(data)
}

// statusFromError maps domain errors onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, mission.ErrNotFound), errors.Is(err, mission.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, mission.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, mission.ErrInvalidSchedule), errors.Is(err, mission.ErrPayloadParse):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
