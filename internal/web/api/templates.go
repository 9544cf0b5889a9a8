package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/opsdeck/missiond/internal/template"
)

func (a *API) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// continue
	case http.MethodPost:
		a.handleSaveTemplate(w, r)
		return
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	templates, err := a.Templates.List()
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	if templates == nil {
		templates = []*template.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (a *API) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var t template.Template
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	saved, err := a.Templates.Save(&t)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handleGetTemplate(w http.ResponseWriter, _ *http.Request, slug string) {
	t, err := a.Templates.Get(slug)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	if t == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "template not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDeleteTemplate(w http.ResponseWriter, _ *http.Request, slug string) {
	if err := a.Templates.Delete(slug); err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleInstantiateTemplate creates a mission record from a template plus
// overrides in one call.
func (a *API) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request, slug string) {
	var body struct {
		Overrides map[string]any `json:"overrides"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
	}

	draft, err := a.Templates.DraftFromTemplate(slug, body.Overrides)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	rec, err := a.Controller.Create(r.Context(), draft)
	if err != nil {
		writeJSON(w, statusFromError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
