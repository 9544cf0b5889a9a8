package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateServer(t *testing.T, state schedulerState) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/scheduler/state", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(state))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckSchedulerHealthy(t *testing.T) {
	now := time.Now()
	srv := stateServer(t, schedulerState{
		Running:             true,
		IntervalMs:          1000,
		LastTickCompletedAt: &now,
	})
	assert.Empty(t, checkScheduler(srv.Client(), srv.URL, 3))
}

func TestCheckSchedulerReportsTickError(t *testing.T) {
	srv := stateServer(t, schedulerState{
		Running:       true,
		LastTickError: "listing missions: disk I/O error",
	})
	reason := checkScheduler(srv.Client(), srv.URL, 3)
	assert.Contains(t, reason, "disk I/O error")
}

func TestCheckSchedulerReportsStalledTicks(t *testing.T) {
	old := time.Now().Add(-time.Minute)
	srv := stateServer(t, schedulerState{
		Running:             true,
		IntervalMs:          1000,
		LastTickCompletedAt: &old,
	})
	reason := checkScheduler(srv.Client(), srv.URL, 3)
	assert.Contains(t, reason, "no completed tick")
}

func TestCheckSchedulerIgnoresDisabledAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scheduler/state", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	assert.Empty(t, checkScheduler(srv.Client(), srv.URL, 3))
}
