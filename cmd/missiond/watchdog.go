package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

// schedulerState mirrors the fields of the scheduler state endpoint the
// watchdog cares about.
type schedulerState struct {
	Running             bool       `json:"running"`
	IntervalMs          int64      `json:"intervalMs"`
	LastTickError       string     `json:"lastTickError"`
	LastTickCompletedAt *time.Time `json:"lastTickCompletedAt"`
}

func runWatchdog(args []string) int {
	fs := flag.NewFlagSet("watchdog", flag.ExitOnError)
	apiURL := fs.String("api", "http://localhost:8080", "missiond API URL")
	restartCmd := fs.String("restart-cmd", "", "command to run if unhealthy")
	timeoutSec := fs.Int("timeout", 5, "request timeout in seconds")
	staleTicks := fs.Int("stale-ticks", 3, "intervals without a completed tick before the scheduler counts as stalled")
	fs.Parse(args)

	base := strings.TrimRight(*apiURL, "/")
	client := &http.Client{
		Timeout: time.Duration(*timeoutSec) * time.Second,
	}

	resp, err := client.Get(base + "/api/v1/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		return handleUnhealthy(*restartCmd)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check returned status %d\n", resp.StatusCode)
		return handleUnhealthy(*restartCmd)
	}

	if reason := checkScheduler(client, base, *staleTicks); reason != "" {
		fmt.Fprintf(os.Stderr, "scheduler unhealthy: %s\n", reason)
		return handleUnhealthy(*restartCmd)
	}

	return 0
}

// checkScheduler inspects the scheduler state and returns a non-empty reason
// when the tick loop looks broken. A disabled scheduler API (404/503) is not
// treated as a failure; liveness already passed.
func checkScheduler(client *http.Client, base string, staleTicks int) string {
	resp, err := client.Get(base + "/api/v1/scheduler/state")
	if err != nil {
		return fmt.Sprintf("state check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var state schedulerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Sprintf("decoding state: %v", err)
	}

	if state.LastTickError != "" {
		return "last tick error: " + state.LastTickError
	}
	if state.Running && state.LastTickCompletedAt != nil && state.IntervalMs > 0 {
		stale := time.Duration(state.IntervalMs) * time.Millisecond * time.Duration(staleTicks)
		if age := time.Since(*state.LastTickCompletedAt); age > stale {
			return fmt.Sprintf("no completed tick for %s (interval %dms)", age.Round(time.Second), state.IntervalMs)
		}
	}
	return ""
}

func handleUnhealthy(restartCmd string) int {
	if restartCmd == "" {
		return 1
	}

	fmt.Fprintf(os.Stderr, "attempting restart: %s\n", restartCmd)
	cmd := exec.Command("sh", "-c", restartCmd)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "restart command failed: %v\n", err)
		return 1
	}
	return 0
}
