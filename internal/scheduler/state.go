package scheduler

import "time"

// State captures the scheduler's tick-level metrics. It is both the live
// view returned by GetState and the snapshot persisted at tick boundaries.
// Restored snapshots are informational only: in-flight runs are never
// resurrected, and ActiveRuns resets to 0 on restart.
type State struct {
	Running             bool       `json:"running"`
	ActiveRuns          int        `json:"activeRuns"`
	IntervalMs          int64      `json:"intervalMs"`
	Reason              string     `json:"reason,omitempty"`
	LastTickStartedAt   *time.Time `json:"lastTickStartedAt"`
	LastTickCompletedAt *time.Time `json:"lastTickCompletedAt"`
	LastTickDurationMs  int64      `json:"lastTickDurationMs"`
	LastTickError       string     `json:"lastTickError,omitempty"`
	LastTickEvaluated   int        `json:"lastTickEvaluated"`
	LastTickLaunched    int        `json:"lastTickLaunched"`
	LastPersistedAt     *time.Time `json:"lastPersistedAt"`
}

// StateRepository loads and saves the single scheduler-state snapshot.
// Load returns nil for a fresh install or an unreadable snapshot; it never
// fails the caller. Save must replace the snapshot atomically.
type StateRepository interface {
	Load() *State
	Save(snapshot *State) error
}

// Telemetry event names emitted by the scheduler.
const (
	EventSchedulerState   = "scheduler_state"
	EventMissionStarted   = "mission_started"
	EventMissionCompleted = "mission_completed"
	EventMissionFailed    = "mission_failed"
	EventMissionSkipped   = "mission_skipped"
	EventSchedulerError   = "scheduler_error"
)

// MissionStarted is the mission_started payload.
type MissionStarted struct {
	MissionID string    `json:"missionId"`
	RunID     string    `json:"runId"`
	Forced    bool      `json:"forced"`
	StartedAt time.Time `json:"startedAt"`
}

// MissionCompleted is the mission_completed payload.
type MissionCompleted struct {
	MissionID  string         `json:"missionId"`
	RunID      string         `json:"runId"`
	FinishedAt time.Time      `json:"finishedAt"`
	DurationMs int64          `json:"durationMs"`
	Result     map[string]any `json:"result,omitempty"`
}

// MissionFailed is the mission_failed payload.
type MissionFailed struct {
	MissionID  string    `json:"missionId"`
	RunID      string    `json:"runId"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error"`
}

// MissionSkipped is the mission_skipped payload.
type MissionSkipped struct {
	MissionID string `json:"missionId"`
	Reason    string `json:"reason"`
}

// SchedulerError is the scheduler_error payload.
type SchedulerError struct {
	Message string `json:"message"`
}

// RunOutcome is the envelope returned by RunMission and the internal launch
// routine. Operational failures come back in the envelope, not as errors.
type RunOutcome struct {
	Skipped bool           `json:"skipped,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	RunID   string         `json:"runId,omitempty"`
}

// Skip reasons produced by the launch routine.
const (
	SkipAlreadyRunning   = "already_running"
	SkipConcurrencyLimit = "concurrency_limit"
	SkipDisabled         = "disabled"
	SkipNotDue           = "not_due"
	SkipMarkRunning      = "mark_running_failed"
)
