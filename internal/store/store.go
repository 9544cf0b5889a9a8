package store

import (
	"context"
	"time"

	"github.com/opsdeck/missiond/internal/mission"
)

// Run represents a single execution of a mission.
type Run struct {
	ID         string
	MissionID  string
	Status     string // "running", "success", "failure"
	Forced     bool
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMs int64
	ErrorMsg   string
	ResultJSON string
	CreatedAt  time.Time
}

// ListOpts controls filtering and pagination for run queries.
type ListOpts struct {
	MissionID string
	Limit     int
	Offset    int
}

// MissionStats holds aggregate run statistics for a mission.
type MissionStats struct {
	TotalRuns     int
	Successes     int
	Failures      int
	LastRun       *time.Time
	AvgDurationMs float64
}

// MissionStore is the opaque backing the controller persists records into.
type MissionStore interface {
	ListMissions(ctx context.Context) ([]*mission.Record, error)
	GetMission(ctx context.Context, id string) (*mission.Record, error)
	PutMission(ctx context.Context, rec *mission.Record) error
	DeleteMission(ctx context.Context, id string) error
}

// RunStore persists and queries mission run history.
type RunStore interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)
	GetMissionStats(ctx context.Context, missionID string) (*MissionStats, error)
}
