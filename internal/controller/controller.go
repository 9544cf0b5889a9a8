// Package controller is the single serialization point for mission record
// mutations. The scheduler and the HTTP surface both go through it.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/opsdeck/missiond/internal/mission"
	"github.com/opsdeck/missiond/internal/store"
)

// Outcome describes the result of one mission run, reported by the scheduler
// when the executor returns.
type Outcome struct {
	Success    bool
	Error      string
	Result     map[string]any
	FinishedAt time.Time
}

// Controller owns mission records. All transitions happen under one mutex,
// so they are atomic from the scheduler's viewpoint.
type Controller struct {
	mu    sync.Mutex
	store store.MissionStore
	clock func() time.Time
	log   *zap.SugaredLogger
}

// New creates a Controller over the given backing store. A nil clock defaults
// to time.Now.
func New(st store.MissionStore, clock func() time.Time, log *zap.SugaredLogger) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{store: st, clock: clock, log: log}
}

// List returns a snapshot of mission records. With includeDisabled=false,
// records that are disabled (by flag or status) are filtered out.
func (c *Controller) List(ctx context.Context, includeDisabled bool) ([]*mission.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.store.ListMissions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing missions")
	}

	out := make([]*mission.Record, 0, len(records))
	for _, rec := range records {
		if !includeDisabled && (!rec.Enable || rec.Status == mission.StatusDisabled) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Get returns one mission by id, or nil when unknown.
func (c *Controller) Get(ctx context.Context, id string) (*mission.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ctx, id)
}

func (c *Controller) getLocked(ctx context.Context, id string) (*mission.Record, error) {
	rec, err := c.store.GetMission(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting mission %q", id)
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Create persists a new mission record derived from a draft. The record
// starts idle with nextRunAt computed from the schedule, or disabled with no
// nextRunAt when the draft is disabled.
func (c *Controller) Create(ctx context.Context, draft *mission.Draft) (*mission.Record, error) {
	if draft.Name == "" {
		return nil, errors.New("mission name is required")
	}
	if err := draft.Schedule.Normalize(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock().UTC()
	rec := &mission.Record{
		ID:        store.NewMissionID(),
		Name:      draft.Name,
		Enable:    draft.Enable,
		Priority:  draft.Priority,
		Schedule:  draft.Schedule,
		Tags:      mission.NormalizeTags(draft.Tags),
		Payload:   draft.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if draft.Enable {
		rec.Status = mission.StatusIdle
		next, err := rec.Schedule.Next(now)
		if err != nil {
			return nil, err
		}
		rec.NextRunAt = &next
	} else {
		rec.Status = mission.StatusDisabled
	}

	if err := c.store.PutMission(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "creating mission %q", rec.Name)
	}
	c.log.Infow("mission created", "mission_id", rec.ID, "name", rec.Name, "enable", rec.Enable)
	return rec.Clone(), nil
}

// Update replaces the mutable definition fields of a mission (name, priority,
// schedule, tags, payload) and recomputes nextRunAt when the schedule changed.
func (c *Controller) Update(ctx context.Context, id string, draft *mission.Draft) (*mission.Record, error) {
	if err := draft.Schedule.Normalize(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(mission.ErrNotFound, "%q", id)
	}

	now := c.clock().UTC()
	scheduleChanged := rec.Schedule != draft.Schedule

	if draft.Name != "" {
		rec.Name = draft.Name
	}
	rec.Priority = draft.Priority
	rec.Schedule = draft.Schedule
	rec.Tags = mission.NormalizeTags(draft.Tags)
	rec.Payload = draft.Payload
	rec.UpdatedAt = now

	if scheduleChanged && rec.Enable {
		next, err := rec.Schedule.Next(now)
		if err != nil {
			return nil, err
		}
		rec.NextRunAt = &next
	}

	if err := c.store.PutMission(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "updating mission %q", id)
	}
	return rec.Clone(), nil
}

// Delete removes a mission record.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Wrapf(mission.ErrNotFound, "%q", id)
	}
	if err := c.store.DeleteMission(ctx, id); err != nil {
		return errors.Wrapf(err, "deleting mission %q", id)
	}
	c.log.Infow("mission deleted", "mission_id", id)
	return nil
}

// SetEnabled flips the enable flag. Enabling schedules the next run from now;
// disabling clears nextRunAt and parks the record in the disabled status.
func (c *Controller) SetEnabled(ctx context.Context, id string, enabled bool) (*mission.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(mission.ErrNotFound, "%q", id)
	}

	now := c.clock().UTC()
	rec.Enable = enabled
	rec.UpdatedAt = now
	if enabled {
		if rec.Status == mission.StatusDisabled {
			rec.Status = mission.StatusIdle
		}
		next, err := rec.Schedule.Next(now)
		if err != nil {
			return nil, err
		}
		rec.NextRunAt = &next
	} else {
		if rec.Status != mission.StatusRunning {
			rec.Status = mission.StatusDisabled
		}
		rec.NextRunAt = nil
	}

	if err := c.store.PutMission(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "updating mission %q", id)
	}
	return rec.Clone(), nil
}

// RecoverInterrupted sweeps records left in the running status by a previous
// process. In-flight runs do not survive a restart, so each one is marked
// failed with an explanatory lastRunError and a fresh nextRunAt. It returns
// the number of records recovered.
func (c *Controller) RecoverInterrupted(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.store.ListMissions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing missions")
	}

	now := c.clock().UTC()
	recovered := 0
	for _, rec := range records {
		if rec.Status != mission.StatusRunning {
			continue
		}
		rec.Status = mission.StatusFailed
		rec.LastRunError = "interrupted by restart"
		rec.UpdatedAt = now
		if rec.Enable {
			next, err := rec.Schedule.Next(now)
			if err != nil {
				return recovered, err
			}
			rec.NextRunAt = &next
		} else {
			rec.Status = mission.StatusDisabled
			rec.NextRunAt = nil
		}
		if err := c.store.PutMission(ctx, rec); err != nil {
			return recovered, errors.Wrapf(err, "recovering mission %q", rec.ID)
		}
		c.log.Warnw("recovered interrupted mission", "mission_id", rec.ID, "name", rec.Name)
		recovered++
	}
	return recovered, nil
}

// MarkRunning transitions a mission to running, stamps lastRunAt, and clears
// lastRunError. A mission that is already running yields ErrAlreadyRunning.
func (c *Controller) MarkRunning(ctx context.Context, id string, startedAt time.Time) (*mission.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(mission.ErrNotFound, "%q", id)
	}
	if rec.Status == mission.StatusRunning {
		return nil, errors.Wrapf(mission.ErrAlreadyRunning, "%q", id)
	}

	started := startedAt.UTC()
	rec.Status = mission.StatusRunning
	rec.LastRunAt = &started
	rec.LastRunError = ""
	rec.UpdatedAt = c.clock().UTC()

	if err := c.store.PutMission(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "marking mission %q running", id)
	}
	return rec.Clone(), nil
}

// MarkResult records a run outcome: status idle on success or failed on
// error, lastRunFinishedAt and lastRunError stamped, and nextRunAt recomputed
// from the schedule.
func (c *Controller) MarkResult(ctx context.Context, id string, outcome Outcome) (*mission.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(mission.ErrNotFound, "%q", id)
	}

	finished := outcome.FinishedAt.UTC()
	if outcome.Success {
		rec.Status = mission.StatusIdle
		rec.LastRunError = ""
	} else {
		rec.Status = mission.StatusFailed
		rec.LastRunError = outcome.Error
	}
	rec.LastRunFinishedAt = &finished
	rec.UpdatedAt = c.clock().UTC()

	next, err := rec.Schedule.Next(finished)
	if err != nil {
		return nil, err
	}
	rec.NextRunAt = &next
	if !rec.Enable {
		rec.Status = mission.StatusDisabled
		rec.NextRunAt = nil
	}

	if err := c.store.PutMission(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "marking mission %q result", id)
	}
	return rec.Clone(), nil
}
