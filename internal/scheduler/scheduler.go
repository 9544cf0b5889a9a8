// Package scheduler implements the mission scheduler core: a periodic tick
// loop that evaluates due missions, launches them under concurrency limits,
// records outcomes through the controller, and persists tick-level state
// across restarts.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/opsdeck/missiond/internal/controller"
	"github.com/opsdeck/missiond/internal/mission"
	"github.com/opsdeck/missiond/internal/store"
	"github.com/opsdeck/missiond/internal/telemetry"
	"github.com/opsdeck/missiond/pkg/executor"
)

// MissionController is the scheduler's view of the mission controller.
type MissionController interface {
	List(ctx context.Context, includeDisabled bool) ([]*mission.Record, error)
	Get(ctx context.Context, id string) (*mission.Record, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) (*mission.Record, error)
	MarkResult(ctx context.Context, id string, outcome controller.Outcome) (*mission.Record, error)
}

// Config bundles the scheduler's dependencies and tuning knobs.
type Config struct {
	Controller MissionController
	Executor   executor.Executor
	Telemetry  telemetry.Sink
	States     StateRepository // optional; nil disables persistence
	Runs       store.RunStore  // optional; nil disables run history
	Logger     *zap.SugaredLogger

	// Interval between scheduling passes. Defaults to 30s.
	Interval time.Duration
	// MaxConcurrent caps simultaneous in-flight runs; 0 means unbounded.
	MaxConcurrent int
	// Clock and NewRunID are injectable for tests. Defaults: time.Now and
	// ULID run ids.
	Clock    func() time.Time
	NewRunID func() string
}

// Scheduler runs the periodic tick loop. Construct with New; all methods are
// safe for concurrent use.
type Scheduler struct {
	ctrl     MissionController
	exec     executor.Executor
	sink     telemetry.Sink
	states   StateRepository
	runs     store.RunStore
	log      *zap.SugaredLogger
	clock    func() time.Time
	newRunID func() string

	interval      time.Duration
	maxConcurrent int

	mu       sync.Mutex
	state    State
	inFlight map[string]struct{}

	// tickMu serializes scheduling passes: Trigger waits for its own tick,
	// while the interval loop skips (coalesces) when one is in progress.
	tickMu sync.Mutex

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
}

// New creates a Scheduler and restores the persisted tick metrics, emitting
// one scheduler_state event with reason "restored" when a snapshot exists.
// Restoration never launches missions.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = store.NewRunID
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	s := &Scheduler{
		ctrl:          cfg.Controller,
		exec:          cfg.Executor,
		sink:          cfg.Telemetry,
		states:        cfg.States,
		runs:          cfg.Runs,
		log:           cfg.Logger,
		clock:         cfg.Clock,
		newRunID:      cfg.NewRunID,
		interval:      cfg.Interval,
		maxConcurrent: cfg.MaxConcurrent,
		inFlight:      make(map[string]struct{}),
	}
	s.state.IntervalMs = s.interval.Milliseconds()

	s.restore()
	return s
}

func (s *Scheduler) restore() {
	if s.states == nil {
		return
	}
	snap := s.states.Load()
	if snap == nil {
		return
	}

	s.mu.Lock()
	s.state.LastTickStartedAt = snap.LastTickStartedAt
	s.state.LastTickCompletedAt = snap.LastTickCompletedAt
	s.state.LastTickDurationMs = snap.LastTickDurationMs
	s.state.LastTickError = snap.LastTickError
	s.state.LastTickEvaluated = snap.LastTickEvaluated
	s.state.LastTickLaunched = snap.LastTickLaunched
	s.state.LastPersistedAt = snap.LastPersistedAt
	s.mu.Unlock()

	s.log.Infow("scheduler state restored",
		"last_tick_started_at", snap.LastTickStartedAt,
		"last_tick_evaluated", snap.LastTickEvaluated,
		"last_tick_launched", snap.LastTickLaunched)
	s.emitState("restored")
}

// Start activates the periodic tick loop. A second Start is a no-op that
// re-emits scheduler_state with reason "already_running".
func (s *Scheduler) Start() {
	s.loopMu.Lock()
	if s.loopCancel != nil {
		s.loopMu.Unlock()
		s.emitState("already_running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.mu.Lock()
	s.state.Running = true
	s.mu.Unlock()
	s.loopWG.Add(1)
	go s.loop(ctx)
	s.loopMu.Unlock()

	s.log.Infow("scheduler started", "interval", s.interval, "max_concurrent", s.maxConcurrent)
	s.emitState("started")
}

// Stop deactivates the tick loop. In-flight runs are allowed to complete.
func (s *Scheduler) Stop() {
	s.loopMu.Lock()
	if s.loopCancel == nil {
		s.loopMu.Unlock()
		return
	}
	s.loopCancel()
	s.loopCancel = nil
	s.loopMu.Unlock()

	s.loopWG.Wait()
	s.mu.Lock()
	s.state.Running = false
	s.mu.Unlock()

	s.log.Infow("scheduler stopped")
	s.emitState("stopped")
	s.persist("shutdown")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Coalesce with an in-progress tick rather than queuing up.
			if !s.tickMu.TryLock() {
				continue
			}
			s.tick(ctx)
			s.tickMu.Unlock()
		}
	}
}

// Trigger performs exactly one tick, independent of the interval loop. It
// returns after all runs launched by the tick have been dispatched; their
// completion is asynchronous.
func (s *Scheduler) Trigger(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	started := s.clock()

	s.mu.Lock()
	t := started
	s.state.LastTickStartedAt = &t
	s.state.LastTickError = ""
	s.mu.Unlock()

	s.persist("tick_start")
	s.emitState("tick_start")

	evaluated := 0
	launched := 0

	missions, err := s.ctrl.List(ctx, false)
	if err != nil {
		s.log.Errorw("tick: listing missions failed", "error", err)
		s.emit(EventSchedulerError, SchedulerError{Message: err.Error()})
		s.mu.Lock()
		s.state.LastTickError = err.Error()
		s.mu.Unlock()
	} else {
		evaluated = len(missions)
		due := make([]*mission.Record, 0, len(missions))
		for _, m := range missions {
			if m.NextRunAt == nil || m.NextRunAt.After(started) {
				continue
			}
			if s.isInFlight(m.ID) {
				continue
			}
			due = append(due, m)
		}

		// Dispatch order: priority descending, then nextRunAt ascending;
		// stable sort preserves the controller's list order for ties.
		sort.SliceStable(due, func(i, j int) bool {
			if due[i].Priority != due[j].Priority {
				return due[i].Priority > due[j].Priority
			}
			return due[i].NextRunAt.Before(*due[j].NextRunAt)
		})

		for _, m := range due {
			outcome := s.launch(ctx, m, false, "schedule", true)
			if outcome.Skipped {
				if outcome.Reason == SkipConcurrencyLimit {
					break
				}
				continue
			}
			launched++
		}
	}

	completed := s.clock()
	s.mu.Lock()
	c := completed
	s.state.LastTickCompletedAt = &c
	s.state.LastTickDurationMs = completed.Sub(started).Milliseconds()
	s.state.LastTickEvaluated = evaluated
	s.state.LastTickLaunched = launched
	s.mu.Unlock()

	s.persist("tick_complete")
	s.emitState("tick_complete")
}

// RunMission launches one mission immediately. With forced=true the due-time
// check is bypassed; duplicate-run and concurrency checks always apply. The
// call blocks until the run completes.
func (s *Scheduler) RunMission(ctx context.Context, missionID string, forced bool) (RunOutcome, error) {
	rec, err := s.ctrl.Get(ctx, missionID)
	if err != nil {
		return RunOutcome{}, err
	}
	if rec == nil {
		return RunOutcome{}, mission.ErrNotFound
	}
	if !rec.Enable || rec.Status == mission.StatusDisabled {
		return RunOutcome{Skipped: true, Reason: SkipDisabled}, nil
	}
	if !forced {
		now := s.clock()
		if rec.NextRunAt == nil || rec.NextRunAt.After(now) {
			return RunOutcome{Skipped: true, Reason: SkipNotDue}, nil
		}
	}
	return s.launch(ctx, rec, forced, "manual", false), nil
}

// GetState returns a snapshot of the live tick-level metrics.
func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() State {
	snap := s.state
	snap.ActiveRuns = len(s.inFlight)
	snap.IntervalMs = s.interval.Milliseconds()
	return snap
}

func (s *Scheduler) isInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[id]
	return ok
}

// reserve claims an in-flight slot for the mission. The duplicate-run check
// and the concurrency cap are decided atomically here.
func (s *Scheduler) reserve(id string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false, SkipAlreadyRunning
	}
	if s.maxConcurrent > 0 && len(s.inFlight) >= s.maxConcurrent {
		return false, SkipConcurrencyLimit
	}
	s.inFlight[id] = struct{}{}
	return true, ""
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// launch runs the launch routine for one mission. The in-flight reservation,
// run id, mission_started event, and markRunning transition happen
// synchronously in dispatch order; with async=true only the executor call
// and result bookkeeping move to a goroutine.
func (s *Scheduler) launch(ctx context.Context, rec *mission.Record, forced bool, trigger string, async bool) RunOutcome {
	ok, reason := s.reserve(rec.ID)
	if !ok {
		return RunOutcome{Skipped: true, Reason: reason}
	}

	runID := s.newRunID()
	startedAt := s.clock()
	s.emit(EventMissionStarted, MissionStarted{
		MissionID: rec.ID,
		RunID:     runID,
		Forced:    forced,
		StartedAt: startedAt,
	})
	s.recordRunStart(ctx, rec.ID, runID, forced, startedAt)

	if _, err := s.ctrl.MarkRunning(ctx, rec.ID, startedAt); err != nil {
		s.release(rec.ID)
		reason := SkipMarkRunning
		if errors.Is(err, mission.ErrAlreadyRunning) {
			reason = SkipAlreadyRunning
		} else {
			s.log.Warnw("markRunning failed", "mission_id", rec.ID, "error", err)
		}
		s.emit(EventMissionSkipped, MissionSkipped{MissionID: rec.ID, Reason: reason})
		s.recordRunSkipped(ctx, runID, reason)
		return RunOutcome{Skipped: true, Reason: reason}
	}

	run := executor.RunContext{
		RunID:     runID,
		Forced:    forced,
		Trigger:   trigger,
		StartedAt: startedAt,
	}
	if async {
		go s.execute(context.Background(), rec, run)
		return RunOutcome{RunID: runID}
	}
	return s.execute(ctx, rec, run)
}

// execute invokes the executor and performs all post-run bookkeeping. Any
// panic in the scheduler's own bookkeeping is caught, and the in-flight
// entry is always cleaned up.
func (s *Scheduler) execute(ctx context.Context, rec *mission.Record, run executor.RunContext) (outcome RunOutcome) {
	defer s.release(rec.ID)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("run %s: %v", run.RunID, r)
			s.log.Errorw("scheduler bookkeeping panic", "mission_id", rec.ID, "run_id", run.RunID, "panic", r)
			s.emit(EventSchedulerError, SchedulerError{Message: msg})
			outcome = RunOutcome{Success: false, Error: msg, RunID: run.RunID}
		}
	}()

	res, execErr := s.runExecutor(ctx, rec, run)

	finishedAt := s.clock()
	durationMs := finishedAt.Sub(run.StartedAt).Milliseconds()

	success := execErr == nil && res != nil && res.Success
	errMsg := ""
	var result map[string]any
	switch {
	case execErr != nil:
		errMsg = execErr.Error()
	case res == nil:
		errMsg = "executor returned no result"
	default:
		errMsg = res.Error
		result = res.Result
	}

	if _, err := s.ctrl.MarkResult(ctx, rec.ID, controller.Outcome{
		Success:    success,
		Error:      errMsg,
		Result:     result,
		FinishedAt: finishedAt,
	}); err != nil {
		s.log.Errorw("markResult failed", "mission_id", rec.ID, "run_id", run.RunID, "error", err)
		s.emit(EventSchedulerError, SchedulerError{Message: "markResult failed: " + err.Error()})
	}

	s.recordRunFinish(ctx, run.RunID, success, errMsg, result, finishedAt, durationMs)

	if success {
		s.emit(EventMissionCompleted, MissionCompleted{
			MissionID:  rec.ID,
			RunID:      run.RunID,
			FinishedAt: finishedAt,
			DurationMs: durationMs,
			Result:     result,
		})
		return RunOutcome{Success: true, Result: result, RunID: run.RunID}
	}

	s.emit(EventMissionFailed, MissionFailed{
		MissionID:  rec.ID,
		RunID:      run.RunID,
		FinishedAt: finishedAt,
		DurationMs: durationMs,
		Error:      errMsg,
	})
	return RunOutcome{Success: false, Error: errMsg, RunID: run.RunID}
}

// runExecutor calls the executor with a recover so a panicking executor is
// reported as a failed run instead of leaving the mission stuck in running.
func (s *Scheduler) runExecutor(ctx context.Context, rec *mission.Record, run executor.RunContext) (res *executor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("executor panic", "mission_id", rec.ID, "run_id", run.RunID, "panic", r)
			res = nil
			err = errors.Newf("executor panic: %v", r)
		}
	}()
	return s.exec.Execute(ctx, executor.Mission{
		ID:       rec.ID,
		Name:     rec.Name,
		Priority: rec.Priority,
		Tags:     rec.Tags,
		Payload:  rec.Payload,
	}, run)
}

func (s *Scheduler) recordRunStart(ctx context.Context, missionID, runID string, forced bool, startedAt time.Time) {
	if s.runs == nil {
		return
	}
	err := s.runs.RecordRun(ctx, &store.Run{
		ID:        runID,
		MissionID: missionID,
		Status:    "running",
		Forced:    forced,
		StartedAt: startedAt,
	})
	if err != nil {
		s.log.Warnw("recording run start failed", "run_id", runID, "error", err)
	}
}

func (s *Scheduler) recordRunSkipped(ctx context.Context, runID, reason string) {
	if s.runs == nil {
		return
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		return
	}
	run.Status = "failure"
	run.ErrorMsg = "skipped: " + reason
	if err := s.runs.RecordRun(ctx, run); err != nil {
		s.log.Warnw("recording run skip failed", "run_id", runID, "error", err)
	}
}

func (s *Scheduler) recordRunFinish(ctx context.Context, runID string, success bool, errMsg string, result map[string]any, finishedAt time.Time, durationMs int64) {
	if s.runs == nil {
		return
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil || run == nil {
		return
	}
	if success {
		run.Status = "success"
	} else {
		run.Status = "failure"
	}
	run.FinishedAt = &finishedAt
	run.DurationMs = durationMs
	run.ErrorMsg = errMsg
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			run.ResultJSON = string(raw)
		}
	}
	if err := s.runs.RecordRun(ctx, run); err != nil {
		s.log.Warnw("recording run result failed", "run_id", runID, "error", err)
	}
}

func (s *Scheduler) emit(event string, payload any) {
	s.sink.Emit(event, payload)
}

func (s *Scheduler) emitState(reason string) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	snap.Reason = reason
	s.emit(EventSchedulerState, snap)
}

// persist writes a snapshot with the given reason. Persistence failures are
// logged and telemetered, never propagated.
func (s *Scheduler) persist(reason string) {
	if s.states == nil {
		return
	}
	now := s.clock()

	s.mu.Lock()
	s.state.Reason = reason
	t := now
	s.state.LastPersistedAt = &t
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.states.Save(&snap); err != nil {
		s.log.Warnw("state persistence failed", "reason", reason, "error", err)
		s.emit(EventSchedulerError, SchedulerError{Message: "state persistence failed: " + err.Error()})
	}
}
