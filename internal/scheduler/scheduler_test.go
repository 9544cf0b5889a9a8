package scheduler_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeck/missiond/internal/controller"
	"github.com/opsdeck/missiond/internal/mission"
	"github.com/opsdeck/missiond/internal/scheduler"
	"github.com/opsdeck/missiond/internal/statefile"
	"github.com/opsdeck/missiond/internal/store"
	"github.com/opsdeck/missiond/pkg/executor"
)

// memStore is an in-memory MissionStore for driving the real controller.
type memStore struct {
	mu      sync.Mutex
	records map[string]*mission.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*mission.Record)}
}

func (m *memStore) ListMissions(context.Context) ([]*mission.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*mission.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *memStore) GetMission(_ context.Context, id string) (*mission.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *memStore) PutMission(_ context.Context, rec *mission.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) DeleteMission(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// recordingExec records execution order and can block or fail per mission.
type recordingExec struct {
	mu      sync.Mutex
	calls   []string
	block   chan struct{}
	failMsg map[string]string
}

func (e *recordingExec) Execute(_ context.Context, m executor.Mission, _ executor.RunContext) (*executor.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, m.ID)
	block := e.block
	msg := ""
	if e.failMsg != nil {
		msg = e.failMsg[m.ID]
	}
	e.mu.Unlock()

	if block != nil {
		<-block
	}
	if msg != "" {
		return nil, errors.New(msg)
	}
	return &executor.Result{Success: true, Result: map[string]any{"mission": m.Name}}, nil
}

func (e *recordingExec) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *recordingExec) calledIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// recordSink captures emitted telemetry events in order.
type recordSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	name    string
	payload any
}

func (s *recordSink) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{name: event, payload: payload})
}

func (s *recordSink) byName(name string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, e := range s.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store *memStore
	ctrl  *controller.Controller
	exec  *recordingExec
	sink  *recordSink
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return &fixture{
		store: st,
		ctrl:  controller.New(st, func() time.Time { return now }, zap.NewNop().Sugar()),
		exec:  &recordingExec{},
		sink:  &recordSink{},
		now:   now,
	}
}

func (f *fixture) config() scheduler.Config {
	return scheduler.Config{
		Controller: f.ctrl,
		Executor:   f.exec,
		Telemetry:  f.sink,
		Logger:     zap.NewNop().Sugar(),
		Interval:   time.Hour,
		Clock:      func() time.Time { return f.now },
	}
}

// addMission seeds a record directly into the backing store.
func (f *fixture) addMission(t *testing.T, id string, priority int, nextRunAt *time.Time, enabled bool) {
	t.Helper()
	status := mission.StatusIdle
	if !enabled {
		status = mission.StatusDisabled
	}
	rec := &mission.Record{
		ID:        id,
		Name:      "mission " + id,
		Status:    status,
		Enable:    enabled,
		Priority:  priority,
		Schedule:  mission.Schedule{Type: mission.ScheduleInterval, IntervalMinutes: 60},
		NextRunAt: nextRunAt,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(t, f.store.PutMission(context.Background(), rec))
}

func timePtr(t time.Time) *time.Time { return &t }

func waitForIdle(t *testing.T, ctrl *controller.Controller, id string) *mission.Record {
	t.Helper()
	var rec *mission.Record
	require.Eventually(t, func() bool {
		r, err := ctrl.Get(context.Background(), id)
		if err != nil || r == nil {
			return false
		}
		rec = r
		return rec.Status != mission.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestTickLaunchesOnlyDueMissions(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "due", 0, timePtr(f.now.Add(-time.Minute)), true)
	f.addMission(t, "future", 0, timePtr(f.now.Add(time.Hour)), true)
	f.addMission(t, "unscheduled", 0, nil, true)

	s := scheduler.New(f.config())
	s.Trigger(context.Background())

	require.Eventually(t, func() bool { return f.exec.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"due"}, f.exec.calledIDs())

	state := s.GetState()
	assert.Equal(t, 3, state.LastTickEvaluated)
	assert.Equal(t, 1, state.LastTickLaunched)

	rec := waitForIdle(t, f.ctrl, "due")
	assert.Equal(t, mission.StatusIdle, rec.Status)
	require.NotNil(t, rec.NextRunAt)
	assert.True(t, rec.NextRunAt.After(f.now))
}

func TestTickSkipsDisabledMissions(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "off", 5, timePtr(f.now.Add(-time.Minute)), false)

	s := scheduler.New(f.config())
	s.Trigger(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.exec.callCount())
	assert.Equal(t, 0, s.GetState().LastTickEvaluated)
	assert.Empty(t, f.sink.byName(scheduler.EventMissionStarted))

	// An empty tick still announces its boundaries.
	var reasons []string
	for _, e := range f.sink.byName(scheduler.EventSchedulerState) {
		reasons = append(reasons, e.payload.(scheduler.State).Reason)
	}
	assert.Contains(t, reasons, "tick_start")
	assert.Contains(t, reasons, "tick_complete")
}

func TestTickDispatchesInPriorityOrder(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "low", 1, timePtr(f.now.Add(-time.Minute)), true)
	f.addMission(t, "high", 9, timePtr(f.now.Add(-time.Minute)), true)
	f.addMission(t, "mid", 5, timePtr(f.now.Add(-time.Minute)), true)

	s := scheduler.New(f.config())
	s.Trigger(context.Background())

	require.Eventually(t, func() bool { return f.exec.callCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	// The launch routine emits mission_started synchronously in dispatch
	// order, so event order proves dispatch order.
	started := f.sink.byName(scheduler.EventMissionStarted)
	require.Len(t, started, 3)
	ids := make([]string, 0, 3)
	for _, e := range started {
		ids = append(ids, e.payload.(scheduler.MissionStarted).MissionID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, ids)
}

func TestTickTieBreaksOnNextRunAt(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "later", 3, timePtr(f.now.Add(-time.Minute)), true)
	f.addMission(t, "earlier", 3, timePtr(f.now.Add(-time.Hour)), true)

	s := scheduler.New(f.config())
	s.Trigger(context.Background())

	require.Eventually(t, func() bool { return f.exec.callCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	started := f.sink.byName(scheduler.EventMissionStarted)
	require.Len(t, started, 2)
	assert.Equal(t, "earlier", started[0].payload.(scheduler.MissionStarted).MissionID)
	assert.Equal(t, "later", started[1].payload.(scheduler.MissionStarted).MissionID)
}

func TestConcurrencyLimitStopsDispatch(t *testing.T) {
	f := newFixture(t)
	f.exec.block = make(chan struct{})
	f.addMission(t, "first", 9, timePtr(f.now.Add(-time.Minute)), true)
	f.addMission(t, "second", 1, timePtr(f.now.Add(-time.Minute)), true)

	cfg := f.config()
	cfg.MaxConcurrent = 1
	s := scheduler.New(cfg)
	s.Trigger(context.Background())

	state := s.GetState()
	assert.Equal(t, 2, state.LastTickEvaluated)
	assert.Equal(t, 1, state.LastTickLaunched)
	assert.Equal(t, 1, state.ActiveRuns)
	require.Eventually(t, func() bool { return f.exec.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first"}, f.exec.calledIDs())

	close(f.exec.block)
	require.Eventually(t, func() bool { return s.GetState().ActiveRuns == 0 }, 2*time.Second, 5*time.Millisecond)

	// The held-back mission is still due on the next pass.
	s.Trigger(context.Background())
	require.Eventually(t, func() bool { return f.exec.callCount() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestDuplicateRunSkipped(t *testing.T) {
	f := newFixture(t)
	f.exec.block = make(chan struct{})
	f.addMission(t, "m1", 0, timePtr(f.now.Add(-time.Minute)), true)

	s := scheduler.New(f.config())

	type runResult struct {
		out scheduler.RunOutcome
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		out, err := s.RunMission(context.Background(), "m1", true)
		done <- runResult{out: out, err: err}
	}()

	require.Eventually(t, func() bool { return s.GetState().ActiveRuns == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, scheduler.SkipAlreadyRunning, second.Reason)

	// A tick during the run must not double-launch either.
	s.Trigger(context.Background())
	assert.Equal(t, 1, f.exec.callCount())

	close(f.exec.block)
	first := <-done
	require.NoError(t, first.err)
	assert.False(t, first.out.Skipped)
	assert.True(t, first.out.Success)
	assert.Equal(t, 1, f.exec.callCount())
}

func TestRunMissionRespectsDueTimeUnlessForced(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "m1", 0, timePtr(f.now.Add(time.Hour)), true)

	s := scheduler.New(f.config())

	out, err := s.RunMission(context.Background(), "m1", false)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, scheduler.SkipNotDue, out.Reason)
	assert.Zero(t, f.exec.callCount())

	out, err = s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.True(t, out.Success)
	assert.Equal(t, map[string]any{"mission": "mission m1"}, out.Result)
}

func TestRunMissionUnknownAndDisabled(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "off", 0, nil, false)

	s := scheduler.New(f.config())

	_, err := s.RunMission(context.Background(), "nope", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mission.ErrNotFound))

	out, err := s.RunMission(context.Background(), "off", true)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, scheduler.SkipDisabled, out.Reason)
}

func TestFailedRunBookkeeping(t *testing.T) {
	f := newFixture(t)
	f.exec.failMsg = map[string]string{"m1": "connection refused"}
	f.addMission(t, "m1", 0, timePtr(f.now.Add(-time.Minute)), true)

	s := scheduler.New(f.config())
	out, err := s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "connection refused")

	rec := waitForIdle(t, f.ctrl, "m1")
	assert.Equal(t, mission.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastRunError, "connection refused")
	require.NotNil(t, rec.LastRunFinishedAt)
	require.NotNil(t, rec.NextRunAt)
	assert.True(t, rec.NextRunAt.After(*rec.LastRunFinishedAt))

	failed := f.sink.byName(scheduler.EventMissionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "m1", failed[0].payload.(scheduler.MissionFailed).MissionID)
}

func TestPanickingExecutorFailsRun(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "m1", 0, timePtr(f.now.Add(-time.Minute)), true)

	cfg := f.config()
	cfg.Executor = executor.Func(func(context.Context, executor.Mission, executor.RunContext) (*executor.Result, error) {
		panic("boom")
	})
	s := scheduler.New(cfg)

	out, err := s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "executor panic")
	assert.Contains(t, out.Error, "boom")

	// The run is bookkept like any other failure: the record leaves the
	// running status and a mission_failed event is emitted, so the next
	// launch is not rejected as already_running.
	rec := waitForIdle(t, f.ctrl, "m1")
	assert.Equal(t, mission.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastRunError, "executor panic")
	require.NotNil(t, rec.NextRunAt)

	failed := f.sink.byName(scheduler.EventMissionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "m1", failed[0].payload.(scheduler.MissionFailed).MissionID)

	out, err = s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
}

func TestSuccessfulRunEmitsCompletion(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "m1", 0, timePtr(f.now.Add(-time.Minute)), true)

	s := scheduler.New(f.config())
	out, err := s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	require.True(t, out.Success)
	require.NotEmpty(t, out.RunID)

	completed := f.sink.byName(scheduler.EventMissionCompleted)
	require.Len(t, completed, 1)
	payload := completed[0].payload.(scheduler.MissionCompleted)
	assert.Equal(t, "m1", payload.MissionID)
	assert.Equal(t, out.RunID, payload.RunID)

	rec := waitForIdle(t, f.ctrl, "m1")
	assert.Equal(t, mission.StatusIdle, rec.Status)
	assert.Empty(t, rec.LastRunError)
}

func TestStatePersistedAtTickBoundaries(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "m1", 0, timePtr(f.now.Add(-time.Minute)), true)

	path := filepath.Join(t.TempDir(), "state.json")
	repo := statefile.New(path, zap.NewNop().Sugar())

	cfg := f.config()
	cfg.States = repo
	s := scheduler.New(cfg)
	s.Trigger(context.Background())

	snap := repo.Load()
	require.NotNil(t, snap)
	assert.Equal(t, "tick_complete", snap.Reason)
	// Trigger without Start: the loop is not running.
	assert.False(t, snap.Running)
	assert.Equal(t, 1, snap.LastTickEvaluated)
	assert.Equal(t, 1, snap.LastTickLaunched)
	require.NotNil(t, snap.LastTickStartedAt)
	require.NotNil(t, snap.LastTickCompletedAt)
	require.NotNil(t, snap.LastPersistedAt)
	assert.Equal(t, time.Hour.Milliseconds(), snap.IntervalMs)
}

func TestRestoreFromSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	repo := statefile.New(path, zap.NewNop().Sugar())

	started := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	completed := started.Add(120 * time.Millisecond)
	require.NoError(t, repo.Save(&scheduler.State{
		Running:             true,
		ActiveRuns:          3,
		LastTickStartedAt:   &started,
		LastTickCompletedAt: &completed,
		LastTickDurationMs:  120,
		LastTickEvaluated:   7,
		LastTickLaunched:    2,
	}))

	f := newFixture(t)
	cfg := f.config()
	cfg.States = repo
	s := scheduler.New(cfg)

	state := s.GetState()
	// Tick metrics survive; liveness does not.
	assert.False(t, state.Running)
	assert.Zero(t, state.ActiveRuns)
	assert.Equal(t, 7, state.LastTickEvaluated)
	assert.Equal(t, 2, state.LastTickLaunched)
	assert.Equal(t, int64(120), state.LastTickDurationMs)
	require.NotNil(t, state.LastTickStartedAt)
	assert.True(t, started.Equal(*state.LastTickStartedAt))

	restored := f.sink.byName(scheduler.EventSchedulerState)
	require.NotEmpty(t, restored)
	assert.Equal(t, "restored", restored[0].payload.(scheduler.State).Reason)
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "state.json")
	repo := statefile.New(path, zap.NewNop().Sugar())

	cfg := f.config()
	cfg.States = repo
	s := scheduler.New(cfg)

	s.Start()
	assert.True(t, s.GetState().Running)

	// Second Start is a no-op announcing the existing loop.
	s.Start()
	var reasons []string
	for _, e := range f.sink.byName(scheduler.EventSchedulerState) {
		reasons = append(reasons, e.payload.(scheduler.State).Reason)
	}
	assert.Contains(t, reasons, "already_running")

	s.Stop()
	assert.False(t, s.GetState().Running)

	snap := repo.Load()
	require.NotNil(t, snap)
	assert.Equal(t, "shutdown", snap.Reason)
	assert.False(t, snap.Running)
}

func TestTickRecordsRunHistory(t *testing.T) {
	f := newFixture(t)
	f.addMission(t, "m1", 0, timePtr(f.now.Add(-time.Minute)), true)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	cfg := f.config()
	cfg.Runs = st
	s := scheduler.New(cfg)

	out, err := s.RunMission(context.Background(), "m1", true)
	require.NoError(t, err)
	require.True(t, out.Success)

	run, err := st.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "m1", run.MissionID)
	assert.Equal(t, "success", run.Status)
	assert.True(t, run.Forced)
	require.NotNil(t, run.FinishedAt)
	assert.NotEmpty(t, run.ResultJSON)
}

func TestManyMissionsSingleTick(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.addMission(t, fmt.Sprintf("m%02d", i), i%5, timePtr(f.now.Add(-time.Minute)), true)
	}

	s := scheduler.New(f.config())
	s.Trigger(context.Background())

	require.Eventually(t, func() bool { return f.exec.callCount() == 20 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.GetState().ActiveRuns == 0 }, 5*time.Second, 10*time.Millisecond)

	state := s.GetState()
	assert.Equal(t, 20, state.LastTickEvaluated)
	assert.Equal(t, 20, state.LastTickLaunched)
}
