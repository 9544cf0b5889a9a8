package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/missiond/pkg/executor"
)

func TestRingBufferBasicWrite(t *testing.T) {
	rb := NewRingBuffer(16)
	_, err := rb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", rb.String())
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(8)
	_, err := rb.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = rb.Write([]byte("ghij"))
	require.NoError(t, err)
	assert.Equal(t, "cdefghij", rb.String())
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)
	_, err := rb.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, "efgh", rb.String())
}

func testMission(payload map[string]any) executor.Mission {
	return executor.Mission{ID: "m1", Name: "test mission", Payload: payload}
}

func testRun() executor.RunContext {
	return executor.RunContext{RunID: "r1", Trigger: "manual", StartedAt: time.Now()}
}

func TestShellExecutorSuccess(t *testing.T) {
	e := NewShellExecutor()
	res, err := e.Execute(context.Background(), testMission(map[string]any{
		"command": "echo hello",
	}), testRun())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Result["exit_code"])
	assert.Contains(t, res.Result["stdout_tail"], "hello")
}

func TestShellExecutorFailure(t *testing.T) {
	e := NewShellExecutor()
	res, err := e.Execute(context.Background(), testMission(map[string]any{
		"command": "echo oops >&2; exit 3",
	}), testRun())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Result["exit_code"])
	assert.Contains(t, res.Result["stderr_tail"], "oops")
}

func TestShellExecutorTimeout(t *testing.T) {
	e := NewShellExecutor()
	res, err := e.Execute(context.Background(), testMission(map[string]any{
		"command": "sleep 5",
		"timeout": "50ms",
	}), testRun())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.Error)
}

func TestShellExecutorMissingCommand(t *testing.T) {
	e := NewShellExecutor()
	_, err := e.Execute(context.Background(), testMission(map[string]any{}), testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestShellExecutorBadTimeout(t *testing.T) {
	e := NewShellExecutor()
	_, err := e.Execute(context.Background(), testMission(map[string]any{
		"command": "true",
		"timeout": "soon",
	}), testRun())
	require.Error(t, err)
}

func TestShellExecutorEnv(t *testing.T) {
	e := NewShellExecutor()
	res, err := e.Execute(context.Background(), testMission(map[string]any{
		"command": "echo $GREETING $MISSIOND_MISSION_ID $MISSIOND_RUN_ID",
		"env":     map[string]any{"GREETING": "hi"},
	}), testRun())
	require.NoError(t, err)
	require.True(t, res.Success)
	out := res.Result["stdout_tail"].(string)
	assert.True(t, strings.HasPrefix(out, "hi m1 r1"), "got %q", out)
}

func TestShellExecutorWorkingDir(t *testing.T) {
	dir := t.TempDir()
	e := NewShellExecutor()
	res, err := e.Execute(context.Background(), testMission(map[string]any{
		"command":     "pwd",
		"working_dir": dir,
	}), testRun())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Result["stdout_tail"], dir)
}
