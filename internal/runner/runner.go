// Package runner provides the default shell executor: it interprets a
// mission payload of the form {command, timeout, working_dir, env} and runs
// the command under sh -c.
package runner

import (
	"context"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/opsdeck/missiond/pkg/executor"
)

const ringBufSize = 64 * 1024 // 64KB

// RingBuffer is a fixed-size circular buffer that implements io.Writer.
// It retains only the most recent bytes written, up to its capacity.
type RingBuffer struct {
	buf  []byte
	size int
	pos  int
	full bool
}

// NewRingBuffer creates a RingBuffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer. It writes p into the ring buffer,
// overwriting the oldest data if capacity is exceeded.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= rb.size {
		// Data larger than buffer; keep only the tail.
		copy(rb.buf, p[n-rb.size:])
		rb.pos = 0
		rb.full = true
		return n, nil
	}

	// Copy what fits before wrap-around.
	oldPos := rb.pos
	first := rb.size - rb.pos
	if first >= n {
		copy(rb.buf[rb.pos:], p)
	} else {
		copy(rb.buf[rb.pos:], p[:first])
		copy(rb.buf, p[first:])
	}

	rb.pos = (rb.pos + n) % rb.size
	if !rb.full && rb.pos <= oldPos {
		rb.full = true
	}
	return n, nil
}

// String returns the buffered contents in chronological order.
func (rb *RingBuffer) String() string {
	if !rb.full {
		return string(rb.buf[:rb.pos])
	}
	// Buffer is full: data from pos..end is oldest, then 0..pos is newest.
	out := make([]byte, rb.size)
	n := copy(out, rb.buf[rb.pos:])
	copy(out[n:], rb.buf[:rb.pos])
	return string(out)
}

// ShellExecutor runs mission payload commands through the shell.
type ShellExecutor struct{}

// NewShellExecutor creates a ShellExecutor.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

type shellPayload struct {
	command    string
	timeout    time.Duration
	workingDir string
	env        map[string]string
}

func parsePayload(payload map[string]any) (*shellPayload, error) {
	command, _ := payload["command"].(string)
	if command == "" {
		return nil, errors.New("payload is missing a command")
	}

	p := &shellPayload{command: command}
	if raw, ok := payload["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing payload timeout %q", raw)
		}
		p.timeout = d
	}
	if dir, ok := payload["working_dir"].(string); ok {
		p.workingDir = dir
	}
	if env, ok := payload["env"].(map[string]any); ok {
		p.env = make(map[string]string, len(env))
		for k, v := range env {
			if s, ok := v.(string); ok {
				p.env[k] = s
			}
		}
	}
	return p, nil
}

// Execute implements executor.Executor.
func (e *ShellExecutor) Execute(ctx context.Context, m executor.Mission, run executor.RunContext) (*executor.Result, error) {
	p, err := parsePayload(m.Payload)
	if err != nil {
		return nil, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	cmd.Env = BuildEnv(p.env, m, run)
	if p.workingDir != "" {
		cmd.Dir = p.workingDir
	}

	stdoutBuf := NewRingBuffer(ringBufSize)
	stderrBuf := NewRingBuffer(ringBufSize)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	exitCode := 0
	errMsg := ""
	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			errMsg = "timeout"
		} else {
			errMsg = runErr.Error()
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return &executor.Result{
		Success: runErr == nil,
		Error:   errMsg,
		Result: map[string]any{
			"exit_code":   exitCode,
			"stdout_tail": stdoutBuf.String(),
			"stderr_tail": stderrBuf.String(),
			"duration_ms": durationMs,
		},
	}, nil
}
