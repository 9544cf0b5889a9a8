// Package executor defines the contract between the mission scheduler and
// the code that performs a mission's actual work.
package executor

import (
	"context"
	"time"
)

// Mission is the executor-facing view of a mission record.
type Mission struct {
	ID       string
	Name     string
	Priority int
	Tags     []string
	Payload  map[string]any
}

// RunContext identifies one invocation of a mission.
type RunContext struct {
	RunID     string
	Forced    bool
	Trigger   string // "schedule", "manual"
	StartedAt time.Time
}

// Result is the outcome of one execution. Error is set when Success is false.
type Result struct {
	Success bool
	Result  map[string]any
	Error   string
}

// Executor performs a mission's payload. Returning a non-nil error is
// equivalent to a thrown exception; the scheduler records it as a failure.
// The scheduler never cancels in-flight executions on Stop, so executors
// needing hard deadlines must enforce them internally.
type Executor interface {
	Execute(ctx context.Context, m Mission, run RunContext) (*Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, m Mission, run RunContext) (*Result, error)

func (f Func) Execute(ctx context.Context, m Mission, run RunContext) (*Result, error) {
	return f(ctx, m, run)
}
