package mission

import "github.com/cockroachdb/errors"

// Sentinel errors for the mission domain. Callers classify with errors.Is.
var (
	// ErrInvalidSchedule marks schedule-validation failures: both or neither
	// variant set, non-positive interval, unparseable cron expression.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrTemplateNotFound is returned for an unknown template slug.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrPayloadParse is returned when a payload override given as a JSON
	// string cannot be parsed.
	ErrPayloadParse = errors.New("payload parse failed")

	// ErrNotFound is returned for an unknown mission id.
	ErrNotFound = errors.New("mission not found")

	// ErrAlreadyRunning is the concurrent-run conflict: a transition to
	// running was requested for a mission that is already running.
	ErrAlreadyRunning = errors.New("mission already running")
)
