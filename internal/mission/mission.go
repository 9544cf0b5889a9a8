// Package mission defines the mission record model shared by the controller,
// the scheduler, and the template repository.
package mission

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a mission record.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
)

// Record is the canonical mission state, owned by the controller. The
// scheduler observes records and requests transitions but never mutates them
// directly.
type Record struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Status            Status         `json:"status"`
	Enable            bool           `json:"enable"`
	Priority          int            `json:"priority"`
	Schedule          Schedule       `json:"schedule"`
	NextRunAt         *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt         *time.Time     `json:"last_run_at,omitempty"`
	LastRunFinishedAt *time.Time     `json:"last_run_finished_at,omitempty"`
	LastRunError      string         `json:"last_run_error,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Clone returns a deep-enough copy for handing records across goroutines.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	if r.Payload != nil {
		cp.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

// Draft is a normalized mission definition derived from a template plus
// overrides, not yet persisted.
type Draft struct {
	Slug     string         `json:"slug,omitempty"`
	Name     string         `json:"name"`
	Schedule Schedule       `json:"schedule"`
	Priority int            `json:"priority"`
	Enable   bool           `json:"enable"`
	Tags     []string       `json:"tags,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// NormalizeTags trims, drops empties, and dedupes while preserving order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
