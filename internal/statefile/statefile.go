// Package statefile stores the scheduler-state snapshot as a single JSON
// file, replaced atomically on every save.
package statefile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/opsdeck/missiond/internal/scheduler"
)

// Repository implements scheduler.StateRepository over one file on disk.
type Repository struct {
	path string
	log  *zap.SugaredLogger
}

// New creates a Repository writing to path.
func New(path string, log *zap.SugaredLogger) *Repository {
	return &Repository{path: path, log: log}
}

// Path returns the snapshot file path.
func (r *Repository) Path() string {
	return r.path
}

// Load returns the last persisted snapshot, or nil for a fresh install,
// an unreadable file, or a parse error. Unknown keys in the file are
// ignored; missing keys keep their zero values.
func (r *Repository) Load() *scheduler.State {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warnw("state snapshot unreadable", "path", r.path, "error", err)
		}
		return nil
	}

	var snap scheduler.State
	if err := json.Unmarshal(data, &snap); err != nil {
		r.log.Warnw("state snapshot corrupt, ignoring", "path", r.path, "error", err)
		return nil
	}
	return &snap
}

// Save writes the snapshot to a scratch file and renames it into place, so
// readers never observe a torn file.
func (r *Repository) Save(snapshot *scheduler.State) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling state snapshot")
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating state dir %s", dir)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "writing state scratch file %s", tmp)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return errors.Wrapf(err, "replacing state snapshot %s", r.path)
	}
	return nil
}
