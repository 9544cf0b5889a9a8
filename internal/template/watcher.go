package template

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/opsdeck/missiond/internal/telemetry"
)

// TemplateChanged is emitted when a template file is created, modified,
// renamed, or removed on disk.
type TemplateChanged struct {
	Slug string `json:"slug"`
	Op   string `json:"op"`
}

// Watcher observes the templates directory and announces file changes so
// console clients can refresh their template listings.
type Watcher struct {
	dir    string
	sink   telemetry.Sink
	log    *zap.SugaredLogger
	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching dir. The directory must exist.
func NewWatcher(dir string, sink telemetry.Sink, log *zap.SugaredLogger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{dir: dir, sink: sink, log: log, fs: fs, cancel: cancel}
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(evt.Name, fileSuffix) {
				continue
			}
			slug := slugFromFileName(filepath.Base(evt.Name))
			w.log.Debugw("template changed", "slug", slug, "op", evt.Op.String())
			w.sink.Emit("template_changed", TemplateChanged{Slug: slug, Op: evt.Op.String()})
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warnw("template watcher error", "error", err)
		}
	}
}
