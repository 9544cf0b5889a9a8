package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	name    string
	payload any
}

func (s *captureSink) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{name: event, payload: payload})
}

func (s *captureSink) slugs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.name == "template_changed" {
			out = append(out, e.payload.(TemplateChanged).Slug)
		}
	}
	return out
}

func TestWatcherEmitsOnTemplateWrite(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{}

	w, err := NewWatcher(dir, sink, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.yaml"), []byte(backupTemplate), 0644))

	require.Eventually(t, func() bool {
		return len(sink.slugs()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, sink.slugs(), "backup")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{}

	w, err := NewWatcher(dir, sink, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.slugs())
}

func TestTemplateChangedPayloadKeys(t *testing.T) {
	raw, err := json.Marshal(TemplateChanged{Slug: "backup", Op: "WRITE"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slug":"backup","op":"WRITE"}`, string(raw))
}

func TestWatcherMissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), &captureSink{}, zap.NewNop().Sugar())
	require.Error(t, err)
}
