package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/types"
)

type recorder struct {
	mu      sync.Mutex
	changes []types.FileChange
}

func (r *recorder) record(c types.FileChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []types.FileChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.FileChange(nil), r.changes...)
}

func (r *recorder) has(path string, typ types.EventType) bool {
	for _, c := range r.snapshot() {
		if c.Path == path && c.Type == typ {
			return true
		}
	}
	return false
}

func newWatcher(t *testing.T, root string, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := New(Config{Root: root, Debounce: debounce, Logger: logging.NewTestLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestIgnored(t *testing.T) {
	w := newWatcher(t, "/ws", time.Millisecond)
	tests := []struct {
		path string
		want bool
	}{
		{"/ws", false},
		{"/ws/src/main.go", false},
		{"/ws/.git/HEAD", true},
		{"/ws/web/node_modules/x/index.js", true},
		{"/ws/.sentinel/ledger.db", true},
		{"/ws/debug.log", true},
		{"/ws/build/out.js", true},
		{"/elsewhere/file.go", true},
	}
	for _, tt := range tests {
		if got := w.ignored(tt.path); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestScheduleCoalesces(t *testing.T) {
	w := newWatcher(t, "/ws", 20*time.Millisecond)
	rec := &recorder{}
	w.Subscribe(rec.record)

	w.schedule("/ws/a.go", types.EventFileCreated)
	w.schedule("/ws/a.go", types.EventFileModified)
	w.schedule("/ws/a.go", types.EventFileModified)
	w.schedule("/ws/b.go", types.EventFileModified)
	w.schedule("/ws/b.go", types.EventFileDeleted)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.has("/ws/a.go", types.EventFileCreated))
	assert.True(t, rec.has("/ws/b.go", types.EventFileDeleted))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 2)
}

func TestUnsubscribe(t *testing.T) {
	w := newWatcher(t, "/ws", 5*time.Millisecond)
	rec := &recorder{}
	unsubscribe := w.Subscribe(rec.record)
	unsubscribe()
	unsubscribe()

	w.schedule("/ws/a.go", types.EventFileModified)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatchesTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))

	w := newWatcher(t, root, 20*time.Millisecond)
	rec := &recorder{}
	w.Subscribe(rec.record)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))

	file := filepath.Join(root, "src", "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return rec.has(file, types.EventFileCreated) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return rec.has(file, types.EventFileDeleted) }, 2*time.Second, 10*time.Millisecond)

	for _, c := range rec.snapshot() {
		assert.NotContains(t, c.Path, "node_modules")
	}

	// directories created after start are picked up
	nested := filepath.Join(root, "pkg", "auth")
	require.NoError(t, os.MkdirAll(nested, 0755))
	time.Sleep(50 * time.Millisecond)
	late := filepath.Join(nested, "token.go")
	require.NoError(t, os.WriteFile(late, []byte("package auth\n"), 0644))
	require.Eventually(t, func() bool {
		return rec.has(late, types.EventFileCreated) || rec.has(late, types.EventFileModified)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestStartFailsForMissingRoot(t *testing.T) {
	w := newWatcher(t, filepath.Join(t.TempDir(), "missing"), time.Millisecond)
	assert.Error(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
}
