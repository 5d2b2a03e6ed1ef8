package notify

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouch_WritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.notify")

	require.NoError(t, Touch(path))
	assert.Equal(t, os.Getpid(), writerPID(path))

	require.NoError(t, Touch(""))
}

func TestWriterPID_MissingOrGarbage(t *testing.T) {
	dir := t.TempDir()
	assert.Zero(t, writerPID(filepath.Join(dir, "none")))

	p := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o600))
	assert.Zero(t, writerPID(p))
}

func startWatcher(t *testing.T, path string, calls *atomic.Int32) {
	t.Helper()
	w := NewWatcher(path, 20*time.Millisecond, func() { calls.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// give fsnotify time to register the directory
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_PeerWritesAreDebounced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.notify")
	var calls atomic.Int32
	startWatcher(t, path, &calls)

	peer := []byte(strconv.Itoa(os.Getpid()+1) + " 1\n")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, peer, 0o600))
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_IgnoresOwnTouches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.notify")
	var calls atomic.Int32
	startWatcher(t, path, &calls)

	require.NoError(t, Touch(path))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.notify")
	var calls atomic.Int32
	startWatcher(t, path, &calls)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "db-wal"), []byte("1 1"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
