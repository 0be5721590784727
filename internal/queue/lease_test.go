package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireThenSecondAcquireFailsWhileFirstHoldsLock(t *testing.T) {
	dir := t.TempDir()
	lease, ln, err := Acquire(dir, "rec-1", "sess-1")
	require.NoError(t, err)
	defer ln.Close()
	defer lease.Release()

	_, _, err = Acquire(dir, "rec-1", "sess-1")
	assert.Error(t, err, "a live owner's lock must not be stolen (invariant 2)")
}

func TestAcquireCleansUpStaleLockFromDeadPID(t *testing.T) {
	dir := t.TempDir()
	paths := PathsFor(dir, "rec-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// Write a lock file naming a PID that is (almost certainly) dead.
	writeLock(t, paths.LockPath, LockFile{PID: 999999, SessionID: "sess-1", SocketPath: paths.SocketPath})

	lease, ln, err := Acquire(dir, "rec-1", "sess-1")
	require.NoError(t, err, "a stale lock must be cleaned up and re-acquired")
	defer ln.Close()
	defer lease.Release()
}

func TestReleaseRemovesLockAndSocket(t *testing.T) {
	dir := t.TempDir()
	lease, ln, err := Acquire(dir, "rec-1", "sess-1")
	require.NoError(t, err)
	ln.Close()

	lease.Release()
	_, err = os.Stat(lease.Paths.LockPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(lease.Paths.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestQueueKeyIsStableAndTruncated(t *testing.T) {
	k1 := QueueKey("same-id")
	k2 := QueueKey("same-id")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 24)
}

func TestPathsForLayout(t *testing.T) {
	p := PathsFor("/root/.acpx/queues", "rec-1")
	assert.Equal(t, filepath.Join("/root/.acpx/queues", QueueKey("rec-1")+".lock"), p.LockPath)
	assert.Equal(t, filepath.Join("/root/.acpx/queues", QueueKey("rec-1")+".sock"), p.SocketPath)
}

func writeLock(t *testing.T, path string, lf LockFile) {
	t.Helper()
	data, err := json.Marshal(lf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
