package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawNotification(method string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  map[string]any{},
	})
	return data
}

func rawResponse(id int) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  map[string]any{"ok": true},
	})
	return data
}

func TestAppendIncrementsSeqMonotonically(t *testing.T) {
	dir := t.TempDir()
	w := Open(filepath.Join(dir, "sess1"), 0, 0, 0, "")
	require.False(t, w.Broken())

	for i := 0; i < 5; i++ {
		require.NoError(t, w.AppendMessage(rawNotification("session/update"), AppendOptions{}))
	}
	assert.EqualValues(t, 5, w.LastSeq())
}

func TestAppendResponseSetsLastRequestID(t *testing.T) {
	dir := t.TempDir()
	w := Open(filepath.Join(dir, "sess1"), 0, 0, 0, "")

	require.NoError(t, w.AppendMessage(rawNotification("session/update"), AppendOptions{}))
	assert.Equal(t, "", w.LastRequestID())

	require.NoError(t, w.AppendMessage(rawResponse(42), AppendOptions{}))
	assert.Equal(t, "42", w.LastRequestID())
}

func TestManifestReflectsConfiguredLimits(t *testing.T) {
	dir := t.TempDir()
	w := Open(filepath.Join(dir, "sess1"), 2*1024*1024, 3, 0, "")

	m := w.Manifest()
	assert.EqualValues(t, 2*1024*1024, m.MaxSegmentBytes)
	assert.Equal(t, 3, m.MaxSegments)
	assert.Contains(t, m.ActivePath, "stream.ndjson")
}

func TestOpenDegradesWhenDirCannotBeCreated(t *testing.T) {
	// Make a file where a directory needs to go, so MkdirAll fails.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, writeBlockerFile(blocker))

	w := Open(filepath.Join(blocker, "sess1"), 0, 0, 0, "")
	assert.True(t, w.Broken())

	// Appends on a broken writer are no-ops, never errors.
	require.NoError(t, w.AppendMessage(rawNotification("x"), AppendOptions{}))
	assert.EqualValues(t, 0, w.LastSeq())
}

func writeBlockerFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}

func TestAppendRotatesIntoNumberedSegmentsAndPrunesOldest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sess1")
	// Each notification line is a little over 50 bytes; a 100-byte limit
	// forces a rotation after roughly two lines per segment.
	w := Open(dir, 100, 2, 0, "")
	require.False(t, w.Broken())

	for i := 0; i < 6; i++ {
		require.NoError(t, w.AppendMessage(rawNotification("session/update"), AppendOptions{}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var rotatedNames []string
	sawActive := false
	for _, e := range entries {
		if e.Name() == "stream.ndjson" {
			sawActive = true
			continue
		}
		if n, ok := isRotatedSegmentName(e.Name()); ok {
			rotatedNames = append(rotatedNames, e.Name())
			assert.Greater(t, n, 0)
		} else {
			t.Fatalf("unexpected file left behind by rotation: %s", e.Name())
		}
	}

	assert.True(t, sawActive, "active segment stream.ndjson must still exist")
	assert.LessOrEqual(t, len(rotatedNames), 1, "rotated segments must be pruned so active+rotated <= maxSegments")

	m := w.Manifest()
	assert.LessOrEqual(t, m.SegmentCount, 2, "eventLog.segmentCount must never exceed eventLog.maxSegments")
}
