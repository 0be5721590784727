package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpxdev/acpx/internal/model"
)

func newTestRecord(id, cmd, cwd, name string) *model.SessionRecord {
	now := time.Now()
	return &model.SessionRecord{
		Schema:       model.SchemaVersion,
		AcpxRecordID: id,
		AcpSessionID: "sess-" + id,
		AgentCommand: cmd,
		Cwd:          cwd,
		Name:         name,
		CreatedAt:    now,
		LastUsedAt:   now,
		UpdatedAt:    now,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	rec := newTestRecord(NewRecordID(), "claude-code-acp", "/tmp/work", "")

	require.NoError(t, s.WriteSessionRecord(rec))

	got, err := s.ReadSessionRecord(rec.AcpxRecordID)
	require.NoError(t, err)
	assert.Equal(t, rec.AcpSessionID, got.AcpSessionID)
	assert.Equal(t, rec.AgentCommand, got.AgentCommand)
}

func TestWriteLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	rec := newTestRecord(NewRecordID(), "cmd", "/tmp/a", "")
	require.NoError(t, s.WriteSessionRecord(rec))

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "exactly one file (the .json record), no leftover .tmp")
}

func filepathGlobJSON(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.json"))
}

func TestFindSessionExactMatch(t *testing.T) {
	s := New(t.TempDir())
	rec := newTestRecord(NewRecordID(), "claude-code-acp", "/tmp/work", "main")
	require.NoError(t, s.WriteSessionRecord(rec))

	got, err := s.FindSession(model.Key{AgentCommand: "claude-code-acp", Cwd: NormalizeCwd("/tmp/work"), Name: "main"}, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.AcpxRecordID, got.AcpxRecordID)
}

func TestFindSessionSkipsClosedUnlessRequested(t *testing.T) {
	s := New(t.TempDir())
	rec := newTestRecord(NewRecordID(), "cmd", NormalizeCwd("/tmp/work"), "x")
	rec.Closed = true
	require.NoError(t, s.WriteSessionRecord(rec))

	got, err := s.FindSession(model.Key{AgentCommand: "cmd", Cwd: NormalizeCwd("/tmp/work"), Name: "x"}, false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindSession(model.Key{AgentCommand: "cmd", Cwd: NormalizeCwd("/tmp/work"), Name: "x"}, true)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestListSessionsDiscardsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	good := newTestRecord(NewRecordID(), "cmd", "/tmp/a", "")
	require.NoError(t, s.WriteSessionRecord(good))

	require.NoError(t, writeRaw(filepath.Join(dir, "broken.json"), "{not json"))

	all, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, good.AcpxRecordID, all[0].AcpxRecordID)
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestResolveSessionRecordBySuffix(t *testing.T) {
	s := New(t.TempDir())
	rec := newTestRecord("abcdef12-3456-7890-aaaa-bbbbbbbbbbbb", "cmd", "/tmp/a", "")
	require.NoError(t, s.WriteSessionRecord(rec))

	got, err := s.ResolveSessionRecord("bbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, rec.AcpxRecordID, got.AcpxRecordID)
}

func TestResolveSessionRecordAmbiguousSuffixFails(t *testing.T) {
	s := New(t.TempDir())
	a := newTestRecord("11111111-0000-0000-0000-aaaaaaaaaaaa", "cmd", "/tmp/a", "")
	b := newTestRecord("22222222-0000-0000-0000-aaaaaaaaaaaa", "cmd", "/tmp/b", "")
	require.NoError(t, s.WriteSessionRecord(a))
	require.NoError(t, s.WriteSessionRecord(b))

	_, err := s.ResolveSessionRecord("aaaaaaaaaaaa")
	require.Error(t, err)
}

func TestFindSessionByDirectoryWalkFindsNearestAncestor(t *testing.T) {
	s := New(t.TempDir())
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b", "c")

	rec := newTestRecord(NewRecordID(), "cmd", NormalizeCwd(root), "")
	require.NoError(t, s.WriteSessionRecord(rec))

	got, err := FindSessionByDirectoryWalk(s, "cmd", sub, "", root, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.AcpxRecordID, got.AcpxRecordID)
}

func TestRepoRootNoneFound(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", RepoRoot(dir))
}
