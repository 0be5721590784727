package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpxdev/acpx/internal/config"
	"github.com/acpxdev/acpx/internal/store"
)

func testFacade(t *testing.T) *Facade {
	t.Helper()
	dir := t.TempDir()
	st := store.New(dir + "/sessions")
	cfg := &config.Runtime{
		RootDir:                dir,
		DefaultIdleTTL:         5 * time.Second,
		DefaultPermissionMode:  "approve-reads",
		DefaultMaxSegmentBytes: 1024 * 1024,
		DefaultMaxSegments:     3,
	}
	return New(st, cfg, nil)
}

func TestCreateSessionPersistsRecord(t *testing.T) {
	f := testFacade(t)

	rec, err := f.CreateSession("my-agent --flag", "/tmp/work", "")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.AcpxRecordID)
	assert.Equal(t, "my-agent --flag", rec.AgentCommand)

	reread, err := f.Store.ReadSessionRecord(rec.AcpxRecordID)
	require.NoError(t, err)
	assert.Equal(t, rec.AcpxRecordID, reread.AcpxRecordID)
}

func TestEnsureSessionReusesExistingRecord(t *testing.T) {
	f := testFacade(t)

	first, err := f.EnsureSession("my-agent", "/tmp/work", "", "")
	require.NoError(t, err)

	second, err := f.EnsureSession("my-agent", "/tmp/work", "", "")
	require.NoError(t, err)

	assert.Equal(t, first.AcpxRecordID, second.AcpxRecordID, "same (agentCommand, cwd, name) tuple must dedupe")
}

func TestEnsureSessionDistinguishesByName(t *testing.T) {
	f := testFacade(t)

	a, err := f.EnsureSession("my-agent", "/tmp/work", "alpha", "")
	require.NoError(t, err)
	b, err := f.EnsureSession("my-agent", "/tmp/work", "beta", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.AcpxRecordID, b.AcpxRecordID)
}

func TestCloseSessionMarksRecordClosedWithNoLiveOwner(t *testing.T) {
	f := testFacade(t)
	rec, err := f.CreateSession("my-agent", "/tmp/work", "")
	require.NoError(t, err)

	err = f.CloseSession(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, rec.Closed)
	assert.NotNil(t, rec.ClosedAt)

	reread, err := f.Store.ReadSessionRecord(rec.AcpxRecordID)
	require.NoError(t, err)
	assert.True(t, reread.Closed)
}

func TestTokenizeCommandSplitsOnWhitespace(t *testing.T) {
	argv0, args := tokenizeCommand("  my-agent  --flag  value ")
	assert.Equal(t, "my-agent", argv0)
	assert.Equal(t, []string{"--flag", "value"}, args)
}

func TestTokenizeCommandEmpty(t *testing.T) {
	argv0, args := tokenizeCommand("   ")
	assert.Equal(t, "", argv0)
	assert.Nil(t, args)
}
