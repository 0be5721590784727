package acp

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostBackendWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	b := NewHostBackend(dir)
	ctx := context.Background()

	require.NoError(t, b.WriteFile(ctx, "notes/todo.txt", []byte("buy milk")))
	data, err := b.ReadFile(ctx, "notes/todo.txt")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", string(data))
}

func TestHostBackendRejectsEscapeOutsideCwd(t *testing.T) {
	dir := t.TempDir()
	b := NewHostBackend(dir)
	ctx := context.Background()

	_, err := b.ReadFile(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestHostBackendStartProcessStreamsOutput(t *testing.T) {
	dir := t.TempDir()
	b := NewHostBackend(dir)
	ctx := context.Background()

	var buf bytes.Buffer
	proc, err := b.StartProcess(ctx, ProcessSpec{Command: "echo", Args: []string{"hi"}, Cwd: dir}, &buf)
	require.NoError(t, err)

	exit, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, exit)
	assert.Contains(t, buf.String(), "hi")
}

func TestHostBackendWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	b := NewHostBackend(dir)
	ctx := context.Background()

	require.NoError(t, b.WriteFile(ctx, "a.txt", []byte("v1")))
	require.NoError(t, b.WriteFile(ctx, "a.txt", []byte("v2")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files after rename")
	assert.Equal(t, filepath.Join(dir, "a.txt"), filepath.Join(dir, entries[0].Name()))
}
