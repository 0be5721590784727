package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	updates int
	done    string
}

func (s *fakeSink) OnSessionUpdate(json.RawMessage)  { s.updates++ }
func (s *fakeSink) OnClientOperation(json.RawMessage) {}
func (s *fakeSink) OnDone(stopReason string)          { s.done = stopReason }

func TestTrySubmitToRunningOwnerReturnsNoOwnerWhenLockMissing(t *testing.T) {
	dir := t.TempDir()
	paths := PathsFor(dir, "rec-1")

	_, err := TrySubmitToRunningOwner(context.Background(), paths, Request{Type: ReqSubmitPrompt}, nil)
	assert.ErrorIs(t, err, ErrNoOwner)
}

func TestTrySubmitToRunningOwnerStreamsToSink(t *testing.T) {
	handler := &fakeHandler{}
	paths, stop := startTestOwner(t, handler, 5*time.Second)
	defer stop()

	sink := &fakeSink{}
	req := Request{Type: ReqSubmitPrompt, RequestID: "r1", Message: "hi", WaitForCompletion: true}
	_, err := TrySubmitToRunningOwner(context.Background(), paths, req, sink)
	require.NoError(t, err)
	assert.Equal(t, "end_turn", sink.done)
}

func TestSendSessionSpawnsWhenNoOwnerReachable(t *testing.T) {
	dir := t.TempDir()
	paths := PathsFor(dir, "rec-1")

	var spawned bool
	spawn := func() error {
		spawned = true
		return nil
	}

	_, err := SendSession(context.Background(), paths, Request{Type: ReqSubmitPrompt, WaitForCompletion: true}, nil, spawn, 2)
	assert.True(t, spawned)
	assert.Error(t, err, "no owner ever appears in this test, so it should report unreachable after retries")
}
