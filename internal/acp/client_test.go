package acp

import (
	"context"
	"testing"

	acpsdk "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionUpdateForwardsToOnUpdate(t *testing.T) {
	c := NewClient(nil, "", ModeApproveAll, PolicyDeny, false, nil)
	var received []acpsdk.SessionNotification
	c.OnUpdate = func(n acpsdk.SessionNotification) { received = append(received, n) }

	require.NoError(t, c.SessionUpdate(context.Background(), acpsdk.SessionNotification{SessionId: "s1"}))
	require.Len(t, received, 1)
	assert.Equal(t, acpsdk.SessionId("s1"), received[0].SessionId)
}

// TestSetSuppressUpdatesDropsNotificationsWhileActive covers invariant 6
// and scenario S6: notifications replayed during session/load must never
// reach OnUpdate, and normal delivery resumes once suppression lifts.
func TestSetSuppressUpdatesDropsNotificationsWhileActive(t *testing.T) {
	c := NewClient(nil, "", ModeApproveAll, PolicyDeny, false, nil)
	received := 0
	c.OnUpdate = func(acpsdk.SessionNotification) { received++ }

	c.SetSuppressUpdates(true)
	require.NoError(t, c.SessionUpdate(context.Background(), acpsdk.SessionNotification{SessionId: "replay"}))
	assert.Equal(t, 0, received, "a replayed update during session/load must not reach OnUpdate")

	c.SetSuppressUpdates(false)
	require.NoError(t, c.SessionUpdate(context.Background(), acpsdk.SessionNotification{SessionId: "fresh"}))
	assert.Equal(t, 1, received, "an update after load completes must reach OnUpdate")
}

func TestSessionUpdateWithNilOnUpdateIsANoop(t *testing.T) {
	c := NewClient(nil, "", ModeApproveAll, PolicyDeny, false, nil)
	assert.NotPanics(t, func() {
		require.NoError(t, c.SessionUpdate(context.Background(), acpsdk.SessionNotification{SessionId: "s1"}))
	})
}
