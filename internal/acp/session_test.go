package acp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a test double for agentConn, letting session_test.go drive
// AgentSession without spawning a real agent subprocess.
type fakeConn struct {
	mu sync.Mutex

	initResp acpsdk.InitializeResponse

	newSessionID acpsdk.SessionId
	newSessionCalled bool

	loadErr        error
	loadCalled     bool
	suppressedDuringLoad bool
	suppressObserver     *Client

	promptStopReason acpsdk.StopReason
	promptErr        error
	promptDelay      time.Duration

	cancelCalled    bool
	cancelSessionID acpsdk.SessionId
}

func (f *fakeConn) Initialize(_ context.Context, _ acpsdk.InitializeRequest) (acpsdk.InitializeResponse, error) {
	return f.initResp, nil
}

func (f *fakeConn) NewSession(_ context.Context, _ acpsdk.NewSessionRequest) (acpsdk.NewSessionResponse, error) {
	f.mu.Lock()
	f.newSessionCalled = true
	f.mu.Unlock()
	return acpsdk.NewSessionResponse{SessionId: f.newSessionID}, nil
}

func (f *fakeConn) LoadSession(_ context.Context, _ acpsdk.LoadSessionRequest) (acpsdk.LoadSessionResponse, error) {
	f.mu.Lock()
	f.loadCalled = true
	if f.suppressObserver != nil {
		f.suppressedDuringLoad = f.suppressObserver.suppressUpdates.Load()
	}
	f.mu.Unlock()
	return acpsdk.LoadSessionResponse{}, f.loadErr
}

func (f *fakeConn) Prompt(ctx context.Context, _ acpsdk.PromptRequest) (acpsdk.PromptResponse, error) {
	if f.promptDelay > 0 {
		select {
		case <-time.After(f.promptDelay):
		case <-ctx.Done():
			return acpsdk.PromptResponse{}, ctx.Err()
		}
	}
	return acpsdk.PromptResponse{StopReason: f.promptStopReason}, f.promptErr
}

func (f *fakeConn) Cancel(_ context.Context, params acpsdk.CancelNotification) error {
	f.mu.Lock()
	f.cancelCalled = true
	f.cancelSessionID = params.SessionId
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetSessionMode(_ context.Context, _ acpsdk.SetSessionModeRequest) (acpsdk.SetSessionModeResponse, error) {
	return acpsdk.SetSessionModeResponse{}, nil
}

func (f *fakeConn) SetSessionConfigOption(_ context.Context, _ acpsdk.SetSessionConfigOptionRequest) (acpsdk.SetSessionConfigOptionResponse, error) {
	return acpsdk.SetSessionConfigOptionResponse{}, nil
}

func (f *fakeConn) wasLoadCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalled
}

func newTestSession(conn *fakeConn, loadSupported bool) (*AgentSession, *Client) {
	client := NewClient(nil, "", ModeApproveAll, PolicyDeny, false, nil)
	conn.suppressObserver = client
	return &AgentSession{Conn: conn, Client: client, loadSupported: loadSupported}, client
}

func TestIsSessionNotFoundMatchesRecoverableCodes(t *testing.T) {
	assert.True(t, isSessionNotFound(errors.New("rpc error -32002: unknown session")))
	assert.True(t, isSessionNotFound(errors.New("Session Not Found")))
	assert.False(t, isSessionNotFound(errors.New("internal agent crash")))
	assert.False(t, isSessionNotFound(nil))
}

// TestLoadOrStartSessionResumesExistingSession covers S2: resuming via
// session/load when the agent supports it and an acpSessionId is known.
func TestLoadOrStartSessionResumesExistingSession(t *testing.T) {
	conn := &fakeConn{}
	s, _ := newTestSession(conn, true)

	changed, err := s.LoadOrStartSession(context.Background(), "sess-123", "/work")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, acpsdk.SessionId("sess-123"), s.SessionID)
	assert.True(t, conn.wasLoadCalled())
	assert.False(t, conn.newSessionCalled)
}

// TestLoadOrStartSessionFallsBackOnSessionNotFound covers S3: a
// session/load failure recognized as recoverable falls back to a fresh
// session instead of failing the caller.
func TestLoadOrStartSessionFallsBackOnSessionNotFound(t *testing.T) {
	conn := &fakeConn{loadErr: errors.New("-32002: session not found"), newSessionID: "sess-new"}
	s, _ := newTestSession(conn, true)

	changed, err := s.LoadOrStartSession(context.Background(), "sess-stale", "/work")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, acpsdk.SessionId("sess-new"), s.SessionID)
	assert.True(t, conn.newSessionCalled)
}

func TestLoadOrStartSessionPropagatesHardLoadError(t *testing.T) {
	conn := &fakeConn{loadErr: errors.New("agent process crashed")}
	s, _ := newTestSession(conn, true)

	_, err := s.LoadOrStartSession(context.Background(), "sess-123", "/work")
	require.Error(t, err)
	assert.False(t, conn.newSessionCalled)
}

func TestLoadOrStartSessionStartsFreshWhenLoadUnsupported(t *testing.T) {
	conn := &fakeConn{newSessionID: "sess-fresh"}
	s, _ := newTestSession(conn, false)

	changed, err := s.LoadOrStartSession(context.Background(), "sess-123", "/work")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, conn.wasLoadCalled())
	assert.Equal(t, acpsdk.SessionId("sess-fresh"), s.SessionID)
}

// TestLoadOrStartSessionSuppressesUpdatesDuringLoad covers S6's other
// half: replay suppression must be active for the duration of the
// session/load call and lifted once it returns.
func TestLoadOrStartSessionSuppressesUpdatesDuringLoad(t *testing.T) {
	conn := &fakeConn{}
	s, client := newTestSession(conn, true)

	_, err := s.LoadOrStartSession(context.Background(), "sess-123", "/work")
	require.NoError(t, err)
	assert.True(t, conn.suppressedDuringLoad, "updates must be suppressed while session/load is in flight")
	assert.False(t, client.suppressUpdates.Load(), "suppression must be lifted once load returns")
}

// TestCancelActivePromptSettlesWithinWait covers S4: a cancel issued while
// a prompt is in flight reports settlement once the prompt actually
// returns, within the wait budget.
func TestCancelActivePromptSettlesWithinWait(t *testing.T) {
	conn := &fakeConn{promptDelay: 20 * time.Millisecond, promptStopReason: acpsdk.StopReason("end_turn")}
	s, _ := newTestSession(conn, false)
	s.SessionID = "sess-1"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Prompt(context.Background(), []acpsdk.ContentBlock{{Text: &acpsdk.TextContent{Text: "hi"}}})
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.activePromptDone != nil
	}, time.Second, time.Millisecond)

	cancelled, err := s.CancelActivePrompt(context.Background(), 200)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.True(t, conn.cancelCalled)
	assert.Equal(t, acpsdk.SessionId("sess-1"), conn.cancelSessionID)
	wg.Wait()
}

func TestCancelActivePromptTimesOutWhenPromptDoesNotSettle(t *testing.T) {
	conn := &fakeConn{promptDelay: 500 * time.Millisecond, promptStopReason: acpsdk.StopReason("end_turn")}
	s, _ := newTestSession(conn, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Prompt(context.Background(), []acpsdk.ContentBlock{{Text: &acpsdk.TextContent{Text: "hi"}}})
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.activePromptDone != nil
	}, time.Second, time.Millisecond)

	cancelled, err := s.CancelActivePrompt(context.Background(), 30)
	require.NoError(t, err)
	assert.False(t, cancelled)
	wg.Wait()
}

func TestCancelActivePromptNoopWhenNothingActive(t *testing.T) {
	conn := &fakeConn{}
	s, _ := newTestSession(conn, false)

	cancelled, err := s.CancelActivePrompt(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.False(t, conn.cancelCalled)
}
