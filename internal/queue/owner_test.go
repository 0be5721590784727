package queue

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	cancelCalls int
	shutdown    bool
}

func (f *fakeHandler) SubmitPrompt(ctx context.Context, req Request, emit func(Reply)) {
	emit(Reply{Type: ReplyDone, StopReason: acpsdk.StopReason("end_turn")})
	emit(Reply{Type: ReplyResult})
}

func (f *fakeHandler) CancelPrompt(ctx context.Context) bool {
	f.cancelCalls++
	return true
}

func (f *fakeHandler) SetMode(ctx context.Context, modeID string, timeout time.Duration) error {
	return nil
}

func (f *fakeHandler) SetConfigOption(ctx context.Context, configID, value string, timeout time.Duration) ([]acpsdk.SessionConfigOption, error) {
	return nil, nil
}

func (f *fakeHandler) Shutdown(ctx context.Context) { f.shutdown = true }

func startTestOwner(t *testing.T, handler TaskHandler, ttl time.Duration) (Paths, func()) {
	t.Helper()
	dir := t.TempDir()
	lease, ln, err := Acquire(dir, "rec-1", "sess-1")
	require.NoError(t, err)

	owner := NewOwner(lease, ln, handler, ttl, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go owner.Run(ctx)

	return lease.Paths, func() {
		cancel()
		owner.Close(context.Background())
	}
}

func TestSubmitPromptReceivesExactlyOneTerminalReply(t *testing.T) {
	handler := &fakeHandler{}
	paths, stop := startTestOwner(t, handler, 5*time.Second)
	defer stop()

	conn, err := net.Dial("unix", paths.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	req := Request{Type: ReqSubmitPrompt, RequestID: "r1", Message: "hi", WaitForCompletion: true}
	data, _ := json.Marshal(req)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	var terminal int
	for scanner.Scan() {
		var r Reply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		if r.Type == ReplyResult || r.Type == ReplyError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one of result/error, never both (invariant 3)")
}

func TestCancelPromptIsDispatchedInline(t *testing.T) {
	handler := &fakeHandler{}
	paths, stop := startTestOwner(t, handler, 5*time.Second)
	defer stop()

	conn, err := net.Dial("unix", paths.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	req := Request{Type: ReqCancelPrompt, RequestID: "c1"}
	data, _ := json.Marshal(req)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	var sawCancelResult bool
	for scanner.Scan() {
		var r Reply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		if r.Type == ReplyCancelResult {
			sawCancelResult = true
			assert.True(t, r.Cancelled)
		}
	}
	assert.True(t, sawCancelResult)
	assert.Equal(t, 1, handler.cancelCalls)
}

func TestMalformedPayloadYieldsInvalidJSONError(t *testing.T) {
	handler := &fakeHandler{}
	paths, stop := startTestOwner(t, handler, 5*time.Second)
	defer stop()

	conn, err := net.Dial("unix", paths.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var r Reply
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
	assert.Equal(t, ReplyError, r.Type)
	assert.Equal(t, "QUEUE_REQUEST_PAYLOAD_INVALID_JSON", r.DetailCode)
}

func TestOwnerShutsDownAfterIdleTTL(t *testing.T) {
	handler := &fakeHandler{}
	dir := t.TempDir()
	lease, ln, err := Acquire(dir, "rec-1", "sess-1")
	require.NoError(t, err)

	owner := NewOwner(lease, ln, handler, 50*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		owner.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		assert.True(t, handler.shutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("owner did not shut down after idle TTL elapsed")
	}
}
