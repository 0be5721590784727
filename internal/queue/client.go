package queue

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/acpxdev/acpx/internal/errs"
)

// Sink is the caller-supplied output contract a streamed prompt drains
// into (spec.md §6.4): each queue reply is translated into one of these
// calls.
type Sink interface {
	OnSessionUpdate(json.RawMessage)
	OnClientOperation(json.RawMessage)
	OnDone(stopReason string)
}

// SubmitResult is what trySubmitToRunningOwner/sendSession return when
// waitForCompletion is false: the caller only learns the task was queued.
type SubmitResult struct {
	Queued    bool
	SessionID string
	RequestID string
}

// ErrNoOwner signals that no live owner was found listening on the lease
// socket (not a failure: callers fall back to spawning one).
var ErrNoOwner = fmt.Errorf("no running queue owner")

const acceptedDeadline = 3 * time.Second

// TrySubmitToRunningOwner implements spec.md §4.7: read the lock file; if
// the PID isn't alive, clean it up and report ErrNoOwner. Otherwise
// connect and submit, streaming replies into sink until a result or
// error arrives (or returning immediately after "accepted" if
// req.WaitForCompletion is false).
func TrySubmitToRunningOwner(ctx context.Context, paths Paths, req Request, sink Sink) (*SubmitResult, error) {
	lf, err := ReadLock(paths.LockPath)
	if err != nil {
		return nil, ErrNoOwner
	}
	if !processAlive(lf.PID) {
		os.Remove(paths.LockPath)
		os.Remove(paths.SocketPath)
		return nil, ErrNoOwner
	}

	conn, err := dialWithRetry(ctx, paths.SocketPath, lf.PID)
	if err != nil {
		return nil, ErrNoOwner
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	if !waitFor(scanner, acceptedDeadline) {
		return nil, errs.New(errs.CodeRuntime, errs.OriginQueue, "owner did not acknowledge request").
			WithDetail(errs.DetailQueueDisconnectedBeforeAck).WithRetryable(true)
	}
	var accepted Reply
	if err := json.Unmarshal(scanner.Bytes(), &accepted); err != nil || accepted.Type != ReplyAccepted {
		return nil, errs.New(errs.CodeRuntime, errs.OriginQueue, "owner sent unexpected first reply").
			WithDetail(errs.DetailQueueDisconnectedBeforeAck).WithRetryable(true)
	}

	if !req.WaitForCompletion {
		return &SubmitResult{Queued: true, RequestID: req.RequestID}, nil
	}

	return nil, streamUntilDone(scanner, sink)
}

// streamUntilDone reads replies until result/error, translating each into
// sink's formatter contract (spec.md §4.7).
func streamUntilDone(scanner *bufio.Scanner, sink Sink) error {
	for scanner.Scan() {
		var r Reply
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		switch r.Type {
		case ReplySessionUpdate, ReplyEvent:
			if sink != nil {
				sink.OnSessionUpdate(r.Message)
			}
		case ReplyClientOp:
			if sink != nil {
				sink.OnClientOperation(r.Operation)
			}
		case ReplyDone:
			if sink != nil {
				sink.OnDone(string(r.StopReason))
			}
		case ReplyResult:
			return nil
		case ReplyError:
			e := errs.New(r.Code, r.Origin, r.Msg).WithDetail(r.DetailCode).WithRetryable(r.Retryable)
			if r.ACP != nil {
				e = e.WithACP(r.ACP.Code, r.ACP.Message, r.ACP.Data)
			}
			return e
		}
	}
	return errs.New(errs.CodeRuntime, errs.OriginQueue, "connection closed before a result arrived").
		WithRetryable(true)
}

// SendControl dispatches a non-prompt control request (cancel_prompt,
// set_mode, set_config_option) to a running owner and returns its terminal
// reply (cancel_result, done, or config_options) verbatim, so the caller
// can read out Cancelled/ConfigOptions. Returns ErrNoOwner if no owner is
// reachable; control requests never spawn one and have no
// direct-connection fallback. With no live owner the facade reports a
// cancel as not applied and a mode or config change as a NO_SESSION error.
func SendControl(ctx context.Context, paths Paths, req Request) (*Reply, error) {
	lf, err := ReadLock(paths.LockPath)
	if err != nil {
		return nil, ErrNoOwner
	}
	if !processAlive(lf.PID) {
		return nil, ErrNoOwner
	}

	conn, err := dialWithRetry(ctx, paths.SocketPath, lf.PID)
	if err != nil {
		return nil, ErrNoOwner
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	if !waitFor(scanner, acceptedDeadline) {
		return nil, errs.New(errs.CodeRuntime, errs.OriginQueue, "owner did not acknowledge control request").
			WithDetail(errs.DetailQueueDisconnectedBeforeAck).WithRetryable(true)
	}
	var accepted Reply
	if err := json.Unmarshal(scanner.Bytes(), &accepted); err != nil || accepted.Type != ReplyAccepted {
		return nil, errs.New(errs.CodeRuntime, errs.OriginQueue, "owner sent unexpected first reply").
			WithDetail(errs.DetailQueueDisconnectedBeforeAck).WithRetryable(true)
	}

	if !waitFor(scanner, acceptedDeadline) {
		return nil, errs.New(errs.CodeRuntime, errs.OriginQueue, "owner did not answer control request").
			WithRetryable(true)
	}
	var reply Reply
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
		return nil, fmt.Errorf("parse control reply: %w", err)
	}
	if reply.Type == ReplyError {
		e := errs.New(reply.Code, reply.Origin, reply.Msg).WithDetail(reply.DetailCode).WithRetryable(reply.Retryable)
		if reply.ACP != nil {
			e = e.WithACP(reply.ACP.Code, reply.ACP.Message, reply.ACP.Data)
		}
		return nil, e
	}
	return &reply, nil
}

// Observe implements SPEC_FULL.md §4.10's read-only attach: it connects to
// a running owner, registers as an observer, and calls onReply for every
// reply the owner broadcasts (whatever prompt is active or next
// submitted) until ctx is cancelled or the owner closes the connection.
// It never submits a prompt itself and returns ErrNoOwner if no owner is
// reachable, matching attach's "nothing to watch yet" behavior.
func Observe(ctx context.Context, paths Paths, onReply func(Reply)) error {
	lf, err := ReadLock(paths.LockPath)
	if err != nil {
		return ErrNoOwner
	}
	if !processAlive(lf.PID) {
		return ErrNoOwner
	}

	conn, err := dialWithRetry(ctx, paths.SocketPath, lf.PID)
	if err != nil {
		return ErrNoOwner
	}
	defer conn.Close()

	req := Request{Type: ReqObserve, RequestID: "observe"}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	if !waitFor(scanner, acceptedDeadline) {
		return errs.New(errs.CodeRuntime, errs.OriginQueue, "owner did not acknowledge observe request").
			WithDetail(errs.DetailQueueDisconnectedBeforeAck).WithRetryable(true)
	}
	var accepted Reply
	if err := json.Unmarshal(scanner.Bytes(), &accepted); err != nil || accepted.Type != ReplyAccepted {
		return errs.New(errs.CodeRuntime, errs.OriginQueue, "owner sent unexpected first reply").
			WithDetail(errs.DetailQueueDisconnectedBeforeAck).WithRetryable(true)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for scanner.Scan() {
		var r Reply
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		onReply(r)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// SendSession implements spec.md §4.7's sendSession: try a running owner
// first; if none is reachable, spawn one via spawn and retry submitting
// up to maxAttempts times with a short backoff.
func SendSession(ctx context.Context, paths Paths, req Request, sink Sink, spawn func() error, maxAttempts int) (*SubmitResult, error) {
	res, err := TrySubmitToRunningOwner(ctx, paths, req, sink)
	if err == nil {
		return res, nil
	}
	if err != ErrNoOwner {
		return nil, err
	}

	if spawnErr := spawn(); spawnErr != nil {
		return nil, fmt.Errorf("spawn queue owner: %w", spawnErr)
	}

	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		time.Sleep(backoff)
		res, err := TrySubmitToRunningOwner(ctx, paths, req, sink)
		if err == nil {
			return res, nil
		}
		if err != ErrNoOwner {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("no owner became reachable after spawning")
}

// dialWithRetry connects to sockPath, retrying briefly on ENOENT/
// ECONNREFUSED while the owning PID is still alive (the owner may still
// be mid-bind).
func dialWithRetry(ctx context.Context, sockPath string, ownerPID int) (net.Conn, error) {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", sockPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !processAlive(ownerPID) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, lastErr
}

func waitFor(scanner *bufio.Scanner, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() { done <- scanner.Scan() }()
	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	}
}
