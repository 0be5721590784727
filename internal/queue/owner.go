package queue

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/acpxdev/acpx/internal/errs"
)

// TaskHandler is the narrow surface the Queue Owner drives. The runtime
// facade implements it, wiring submit_prompt to the ACP Client/Turn
// Controller/Event Writer trio without the queue package needing to know
// about any of them (spec.md §4.6's "ownership" note: the owner drives,
// it does not own, those components directly).
type TaskHandler interface {
	// SubmitPrompt runs one prompt to completion, calling emit for every
	// session_update/client_operation/done/result/error reply as it
	// becomes available. SubmitPrompt itself returns only once the
	// prompt has fully settled (result emitted or error emitted).
	SubmitPrompt(ctx context.Context, req Request, emit func(Reply))
	// CancelPrompt requests cancellation of the currently active or
	// starting prompt (if any) via the Turn Controller.
	CancelPrompt(ctx context.Context) (accepted bool)
	SetMode(ctx context.Context, modeID string, timeout time.Duration) error
	SetConfigOption(ctx context.Context, configID, value string, timeout time.Duration) ([]acpsdk.SessionConfigOption, error)
	// Shutdown tears down the ACP client/agent subprocess. Called once,
	// after the owner has stopped accepting new tasks.
	Shutdown(ctx context.Context)
}

type task struct {
	req  Request
	conn net.Conn
}

// Owner is the Session Queue Owner: it holds a lease, listens on its
// socket, serializes prompt tasks against a single TaskHandler, and
// dispatches control requests inline (spec.md §4.6).
type Owner struct {
	lease    *Lease
	listener net.Listener
	handler  TaskHandler
	logger   *zap.Logger

	ttl time.Duration

	tasks  chan task
	closed chan struct{}
	once   sync.Once

	obsMu     sync.Mutex
	observers map[net.Conn]struct{}
}

// NewOwner constructs an Owner bound to an already-acquired lease and
// listener (see Acquire), ready to Run.
func NewOwner(lease *Lease, ln net.Listener, handler TaskHandler, ttl time.Duration, logger *zap.Logger) *Owner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Owner{
		lease:    lease,
		listener: ln,
		handler:  handler,
		logger:   logger,
		ttl:      ttl,
		tasks:     make(chan task, 64),
		closed:    make(chan struct{}),
		observers: make(map[net.Conn]struct{}),
	}
}

// Run accepts connections until the idle TTL elapses with no submitted
// prompt task, or Close is called. It blocks until shutdown completes.
func (o *Owner) Run(ctx context.Context) {
	go o.acceptLoop()
	o.consumeLoop(ctx)
}

func (o *Owner) acceptLoop() {
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			return // listener closed during shutdown
		}
		go o.handleConn(conn)
	}
}

func (o *Owner) handleConn(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		conn.Close()
		return
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		o.writeReply(conn, errorReply("", errs.New(errs.CodeRuntime, errs.OriginQueue, "malformed request payload").
			WithDetail(errs.DetailQueuePayloadInvalidJSON)))
		conn.Close()
		return
	}

	switch req.Type {
	case ReqSubmitPrompt:
		select {
		case o.tasks <- task{req: req, conn: conn}:
		case <-o.closed:
			o.writeReply(conn, errorReply(req.RequestID, errs.New(errs.CodeRuntime, errs.OriginQueue, "queue owner is shutting down").
				WithDetail(errs.DetailQueueOwnerShuttingDown).WithRetryable(true)))
			conn.Close()
		}
	case ReqCancelPrompt:
		defer conn.Close()
		o.writeReply(conn, Reply{Type: ReplyAccepted, RequestID: req.RequestID})
		accepted := o.handler.CancelPrompt(context.Background())
		o.writeReply(conn, Reply{Type: ReplyCancelResult, RequestID: req.RequestID, Cancelled: accepted})
	case ReqSetMode:
		defer conn.Close()
		o.writeReply(conn, Reply{Type: ReplyAccepted, RequestID: req.RequestID})
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		if err := o.handler.SetMode(context.Background(), req.ModeID, timeout); err != nil {
			o.writeReply(conn, errorReply(req.RequestID, errs.New(errs.CodeRuntime, errs.OriginQueue, err.Error())))
			return
		}
		o.writeReply(conn, Reply{Type: ReplyDone, RequestID: req.RequestID})
	case ReqSetConfigOption:
		defer conn.Close()
		o.writeReply(conn, Reply{Type: ReplyAccepted, RequestID: req.RequestID})
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		opts, err := o.handler.SetConfigOption(context.Background(), req.ConfigID, req.Value, timeout)
		if err != nil {
			o.writeReply(conn, errorReply(req.RequestID, errs.New(errs.CodeRuntime, errs.OriginQueue, err.Error())))
			return
		}
		o.writeReply(conn, Reply{Type: ReplyConfigOptions, RequestID: req.RequestID, ConfigOptions: opts})
	case ReqObserve:
		o.addObserver(conn)
		o.writeReply(conn, Reply{Type: ReplyAccepted, RequestID: req.RequestID})
		// Block reading until the observer disconnects (acpx attach never
		// sends a second line), then deregister. We don't need anything it
		// sends, only the EOF.
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				break
			}
		}
		o.removeObserver(conn)
		conn.Close()
	default:
		o.writeReply(conn, errorReply(req.RequestID, errs.New(errs.CodeRuntime, errs.OriginQueue, "unknown request type").
			WithDetail(errs.DetailQueuePayloadInvalidJSON)))
		conn.Close()
	}
}

// consumeLoop is the single-consumer prompt loop: exactly one
// submit_prompt runs at a time (spec.md §4.6 "one prompt at a time").
func (o *Owner) consumeLoop(ctx context.Context) {
	first := true
	for {
		window := o.ttl
		if first {
			window = FirstWaitWindow(o.ttl)
		}

		var timer *time.Timer
		var timerCh <-chan time.Time
		if window > 0 {
			timer = time.NewTimer(window)
			timerCh = timer.C
		}

		select {
		case t := <-o.tasks:
			if timer != nil {
				timer.Stop()
			}
			first = false
			o.runTask(ctx, t)
		case <-timerCh:
			o.logger.Info("queue owner idle TTL elapsed, shutting down")
			o.shutdown(ctx)
			return
		case <-ctx.Done():
			o.shutdown(ctx)
			return
		case <-o.closed:
			if timer != nil {
				timer.Stop()
			}
			o.shutdown(ctx)
			return
		}
	}
}

func (o *Owner) runTask(ctx context.Context, t task) {
	defer t.conn.Close()
	o.writeReply(t.conn, Reply{Type: ReplyAccepted, RequestID: t.req.RequestID})
	o.handler.SubmitPrompt(ctx, t.req, func(r Reply) {
		r.RequestID = t.req.RequestID
		o.writeReply(t.conn, r)
		o.broadcast(r)
	})
}

// addObserver registers conn as a read-only listener on whatever prompt
// task is active or next submitted (SPEC_FULL.md §4.10). Observers never
// receive the "accepted" reply a submitter gets, only the subsequent
// stream.
func (o *Owner) addObserver(conn net.Conn) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers[conn] = struct{}{}
}

func (o *Owner) removeObserver(conn net.Conn) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	delete(o.observers, conn)
}

func (o *Owner) broadcast(r Reply) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	if len(o.observers) == 0 {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	data = append(data, '\n')
	for conn := range o.observers {
		_, _ = conn.Write(data)
	}
}

func (o *Owner) writeReply(conn net.Conn, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// Close begins graceful shutdown: pending queued tasks are drained with a
// QUEUE_OWNER_SHUTTING_DOWN error, the active prompt is cancelled, the
// handler is torn down, and the lease is released (spec.md §4.6).
func (o *Owner) Close(ctx context.Context) {
	o.once.Do(func() {
		close(o.closed)
		_ = o.listener.Close()
		o.obsMu.Lock()
		for conn := range o.observers {
			conn.Close()
		}
		o.obsMu.Unlock()
	})
}

func (o *Owner) shutdown(ctx context.Context) {
	o.Close(ctx)

	// Drain anything that slipped into the channel before closed fired.
	for {
		select {
		case t := <-o.tasks:
			o.writeReply(t.conn, errorReply(t.req.RequestID, errs.New(errs.CodeRuntime, errs.OriginQueue, "queue owner is shutting down").
				WithDetail(errs.DetailQueueOwnerShuttingDown).WithRetryable(true)))
			t.conn.Close()
		default:
			o.handler.CancelPrompt(ctx)
			o.handler.Shutdown(ctx)
			o.lease.Release()
			return
		}
	}
}

// socketTimeoutError formats a consistent timeout message for control
// request round-trips that exceed their deadline.
func socketTimeoutError(op string, timeout time.Duration) error {
	return fmt.Errorf("%s timed out after %s", op, timeout)
}
