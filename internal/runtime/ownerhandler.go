package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/acpxdev/acpx/internal/acp"
	"github.com/acpxdev/acpx/internal/config"
	"github.com/acpxdev/acpx/internal/errs"
	"github.com/acpxdev/acpx/internal/eventlog"
	"github.com/acpxdev/acpx/internal/model"
	"github.com/acpxdev/acpx/internal/queue"
	"github.com/acpxdev/acpx/internal/store"
	"github.com/acpxdev/acpx/internal/turn"
)

// ownerHandler adapts one live AgentSession/Client/Controller/Writer set
// to queue.TaskHandler, giving the Queue Owner something to drive without
// the queue package needing to know about ACP at all (spec.md §4.6's
// ownership note: the owner holds the Turn Controller/ACP Client/Event
// Writer for the lifetime of one process).
type ownerHandler struct {
	rec    *model.SessionRecord
	store  *store.Store
	cfg    *config.Runtime
	logger *zap.Logger

	session *acp.AgentSession
	client  *acp.Client
	turnCtl *turn.Controller
	writer  *eventlog.Writer

	mu         sync.Mutex
	activeEmit func(queue.Reply)
}

// sessionActiveController lets the Turn Controller drive cancellation of
// the currently running prompt without owning the AgentSession itself
// (spec.md §9 "back-references" design note).
type sessionActiveController struct {
	session *acp.AgentSession
}

func (s *sessionActiveController) RequestCancel() {
	_ = s.session.RequestCancelActivePrompt(context.Background())
}

// newOwnerHandler launches the agent subprocess for rec, performs the ACP
// handshake, and load-or-starts its session.
func newOwnerHandler(ctx context.Context, rec *model.SessionRecord, st *store.Store, cfg *config.Runtime, logger *zap.Logger) (*ownerHandler, error) {
	argv0, args := tokenizeCommand(rec.AgentCommand)
	if argv0 == "" {
		return nil, errs.New(errs.CodeUsage, errs.OriginRuntime, "empty agent command")
	}

	backend := acp.NewHostBackend(rec.Cwd)
	mode := acp.PermissionMode(cfg.DefaultPermissionMode)
	policy := acp.NonInteractivePermissionPolicy(cfg.DefaultNonInteractivePermissionPolicy)
	client := acp.NewClient(backend, rec.Cwd, mode, policy, false, logger)

	session, err := acp.NewAgentSession(argv0, args, nil, client, nil)
	if err != nil {
		return nil, fmt.Errorf("launch agent: %w", err)
	}

	if err := session.Initialize(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}

	if _, err := session.LoadOrStartSession(ctx, rec.AcpSessionID, rec.Cwd); err != nil {
		_ = session.Close()
		return nil, err
	}
	rec.AcpSessionID = string(session.SessionID)

	writer := eventlog.Open(st.SegmentDir(rec.AcpxRecordID), cfg.DefaultMaxSegmentBytes, cfg.DefaultMaxSegments, rec.LastSeq, rec.LastRequestID)

	h := &ownerHandler{
		rec:     rec,
		store:   st,
		cfg:     cfg,
		logger:  logger,
		session: session,
		client:  client,
		turnCtl: turn.New(),
		writer:  writer,
	}
	client.OnUpdate = h.onUpdate
	return h, nil
}

// onUpdate fans out an inbound session/update to the event log and, if a
// prompt task is actively streaming, to its emit callback. These
// notifications are the only messages written to the event log; the
// requests and responses exchanged with the agent are not recorded there.
func (h *ownerHandler) onUpdate(n acpsdk.SessionNotification) {
	envelope := buildNotificationEnvelope(n)
	h.writer.AppendMessage(envelope, eventlog.AppendOptions{})

	h.mu.Lock()
	emit := h.activeEmit
	h.mu.Unlock()
	if emit != nil {
		emit(queue.Reply{Type: queue.ReplySessionUpdate, Message: envelope})
	}
}

func buildNotificationEnvelope(n acpsdk.SessionNotification) json.RawMessage {
	data, err := json.Marshal(struct {
		JSONRPC string                      `json:"jsonrpc"`
		Method  string                      `json:"method"`
		Params  acpsdk.SessionNotification  `json:"params"`
	}{"2.0", "session/update", n})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// SubmitPrompt implements queue.TaskHandler.
func (h *ownerHandler) SubmitPrompt(ctx context.Context, req queue.Request, emit func(queue.Reply)) {
	h.mu.Lock()
	h.activeEmit = emit
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.activeEmit = nil
		h.mu.Unlock()
	}()

	if err := h.turnCtl.BeginTurn(); err != nil {
		emit(queue.Reply{Type: queue.ReplyError, Code: errs.CodeRuntime, Origin: errs.OriginQueue, Msg: err.Error()})
		return
	}

	promptCtx := ctx
	cancelCtx := func() {}
	if req.TimeoutMs > 0 {
		promptCtx, cancelCtx = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
	}
	defer cancelCtx()

	h.turnCtl.MarkPromptActive(&sessionActiveController{session: h.session})

	blocks := []acpsdk.ContentBlock{{Text: &acpsdk.TextContent{Text: req.Message}}}
	now := time.Now()
	h.rec.Messages = append(h.rec.Messages, model.ConversationMessage{
		Role:      model.RoleUser,
		Content:   []model.ContentBlock{{Kind: model.ContentBlockText, Text: req.Message}},
		Timestamp: now,
	})

	stopReason, err := h.session.Prompt(promptCtx, blocks)
	h.turnCtl.EndTurn()

	h.rec.LastSeq = h.writer.LastSeq()
	h.rec.LastRequestID = h.writer.LastRequestID()
	h.rec.EventLog = h.writer.Manifest()
	h.rec.LastPromptAt = time.Now()
	h.rec.Touch(time.Now())
	_ = h.store.WriteSessionRecord(h.rec)

	if err != nil {
		emit(queue.Reply{Type: queue.ReplyError, Code: errs.CodeRuntime, Origin: errs.OriginAgent, Msg: err.Error()})
		return
	}

	emit(queue.Reply{Type: queue.ReplyDone, StopReason: stopReason})
	emit(queue.Reply{Type: queue.ReplyResult})
}

// CancelPrompt implements queue.TaskHandler.
func (h *ownerHandler) CancelPrompt(ctx context.Context) bool {
	return h.turnCtl.RequestCancel()
}

// SetMode implements queue.TaskHandler.
func (h *ownerHandler) SetMode(ctx context.Context, modeID string, timeout time.Duration) error {
	if h.turnCtl.IsClosing() {
		return turn.ClosingError()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h.session.SetSessionMode(ctx, modeID)
}

// SetConfigOption implements queue.TaskHandler.
func (h *ownerHandler) SetConfigOption(ctx context.Context, configID, value string, timeout time.Duration) ([]acpsdk.SessionConfigOption, error) {
	if h.turnCtl.IsClosing() {
		return nil, turn.ClosingError()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h.session.SetSessionConfigOption(ctx, configID, value)
}

// Shutdown implements queue.TaskHandler: beginClosing rejects any further
// control ops racing in, then the agent subprocess and event log close.
func (h *ownerHandler) Shutdown(ctx context.Context) {
	h.turnCtl.BeginClosing()
	_ = h.session.Close()
	h.turnCtl.ClearActiveController()
	_ = h.writer.Close(true)
	h.rec.EventLog = h.writer.Manifest()
	_ = h.store.WriteSessionRecord(h.rec)
}

// tokenizeCommand splits a verbatim shell command into its executable and
// arguments on whitespace (spec.md §4.2: "first whitespace-separated word
// is the executable, rest are args"). This intentionally does not handle
// quoting; agent commands that need it should be wrapped in a shell
// script instead.
func tokenizeCommand(cmd string) (string, []string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
