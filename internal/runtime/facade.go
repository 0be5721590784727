// Package runtime implements the Session Runtime Facade (spec.md §4.8):
// the single entry point the CLI commands and the hidden "run owner"
// subcommand both call through, gluing the persistence store, the ACP
// client/session, the turn controller, the event log, and the queue
// owner/client halves into the operations spec.md names.
package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/acpxdev/acpx/internal/acp"
	"github.com/acpxdev/acpx/internal/config"
	"github.com/acpxdev/acpx/internal/errs"
	"github.com/acpxdev/acpx/internal/model"
	"github.com/acpxdev/acpx/internal/outsink"
	"github.com/acpxdev/acpx/internal/queue"
	"github.com/acpxdev/acpx/internal/store"
)

// Facade is the Session Runtime Facade.
type Facade struct {
	Store  *store.Store
	Config *config.Runtime
	Logger *zap.Logger
}

// New builds a Facade over the given store and config.
func New(st *store.Store, cfg *config.Runtime, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{Store: st, Config: cfg, Logger: logger}
}

// RunOwner is the hidden "run owner" entrypoint invoked by the `__run-owner`
// subcommand: it becomes the queue owner for recordID (if no other owner is
// already live) and blocks until the owner shuts down, either from idle TTL
// or an explicit closeSession. Invoked by a detached subprocess that
// SendSession spawns, never interactively (spec.md §4.6). This is distinct
// from RunOnce, which is the user-facing runOnce operation named in spec.md
// §4.8.
func (f *Facade) RunOwner(ctx context.Context, recordID string) error {
	rec, err := f.Store.ReadSessionRecord(recordID)
	if err != nil {
		return fmt.Errorf("read session record %s: %w", recordID, err)
	}

	lease, ln, err := queue.Acquire(f.Config.QueuesDir(), rec.AcpxRecordID, rec.AcpSessionID)
	if err != nil {
		// Another process won the race and is already the owner: not an
		// error, just nothing left for this invocation to do.
		f.Logger.Info("queue lease already held, exiting", zap.String("recordId", recordID))
		return nil
	}

	handler, err := newOwnerHandler(ctx, rec, f.Store, f.Config, f.Logger)
	if err != nil {
		lease.Release()
		return fmt.Errorf("start agent session: %w", err)
	}

	ttl := queue.NormalizeTTL(float64(f.Config.DefaultIdleTTL/time.Millisecond), true)
	owner := queue.NewOwner(lease, ln, handler, ttl, f.Logger)
	owner.Run(ctx)
	return nil
}

// RunOnceOptions carries the arguments a one-shot run needs, since there is
// no persisted session record to read them from.
type RunOnceOptions struct {
	AgentCommand string
	Cwd          string
	Message      string
}

// RunOnce implements spec.md §4.8's runOnce(options): start a new ACP
// client, create a one-shot session, prompt, and return the result. No
// queue owner is started and nothing is persisted to the store — the
// agent subprocess lives only for the duration of this call.
func (f *Facade) RunOnce(ctx context.Context, opts RunOnceOptions, sink outsink.OutputSink) (acpsdk.StopReason, error) {
	argv0, args := tokenizeCommand(opts.AgentCommand)
	if argv0 == "" {
		return "", errs.New(errs.CodeUsage, errs.OriginRuntime, "empty agent command")
	}

	backend := acp.NewHostBackend(opts.Cwd)
	mode := acp.PermissionMode(f.Config.DefaultPermissionMode)
	policy := acp.NonInteractivePermissionPolicy(f.Config.DefaultNonInteractivePermissionPolicy)
	client := acp.NewClient(backend, opts.Cwd, mode, policy, false, f.Logger)
	client.OnUpdate = func(n acpsdk.SessionNotification) {
		sink.OnSessionUpdate(buildNotificationEnvelope(n))
	}

	session, err := acp.NewAgentSession(argv0, args, nil, client, nil)
	if err != nil {
		return "", fmt.Errorf("launch agent: %w", err)
	}
	defer session.Close()

	if err := session.Initialize(ctx); err != nil {
		return "", err
	}
	if err := session.StartSession(ctx, opts.Cwd); err != nil {
		return "", err
	}

	sink.SetContext(string(session.SessionID), "")

	blocks := []acpsdk.ContentBlock{{Text: &acpsdk.TextContent{Text: opts.Message}}}
	stopReason, err := session.Prompt(ctx, blocks)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	return stopReason, nil
}

// spawnOwner launches a detached "run owner" subprocess for rec. Grounded
// on the queue package's need for a caller-supplied spawn func (spec.md
// §4.7 sendSession): the runtime facade is what knows the executable path
// and hidden subcommand name, the queue package stays agnostic of both.
func (f *Facade) spawnOwner(rec *model.SessionRecord) func() error {
	return func() error {
		self, err := exec.LookPath("acpx")
		if err != nil {
			self = "acpx"
		}
		cmd := exec.Command(self, "__run-owner", rec.AcpxRecordID)
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
		return cmd.Start()
	}
}

// CreateSession persists a brand-new session record without starting an
// agent process; the first sendSession call brings it to life.
func (f *Facade) CreateSession(agentCommand, cwd, name string) (*model.SessionRecord, error) {
	now := time.Now()
	rec := &model.SessionRecord{
		Schema:       model.SchemaVersion,
		AcpxRecordID: store.NewRecordID(),
		AgentCommand: agentCommand,
		Cwd:          store.NormalizeCwd(cwd),
		Name:         name,
		CreatedAt:    now,
		LastUsedAt:   now,
		UpdatedAt:    now,
	}
	if err := f.Store.WriteSessionRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// EnsureSession implements spec.md §4.8 ensureSession: find an existing,
// non-closed record matching (agentCommand, cwd, name), optionally walking
// up to boundary, or create one if none exists.
func (f *Facade) EnsureSession(agentCommand, cwd, name, boundary string) (*model.SessionRecord, error) {
	var rec *model.SessionRecord
	var err error
	if boundary != "" {
		rec, err = store.FindSessionByDirectoryWalk(f.Store, agentCommand, cwd, name, boundary, false)
	} else {
		rec, err = f.Store.FindSession(model.Key{AgentCommand: agentCommand, Cwd: store.NormalizeCwd(cwd), Name: name}, false)
	}
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	return f.CreateSession(agentCommand, cwd, name)
}

// SendSession implements spec.md §4.7/§4.8 sendSession: submit a prompt to
// rec's queue owner, spawning one if none is currently reachable.
func (f *Facade) SendSession(ctx context.Context, rec *model.SessionRecord, message string, ttlMs float64, hasTTL bool, waitForCompletion bool, sink queue.Sink) (*queue.SubmitResult, error) {
	paths := queue.PathsFor(f.Config.QueuesDir(), rec.AcpxRecordID)
	ttl := queue.NormalizeTTL(ttlMs, hasTTL)

	req := queue.Request{
		Type:              queue.ReqSubmitPrompt,
		RequestID:         store.NewRecordID(),
		Message:           message,
		TimeoutMs:         int64(ttl / time.Millisecond),
		WaitForCompletion: waitForCompletion,
	}

	return queue.SendSession(ctx, paths, req, sink, f.spawnOwner(rec), 10)
}

// CancelSessionPrompt implements spec.md §4.8 cancelSessionPrompt.
func (f *Facade) CancelSessionPrompt(ctx context.Context, rec *model.SessionRecord) (bool, error) {
	paths := queue.PathsFor(f.Config.QueuesDir(), rec.AcpxRecordID)
	req := queue.Request{Type: queue.ReqCancelPrompt, RequestID: store.NewRecordID()}

	reply, err := queue.SendControl(ctx, paths, req)
	if err == queue.ErrNoOwner {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return reply.Cancelled, nil
}

// SetSessionMode implements spec.md §4.8 setSessionMode.
func (f *Facade) SetSessionMode(ctx context.Context, rec *model.SessionRecord, modeID string, timeout time.Duration) error {
	paths := queue.PathsFor(f.Config.QueuesDir(), rec.AcpxRecordID)
	req := queue.Request{Type: queue.ReqSetMode, RequestID: store.NewRecordID(), ModeID: modeID, TimeoutMs: int64(timeout / time.Millisecond)}
	_, err := queue.SendControl(ctx, paths, req)
	if err == queue.ErrNoOwner {
		return errs.New(errs.CodeNoSession, errs.OriginRuntime, "no running session to set mode on")
	}
	return err
}

// SetSessionConfigOption implements spec.md §4.8 setSessionConfigOption.
func (f *Facade) SetSessionConfigOption(ctx context.Context, rec *model.SessionRecord, configID, value string, timeout time.Duration) error {
	paths := queue.PathsFor(f.Config.QueuesDir(), rec.AcpxRecordID)
	req := queue.Request{Type: queue.ReqSetConfigOption, RequestID: store.NewRecordID(), ConfigID: configID, Value: value, TimeoutMs: int64(timeout / time.Millisecond)}
	_, err := queue.SendControl(ctx, paths, req)
	if err == queue.ErrNoOwner {
		return errs.New(errs.CodeNoSession, errs.OriginRuntime, "no running session to set config on")
	}
	return err
}

// CloseSession implements spec.md §4.8 closeSession: terminate a live
// queue owner (if any), then mark the record closed.
func (f *Facade) CloseSession(ctx context.Context, rec *model.SessionRecord) error {
	paths := queue.PathsFor(f.Config.QueuesDir(), rec.AcpxRecordID)
	if err := queue.TerminateOwner(paths, 5*time.Second); err != nil {
		f.Logger.Warn("terminate queue owner", zap.Error(err))
	}

	now := time.Now()
	rec.Closed = true
	rec.ClosedAt = &now
	rec.Touch(now)
	return f.Store.WriteSessionRecord(rec)
}
