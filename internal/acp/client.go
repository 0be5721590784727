// Package acp implements the acpx side of the Agent Client Protocol: the
// client half of the JSON-RPC 2.0 peer described in spec.md §4.3, built
// directly on github.com/coder/acp-go-sdk.
package acp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"
)

// SessionUpdateFunc receives every session/update notification the agent
// sends, once replay suppression (invariant 6) has let it through.
type SessionUpdateFunc func(acpsdk.SessionNotification)

// Client implements acpsdk.Client, handling the agent's inbound requests
// and notifications: permission prompts, fs/* and terminal/* calls, and
// session/update fan-out.
type Client struct {
	Backend               ExecBackend
	Cwd                   string
	Mode                  PermissionMode
	NonInteractivePolicy  NonInteractivePermissionPolicy
	IsInteractive         bool
	Terminals             *TerminalManager
	Logger                *zap.Logger

	// OnUpdate is invoked for each session/update the agent emits, unless
	// suppression is active. Set by the session/runtime layer that owns
	// the event log and output sink.
	OnUpdate SessionUpdateFunc

	suppressUpdates atomic.Bool

	stats   PermissionStats
	statsMu sync.Mutex
}

var _ acpsdk.Client = (*Client)(nil)

// NewClient builds a Client bound to backend for fs/terminal calls
// rooted at cwd.
func NewClient(backend ExecBackend, cwd string, mode PermissionMode, policy NonInteractivePermissionPolicy, interactive bool, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Backend:              backend,
		Cwd:                  cwd,
		Mode:                 mode,
		NonInteractivePolicy: policy,
		IsInteractive:        interactive,
		Terminals:            NewTerminalManager(backend),
		Logger:               logger,
	}
}

// SetSuppressUpdates toggles replay suppression during session/load
// (spec.md §4.3 point 2): while true, inbound session/update notifications
// are dropped before reaching OnUpdate or the event log.
func (c *Client) SetSuppressUpdates(suppress bool) {
	c.suppressUpdates.Store(suppress)
}

// Stats returns a snapshot of the client's permission-decision counters.
func (c *Client) Stats() PermissionStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// --- acpsdk.Client interface ---

func (c *Client) SessionUpdate(_ context.Context, params acpsdk.SessionNotification) error {
	if c.suppressUpdates.Load() {
		return nil
	}
	if c.OnUpdate != nil {
		c.OnUpdate(params)
	}
	return nil
}

func (c *Client) RequestPermission(_ context.Context, params acpsdk.RequestPermissionRequest) (acpsdk.RequestPermissionResponse, error) {
	return c.resolvePermission(params)
}

// --- File system callbacks (spec.md §4.3.2) ---

func (c *Client) ReadTextFile(ctx context.Context, params acpsdk.ReadTextFileRequest) (acpsdk.ReadTextFileResponse, error) {
	data, err := c.Backend.ReadFile(ctx, params.Path)
	if err != nil {
		return acpsdk.ReadTextFileResponse{}, fmt.Errorf("read %s: %w", params.Path, err)
	}
	content := string(data)

	if params.Line != nil || params.Limit != nil {
		content = sliceLines(content, params.Line, params.Limit)
	}

	return acpsdk.ReadTextFileResponse{Content: content}, nil
}

func (c *Client) WriteTextFile(ctx context.Context, params acpsdk.WriteTextFileRequest) (acpsdk.WriteTextFileResponse, error) {
	if err := c.Backend.WriteFile(ctx, params.Path, []byte(params.Content)); err != nil {
		return acpsdk.WriteTextFileResponse{}, fmt.Errorf("write %s: %w", params.Path, err)
	}
	return acpsdk.WriteTextFileResponse{}, nil
}

func sliceLines(content string, line, limit *int) string {
	lines := splitLines(content)
	start := 0
	if line != nil && *line > 0 {
		start = *line - 1
		if start > len(lines) {
			start = len(lines)
		}
	}
	end := len(lines)
	if limit != nil && *limit > 0 && start+*limit < end {
		end = start + *limit
	}
	return joinLines(lines[start:end])
}

// --- Terminal callbacks (spec.md §4.3.2) ---

func (c *Client) CreateTerminal(ctx context.Context, params acpsdk.CreateTerminalRequest) (acpsdk.CreateTerminalResponse, error) {
	size := DefaultRingBufferSize
	if params.OutputByteLimit != nil && *params.OutputByteLimit > 0 {
		size = int(*params.OutputByteLimit)
	}

	cwd := c.Cwd
	if params.Cwd != nil && *params.Cwd != "" {
		cwd = *params.Cwd
	}

	env := make([]string, 0, len(params.Env))
	for _, e := range params.Env {
		env = append(env, e.Name+"="+e.Value)
	}

	id, err := c.Terminals.Create(ctx, ProcessSpec{
		Command: params.Command,
		Args:    params.Args,
		Env:     env,
		Cwd:     cwd,
	}, size)
	if err != nil {
		return acpsdk.CreateTerminalResponse{}, err
	}
	return acpsdk.CreateTerminalResponse{TerminalId: acpsdk.TerminalId(id)}, nil
}

func (c *Client) TerminalOutput(_ context.Context, params acpsdk.TerminalOutputRequest) (acpsdk.TerminalOutputResponse, error) {
	output, truncated, _, _, err := c.Terminals.Output(string(params.TerminalId))
	if err != nil {
		return acpsdk.TerminalOutputResponse{}, err
	}
	return acpsdk.TerminalOutputResponse{Output: output, Truncated: truncated}, nil
}

func (c *Client) WaitForTerminalExit(_ context.Context, params acpsdk.WaitForTerminalExitRequest) (acpsdk.WaitForTerminalExitResponse, error) {
	exitCode, err := c.Terminals.WaitForExit(string(params.TerminalId))
	if err != nil {
		return acpsdk.WaitForTerminalExitResponse{}, err
	}
	return acpsdk.WaitForTerminalExitResponse{ExitCode: &exitCode}, nil
}

func (c *Client) KillTerminalCommand(_ context.Context, params acpsdk.KillTerminalCommandRequest) (acpsdk.KillTerminalCommandResponse, error) {
	_ = c.Terminals.Kill(string(params.TerminalId))
	return acpsdk.KillTerminalCommandResponse{}, nil
}

func (c *Client) ReleaseTerminal(_ context.Context, params acpsdk.ReleaseTerminalRequest) (acpsdk.ReleaseTerminalResponse, error) {
	c.Terminals.Release(string(params.TerminalId))
	return acpsdk.ReleaseTerminalResponse{}, nil
}

// ReleaseAllTerminals is called on client shutdown per spec.md §4.3.2:
// "On client shutdown, all outstanding terminals are released."
func (c *Client) ReleaseAllTerminals() {
	c.Terminals.ReleaseAll()
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
