package acp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"
)

// sessionNotFoundPhrases are matched against a load error's message when
// the agent doesn't use one of the well-known ACP recoverable error codes,
// per spec.md §4.3 point 2.
var sessionNotFoundPhrases = []string{
	"session not found",
	"unknown session",
	"no such session",
}

// recoverableLoadErrorCodes are the JSON-RPC error codes ACP reserves for
// "this session id is unknown to me, start a new one" (coder/acp-go-sdk's
// published recoverable range for session/load), matched textually since
// the SDK surfaces RPC failures as plain errors rather than a typed code.
var recoverableLoadErrorCodes = []string{"-32001", "-32002"}

// Lifecycle is a pure snapshot of a launched agent subprocess's state
// (spec.md §4.3 point 7).
type Lifecycle struct {
	PID       int
	StartedAt time.Time
	ExitedAt  *time.Time
	ExitError string
}

// agentConn is the subset of *acpsdk.ClientSideConnection's RPC surface
// AgentSession drives, narrowed to an interface so tests can substitute a
// fake connection instead of a live subprocess pipe.
type agentConn interface {
	Initialize(ctx context.Context, params acpsdk.InitializeRequest) (acpsdk.InitializeResponse, error)
	NewSession(ctx context.Context, params acpsdk.NewSessionRequest) (acpsdk.NewSessionResponse, error)
	LoadSession(ctx context.Context, params acpsdk.LoadSessionRequest) (acpsdk.LoadSessionResponse, error)
	Prompt(ctx context.Context, params acpsdk.PromptRequest) (acpsdk.PromptResponse, error)
	Cancel(ctx context.Context, params acpsdk.CancelNotification) error
	SetSessionMode(ctx context.Context, params acpsdk.SetSessionModeRequest) (acpsdk.SetSessionModeResponse, error)
	SetSessionConfigOption(ctx context.Context, params acpsdk.SetSessionConfigOptionRequest) (acpsdk.SetSessionConfigOptionResponse, error)
}

// AgentSession manages the lifecycle of one ACP agent subprocess
// connection: launch, handshake, session/new or session/load, prompting,
// cancellation, and mode/config changes.
type AgentSession struct {
	Conn      agentConn
	SessionID acpsdk.SessionId
	Cmd       *exec.Cmd
	Client    *Client

	mu                sync.Mutex
	loadSupported     bool
	lifecycle         Lifecycle
	activePromptDone  chan struct{}
}

// NewAgentSession launches an ACP agent process and establishes a
// connection over its stdio. stderrWriter receives the agent's stderr; if
// nil, it defaults to os.Stderr.
func NewAgentSession(command string, args []string, env map[string]string, client *Client, stderrWriter io.Writer) (*AgentSession, error) {
	cmd := exec.Command(command, args...)
	if stderrWriter != nil {
		cmd.Stderr = stderrWriter
	} else {
		cmd.Stderr = os.Stderr
	}

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+os.ExpandEnv(v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %q: %w", command, err)
	}

	conn := acpsdk.NewClientSideConnection(client, stdin, stdout)

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}

	return &AgentSession{
		Conn:   conn,
		Cmd:    cmd,
		Client: client,
		lifecycle: Lifecycle{
			PID:       pid,
			StartedAt: time.Now(),
		},
	}, nil
}

// Initialize performs the ACP handshake, advertising filesystem and
// terminal capabilities, and records whether session/load is supported.
func (s *AgentSession) Initialize(ctx context.Context) error {
	resp, err := s.Conn.Initialize(ctx, acpsdk.InitializeRequest{
		ProtocolVersion: acpsdk.ProtocolVersionNumber,
		ClientCapabilities: acpsdk.ClientCapabilities{
			Fs: acpsdk.FileSystemCapability{
				ReadTextFile:  true,
				WriteTextFile: true,
			},
			Terminal: true,
		},
		ClientInfo: &acpsdk.Implementation{
			Name:    "acpx",
			Version: "0.1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	s.mu.Lock()
	s.loadSupported = resp.AgentCapabilities.LoadSession
	s.mu.Unlock()

	if s.Client.Logger != nil {
		s.Client.Logger.Debug("agent initialized",
			zap.Any("protocolVersion", resp.ProtocolVersion),
			zap.Bool("loadSession", s.loadSupported))
	}
	return nil
}

// LoadSupported reports whether the negotiated agent capabilities include
// session/load.
func (s *AgentSession) LoadSupported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSupported
}

// StartSession creates a brand-new ACP session rooted at cwd.
func (s *AgentSession) StartSession(ctx context.Context, cwd string) error {
	resp, err := s.Conn.NewSession(ctx, acpsdk.NewSessionRequest{
		Cwd:        cwd,
		McpServers: []acpsdk.McpServer{},
	})
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	s.mu.Lock()
	s.SessionID = resp.SessionId
	s.mu.Unlock()
	return nil
}

// LoadOrStartSession implements spec.md §4.3 point 2: prefer session/load
// on an existing acpSessionId, suppressing replayed session/update
// notifications while the load is in flight, and falling back to a fresh
// session when the agent reports the session id is unknown to it.
func (s *AgentSession) LoadOrStartSession(ctx context.Context, acpSessionID, cwd string) (agentSessionIDChanged bool, err error) {
	if !s.LoadSupported() || acpSessionID == "" {
		return true, s.StartSession(ctx, cwd)
	}

	s.Client.SetSuppressUpdates(true)
	resp, loadErr := s.Conn.LoadSession(ctx, acpsdk.LoadSessionRequest{
		SessionId:              acpsdk.SessionId(acpSessionID),
		Cwd:                    cwd,
		McpServers:             []acpsdk.McpServer{},
		SuppressReplayUpdates:  true,
	})
	s.Client.SetSuppressUpdates(false)

	if loadErr == nil {
		s.mu.Lock()
		s.SessionID = acpsdk.SessionId(acpSessionID)
		s.mu.Unlock()
		_ = resp
		return false, nil
	}

	if !isSessionNotFound(loadErr) {
		return false, fmt.Errorf("load session: %w", loadErr)
	}

	if err := s.StartSession(ctx, cwd); err != nil {
		return false, err
	}
	return true, nil
}

// isSessionNotFound classifies a session/load failure as recoverable
// (start fresh) vs. a hard failure, per spec.md §4.3 point 2: either a
// recognized ACP error code, or a message matching a well-known phrase.
func isSessionNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, code := range recoverableLoadErrorCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	for _, phrase := range sessionNotFoundPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Prompt sends content blocks to the agent and blocks until it responds
// with a stop reason. Streaming happens via the Client's SessionUpdate
// callback, not via this call's return value.
func (s *AgentSession) Prompt(ctx context.Context, blocks []acpsdk.ContentBlock) (acpsdk.StopReason, error) {
	s.mu.Lock()
	s.activePromptDone = make(chan struct{})
	sid := s.SessionID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.activePromptDone != nil {
			close(s.activePromptDone)
			s.activePromptDone = nil
		}
		s.mu.Unlock()
	}()

	resp, err := s.Conn.Prompt(ctx, acpsdk.PromptRequest{
		SessionId: sid,
		Prompt:    blocks,
	})
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	return resp.StopReason, nil
}

// CancelActivePrompt sends session/cancel and waits up to waitMs for the
// in-flight prompt to settle, returning whether the cancel took effect
// within that window (spec.md §4.3 point 4).
func (s *AgentSession) CancelActivePrompt(ctx context.Context, waitMs int) (bool, error) {
	s.mu.Lock()
	sid := s.SessionID
	done := s.activePromptDone
	s.mu.Unlock()

	if done == nil {
		return true, nil // nothing active to cancel
	}

	if err := s.Conn.Cancel(ctx, acpsdk.CancelNotification{SessionId: sid}); err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}

	select {
	case <-done:
		return true, nil
	case <-time.After(time.Duration(waitMs) * time.Millisecond):
		return false, nil
	}
}

// RequestCancelActivePrompt is the non-blocking variant used from the
// control path (queue owner handling a concurrent cancel_prompt request).
func (s *AgentSession) RequestCancelActivePrompt(ctx context.Context) error {
	s.mu.Lock()
	sid := s.SessionID
	s.mu.Unlock()
	return s.Conn.Cancel(ctx, acpsdk.CancelNotification{SessionId: sid})
}

// SetSessionMode sends session/set_mode.
func (s *AgentSession) SetSessionMode(ctx context.Context, modeID string) error {
	s.mu.Lock()
	sid := s.SessionID
	s.mu.Unlock()
	_, err := s.Conn.SetSessionMode(ctx, acpsdk.SetSessionModeRequest{
		SessionId: sid,
		ModeId:    acpsdk.SessionModeId(modeID),
	})
	return err
}

// SetSessionConfigOption sends session/set_config_option and returns the
// agent's updated config option list.
func (s *AgentSession) SetSessionConfigOption(ctx context.Context, configID, value string) ([]acpsdk.SessionConfigOption, error) {
	s.mu.Lock()
	sid := s.SessionID
	s.mu.Unlock()
	resp, err := s.Conn.SetSessionConfigOption(ctx, acpsdk.SetSessionConfigOptionRequest{
		SessionId: sid,
		ConfigId:  acpsdk.SessionConfigOptionId(configID),
		Value:     value,
	})
	if err != nil {
		return nil, err
	}
	return resp.ConfigOptions, nil
}

// Lifecycle returns a snapshot of the agent subprocess's PID, start time,
// and last-exit record (spec.md §4.3 point 7).
func (s *AgentSession) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Close releases all outstanding terminals, kills the agent process, and
// waits for cleanup.
func (s *AgentSession) Close() error {
	s.Client.ReleaseAllTerminals()

	if s.Cmd != nil && s.Cmd.Process != nil {
		_ = s.Cmd.Process.Kill()
		err := s.Cmd.Wait()
		now := time.Now()
		s.mu.Lock()
		s.lifecycle.ExitedAt = &now
		if err != nil {
			s.lifecycle.ExitError = err.Error()
		}
		s.mu.Unlock()
	}
	return nil
}

