// Package model defines the on-disk session record shape shared by the
// persistence store, the event log, the ACP client, and the queue owner.
package model

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current session record format.
const SchemaVersion = "acpx.session/1"

// TokenUsage mirrors the cumulative/per-request token accounting an agent
// may report back on a prompt response.
type TokenUsage struct {
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
	TotalTokens  int64 `json:"totalTokens,omitempty"`
}

// Add accumulates u into the receiver and returns it.
func (t TokenUsage) Add(u TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  t.InputTokens + u.InputTokens,
		OutputTokens: t.OutputTokens + u.OutputTokens,
		TotalTokens:  t.TotalTokens + u.TotalTokens,
	}
}

// ContentBlockKind enumerates the ACP content block union this package
// persists in conversation history.
type ContentBlockKind string

const (
	ContentBlockText     ContentBlockKind = "text"
	ContentBlockImage    ContentBlockKind = "image"
	ContentBlockAudio    ContentBlockKind = "audio"
	ContentBlockResource ContentBlockKind = "resource"
)

// ContentBlock is a typed, persistable mirror of an ACP content block.
type ContentBlock struct {
	Kind     ContentBlockKind `json:"kind"`
	Text     string           `json:"text,omitempty"`
	MimeType string           `json:"mimeType,omitempty"`
	Data     string           `json:"data,omitempty"` // base64 for image/audio
	URI      string           `json:"uri,omitempty"`  // for resource blocks
}

// MessageRole distinguishes user-authored turns from agent-authored ones.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// ConversationMessage is one ordered entry in a session's history.
type ConversationMessage struct {
	Role      MessageRole    `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventLogManifest records the rolling NDJSON segment state for a session.
type EventLogManifest struct {
	ActivePath      string    `json:"activePath"`
	SegmentCount    int       `json:"segmentCount"`
	MaxSegmentBytes int64     `json:"maxSegmentBytes"`
	MaxSegments     int       `json:"maxSegments"`
	LastWriteAt     time.Time `json:"lastWriteAt,omitzero"`
	LastWriteError  string    `json:"lastWriteError,omitempty"`
}

// DisconnectReason enumerates why the agent subprocess's last connection
// to acpx ended.
type DisconnectReason string

const (
	DisconnectProcessExit DisconnectReason = "process_exit"
	DisconnectKilled      DisconnectReason = "killed"
	DisconnectCrashed     DisconnectReason = "crashed"
)

// SessionRecord is the complete on-disk representation of one acpx-managed
// ACP session. See spec.md §3 "Session Record" for field semantics and
// invariants.
type SessionRecord struct {
	Schema         string `json:"schema"`
	AcpxRecordID   string `json:"acpxRecordId"`
	AcpSessionID   string `json:"acpSessionId"`
	AgentSessionID string `json:"agentSessionId,omitempty"`
	AgentCommand   string `json:"agentCommand"`
	Cwd            string `json:"cwd"`
	Name           string `json:"name,omitempty"`

	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   time.Time  `json:"lastUsedAt"`
	LastPromptAt time.Time  `json:"lastPromptAt,omitzero"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
	Closed       bool       `json:"closed"`

	PID            int        `json:"pid,omitempty"`
	AgentStartedAt *time.Time `json:"agentStartedAt,omitempty"`

	LastAgentExitCode       *int              `json:"lastAgentExitCode,omitempty"`
	LastAgentSignal         string            `json:"lastAgentSignal,omitempty"`
	LastAgentExitAt         *time.Time        `json:"lastAgentExitAt,omitempty"`
	LastAgentDisconnectReason DisconnectReason `json:"lastAgentDisconnectReason,omitempty"`

	ProtocolVersion   int             `json:"protocolVersion,omitempty"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`

	EventLog EventLogManifest `json:"eventLog"`

	LastSeq       uint64 `json:"lastSeq"`
	LastRequestID string `json:"lastRequestId,omitempty"`

	Messages []ConversationMessage `json:"messages,omitempty"`

	Title                string     `json:"title,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CumulativeTokenUsage TokenUsage `json:"cumulativeTokenUsage,omitzero"`
	RequestTokenUsage    TokenUsage `json:"requestTokenUsage,omitzero"`
}

// Touch stamps UpdatedAt and LastUsedAt to now (the caller-supplied clock,
// so tests stay deterministic).
func (r *SessionRecord) Touch(now time.Time) {
	r.UpdatedAt = now
	r.LastUsedAt = now
}

// Key identifies a record by its dedup tuple: (agentCommand, cwd, name).
type Key struct {
	AgentCommand string
	Cwd          string
	Name         string
}

// MatchesKey reports whether r belongs to the given (agentCommand, cwd,
// name) dedup tuple.
func (r *SessionRecord) MatchesKey(k Key) bool {
	return r.AgentCommand == k.AgentCommand && r.Cwd == k.Cwd && r.Name == k.Name
}
