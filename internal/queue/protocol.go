// Package queue implements the Queue Owner and Queue Client halves of the
// per-session IPC described in spec.md §4.6/§4.7: a UNIX domain socket
// protocol that elects exactly one owner process per session and lets
// other CLI invocations submit prompts and control requests to it.
package queue

import (
	"encoding/json"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/acpxdev/acpx/internal/errs"
)

// RequestType enumerates the client->owner message kinds (spec.md §6.2).
type RequestType string

const (
	ReqSubmitPrompt    RequestType = "submit_prompt"
	ReqCancelPrompt    RequestType = "cancel_prompt"
	ReqSetMode         RequestType = "set_mode"
	ReqSetConfigOption RequestType = "set_config_option"
	// ReqObserve is a SPEC_FULL.md §4.10 addition, not part of spec.md §6.2:
	// it registers the connection as a read-only listener on whatever
	// prompt task is active or next submitted, without itself driving one.
	ReqObserve RequestType = "observe"
)

// Request is the union of all client->owner socket messages. Only the
// fields relevant to Type are populated: a flat tagged struct instead of
// a wire-level union type, since encoding/json has no native
// discriminated unions.
type Request struct {
	Type                     RequestType `json:"type"`
	RequestID                string      `json:"requestId"`
	Message                  string      `json:"message,omitempty"`
	PermissionMode           string      `json:"permissionMode,omitempty"`
	NonInteractivePermissions string     `json:"nonInteractivePermissions,omitempty"`
	TimeoutMs                int64       `json:"timeoutMs,omitempty"`
	WaitForCompletion        bool        `json:"waitForCompletion,omitempty"`
	SuppressSdkConsoleErrors bool        `json:"suppressSdkConsoleErrors,omitempty"`
	ModeID                   string      `json:"modeId,omitempty"`
	ConfigID                 string      `json:"configId,omitempty"`
	Value                    string      `json:"value,omitempty"`
}

// ReplyType enumerates the owner->client message kinds (spec.md §6.2).
type ReplyType string

const (
	ReplyAccepted       ReplyType = "accepted"
	ReplySessionUpdate  ReplyType = "session_update"
	ReplyClientOp       ReplyType = "client_operation"
	ReplyEvent          ReplyType = "event"
	ReplyDone           ReplyType = "done"
	ReplyResult         ReplyType = "result"
	ReplyCancelResult   ReplyType = "cancel_result"
	ReplyConfigOptions  ReplyType = "config_options"
	ReplyError          ReplyType = "error"
)

// Reply is the union of all owner->client socket messages, all tagged
// with the RequestID of the request they answer.
type Reply struct {
	Type          ReplyType                    `json:"type"`
	RequestID     string                       `json:"requestId"`
	Notification  *acpsdk.SessionNotification  `json:"notification,omitempty"`
	Operation     json.RawMessage              `json:"operation,omitempty"`
	Message       json.RawMessage              `json:"message,omitempty"`
	StopReason    acpsdk.StopReason            `json:"stopReason,omitempty"`
	Result        json.RawMessage              `json:"result,omitempty"`
	Cancelled     bool                         `json:"cancelled,omitempty"`
	ConfigOptions []acpsdk.SessionConfigOption `json:"configOptions,omitempty"`

	Code       errs.Code      `json:"code,omitempty"`
	DetailCode string         `json:"detailCode,omitempty"`
	Origin     errs.Origin    `json:"origin,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Msg        string         `json:"messageText,omitempty"`
	ACP        *errs.ACPPayload `json:"acp,omitempty"`
}

// errorReply builds a "error" Reply from a typed *errs.Error, preserving
// every field the wire shape in spec.md §6.5 names.
func errorReply(requestID string, e *errs.Error) Reply {
	return Reply{
		Type:       ReplyError,
		RequestID:  requestID,
		Code:       e.Code,
		DetailCode: e.DetailCode,
		Origin:     e.Origin,
		Retryable:  e.Retryable,
		Msg:        e.Message,
		ACP:        e.ACP,
	}
}
