// Package errs defines the typed error shape shared across the CLI, the
// runtime facade, the queue owner, and the queue client (spec.md §6.5, §7).
package errs

import "fmt"

// Code is the top-level error taxonomy from spec.md §7.
type Code string

const (
	CodeUsage                       Code = "USAGE"
	CodeTimeout                     Code = "TIMEOUT"
	CodeNoSession                   Code = "NO_SESSION"
	CodePermissionDenied            Code = "PERMISSION_DENIED"
	CodePermissionPromptUnavailable Code = "PERMISSION_PROMPT_UNAVAILABLE"
	CodeRuntime                     Code = "RUNTIME"
)

// Origin identifies which layer raised the error.
type Origin string

const (
	OriginCLI     Origin = "cli"
	OriginRuntime Origin = "runtime"
	OriginQueue   Origin = "queue"
	OriginAgent   Origin = "agent"
)

// ExitCode maps a Code to the process exit status from spec.md §6.5.
func (c Code) ExitCode() int {
	switch c {
	case CodeUsage:
		return 2
	case CodeTimeout:
		return 3
	case CodeNoSession:
		return 4
	case CodePermissionDenied:
		return 5
	case CodeRuntime, CodePermissionPromptUnavailable:
		return 1
	default:
		return 1
	}
}

const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitTimeout     = 3
	ExitNoSession   = 4
	ExitPermission  = 5
	ExitInterrupted = 130
)

// ACPPayload mirrors the nested ACP JSON-RPC error, preserved verbatim so
// callers can render structured JSON without losing information.
type ACPPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error is the structured error type threaded through the runtime,
// the queue socket protocol, and the CLI's output sinks.
type Error struct {
	Code       Code        `json:"code"`
	DetailCode string      `json:"detailCode,omitempty"`
	Origin     Origin      `json:"origin,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`
	Message    string      `json:"message"`
	ACP        *ACPPayload `json:"acp,omitempty"`

	// OutputAlreadyEmitted marks that this error's content already reached
	// the output stream (e.g. a JSON error event was already sent on this
	// request); callers use it to avoid rendering the error twice.
	OutputAlreadyEmitted bool `json:"-"`
}

func (e *Error) Error() string {
	if e.DetailCode != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.DetailCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code/origin/message.
func New(code Code, origin Origin, message string) *Error {
	return &Error{Code: code, Origin: origin, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code Code, origin Origin, format string, args ...any) *Error {
	return New(code, origin, fmt.Sprintf(format, args...))
}

// WithDetail sets DetailCode and returns the receiver for chaining.
func (e *Error) WithDetail(detail string) *Error {
	e.DetailCode = detail
	return e
}

// WithRetryable sets Retryable and returns the receiver for chaining.
func (e *Error) WithRetryable(r bool) *Error {
	e.Retryable = r
	return e
}

// WithACP attaches the nested ACP error payload and returns the receiver.
func (e *Error) WithACP(code int, message string, data any) *Error {
	e.ACP = &ACPPayload{Code: code, Message: message, Data: data}
	return e
}

// As extracts an *Error from err, or nil if err is not one (or is nil).
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return nil
}

// Detail codes used by the queue protocol (spec.md §4.6, §4.7).
const (
	DetailQueuePayloadInvalidJSON = "QUEUE_REQUEST_PAYLOAD_INVALID_JSON"
	DetailQueueOwnerShuttingDown  = "QUEUE_OWNER_SHUTTING_DOWN"
	DetailQueueDisconnectedBeforeAck = "QUEUE_DISCONNECTED_BEFORE_ACK"
	DetailQueueLeaseStale         = "QUEUE_LEASE_STALE"
	DetailQueueLeaseHeld          = "QUEUE_LEASE_HELD"
)
