// Package outsink implements the OutputSink contract from spec.md §6.4:
// the caller-supplied destination a prompt's streamed session updates,
// client operations, completion, and errors are rendered into. Collapsed
// into one interface since acpx has no interactive-input half to keep
// separate from rendering.
package outsink

import "github.com/acpxdev/acpx/internal/errs"

// OutputSink is the facade-level rendering contract (spec.md §6.4):
// "setContext, onSessionUpdate, onClientOperation, onDone, onError,
// flush". Implemented concretely by Text and JSON sinks.
type OutputSink interface {
	// SetContext is called once before a prompt starts, identifying which
	// session and request the subsequent stream belongs to.
	SetContext(sessionID, requestID string)
	// OnSessionUpdate receives one raw ACP session/update notification.
	OnSessionUpdate(raw []byte)
	// OnClientOperation receives one raw fs/terminal operation the agent
	// asked the client to perform (for observability, not action).
	OnClientOperation(raw []byte)
	// OnDone is called once a prompt settles successfully with its stop
	// reason ("end_turn", "cancelled", "max_tokens", ...).
	OnDone(stopReason string)
	// OnError is called instead of OnDone when the prompt failed.
	OnError(err *errs.Error)
	// Flush gives the sink a chance to finish writing buffered output
	// before the CLI process exits.
	Flush() error
}
