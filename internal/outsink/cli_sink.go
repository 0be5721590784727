package outsink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/acpxdev/acpx/internal/errs"
)

// JSONSink renders a prompt's stream as newline-delimited JSON envelopes on
// w (normally os.Stdout), for scripted callers that want the raw protocol
// shape instead of rendered text.
type JSONSink struct {
	w   *bufio.Writer
	ctx struct {
		SessionID string `json:"sessionId,omitempty"`
		RequestID string `json:"requestId,omitempty"`
	}
}

// NewJSONSink builds a JSONSink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: bufio.NewWriter(w)}
}

func (s *JSONSink) SetContext(sessionID, requestID string) {
	s.ctx.SessionID = sessionID
	s.ctx.RequestID = requestID
}

func (s *JSONSink) emit(kind string, payload json.RawMessage) {
	envelope := struct {
		Type      string          `json:"type"`
		SessionID string          `json:"sessionId,omitempty"`
		RequestID string          `json:"requestId,omitempty"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}{Type: kind, SessionID: s.ctx.SessionID, RequestID: s.ctx.RequestID, Payload: payload}

	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	s.w.Write(data)
	s.w.WriteByte('\n')
	s.w.Flush()
}

func (s *JSONSink) OnSessionUpdate(raw []byte) { s.emit("session_update", raw) }

func (s *JSONSink) OnClientOperation(raw []byte) { s.emit("client_operation", raw) }

func (s *JSONSink) OnDone(stopReason string) {
	data, _ := json.Marshal(struct {
		StopReason string `json:"stopReason"`
	}{stopReason})
	s.emit("done", data)
}

func (s *JSONSink) OnError(err *errs.Error) {
	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		data = []byte(fmt.Sprintf(`{"message":%q}`, err.Error()))
	}
	s.emit("error", data)
}

func (s *JSONSink) Flush() error {
	return s.w.Flush()
}

// QueueSinkAdapter bridges queue.Sink (the narrow contract the Queue
// Client streams into) to the richer OutputSink the CLI layer renders
// with, capturing the terminal error/done outcome for the caller to
// inspect after streaming completes.
type QueueSinkAdapter struct {
	Sink OutputSink

	LastErr *errs.Error
	Done    bool
	Stop    string
}

// NewQueueSinkAdapter wraps sink for use as a queue.Sink.
func NewQueueSinkAdapter(sink OutputSink) *QueueSinkAdapter {
	return &QueueSinkAdapter{Sink: sink}
}

func (a *QueueSinkAdapter) OnSessionUpdate(raw json.RawMessage)  { a.Sink.OnSessionUpdate(raw) }
func (a *QueueSinkAdapter) OnClientOperation(raw json.RawMessage) { a.Sink.OnClientOperation(raw) }

func (a *QueueSinkAdapter) OnDone(stopReason string) {
	a.Done = true
	a.Stop = stopReason
	a.Sink.OnDone(stopReason)
}

// ReportError is called by the CLI command layer (not by the queue client
// directly, since queue.Sink has no error callback) when SendSession
// returns a *errs.Error instead of completing via OnDone.
func (a *QueueSinkAdapter) ReportError(err *errs.Error) {
	a.LastErr = err
	a.Sink.OnError(err)
}

// DefaultSink chooses a TextSink or JSONSink based on the --json flag
// convention shared by acpx's prompt-submitting commands.
func DefaultSink(jsonOutput bool, logPath string, debug bool) OutputSink {
	if jsonOutput {
		return NewJSONSink(os.Stdout)
	}
	return NewTextSink(logPath, debug)
}
