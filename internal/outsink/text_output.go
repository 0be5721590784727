package outsink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/acpxdev/acpx/internal/errs"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// rawUpdate is the loose shape this package pulls text out of without
// depending on the SDK's session/update payload types directly: every ACP
// update is tagged by a "sessionUpdate" discriminator and carries a
// "content" block for the chunk kinds, or a "title"/"status" pair for
// tool calls.
type rawUpdate struct {
	Update struct {
		SessionUpdate string `json:"sessionUpdate"`
		Content       *struct {
			Text string `json:"text"`
		} `json:"content"`
		Title  string `json:"title"`
		Status string `json:"status"`
	} `json:"update"`
}

// TextSink renders a prompt's stream as human-readable terminal output,
// mirroring it (ANSI stripped) to an optional log file.
type TextSink struct {
	debug      bool
	logFile    *os.File
	lastWasText bool
}

// NewTextSink builds a TextSink. If logPath is non-empty, a log file is
// opened and every rendered line is also mirrored there, ANSI stripped.
func NewTextSink(logPath string, debug bool) *TextSink {
	s := &TextSink{debug: debug}
	if logPath != "" {
		lf, err := os.Create(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot open log file %s: %v\n", logPath, err)
		} else {
			s.logFile = lf
		}
	}
	return s
}

func (s *TextSink) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	fmt.Print(line)
	s.writeLog(line)
}

func (s *TextSink) writeLog(line string) {
	if s.logFile != nil {
		fmt.Fprint(s.logFile, ansiRe.ReplaceAllString(line, ""))
	}
}

func (s *TextSink) SetContext(sessionID, requestID string) {
	if s.debug {
		s.print("%s[session %s, request %s]%s\n", Gray, sessionID, requestID, Reset)
	}
}

func (s *TextSink) OnSessionUpdate(raw []byte) {
	var u rawUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		s.debugLine("malformed session update: %v", err)
		return
	}

	switch u.Update.SessionUpdate {
	case "agent_message_chunk":
		if u.Update.Content != nil {
			s.print("%s", u.Update.Content.Text)
			s.lastWasText = true
		}
	case "agent_thought_chunk":
		if u.Update.Content != nil && s.debug {
			s.print("%s%s%s", Dim, u.Update.Content.Text, Reset)
			s.lastWasText = true
		}
	case "tool_call":
		s.newlineIfMidLine()
		s.print("%s  ▶ %s%s\n", Dim, u.Update.Title, Reset)
	case "tool_call_update":
		s.newlineIfMidLine()
		s.print("%s  [%s] %s%s\n", Dim, u.Update.Status, u.Update.Title, Reset)
	case "plan":
		// Plans render only in debug mode: they're agent-internal bookkeeping.
		s.debugLine("plan updated")
	case "available_commands_update", "current_mode_update":
		s.debugLine("%s changed", u.Update.SessionUpdate)
	default:
		s.debugLine("unhandled session update kind %q", u.Update.SessionUpdate)
	}
}

func (s *TextSink) OnClientOperation(raw []byte) {
	s.debugLine("client operation: %s", string(raw))
}

func (s *TextSink) OnDone(stopReason string) {
	s.newlineIfMidLine()
	s.print("%s[done: %s]%s\n", Dim, stopReason, Reset)
}

func (s *TextSink) OnError(err *errs.Error) {
	s.newlineIfMidLine()
	s.print("%s[error: %s]%s\n", Red, err.Error(), Reset)
}

func (s *TextSink) Flush() error {
	if s.logFile != nil {
		return s.logFile.Close()
	}
	return nil
}

func (s *TextSink) newlineIfMidLine() {
	if s.lastWasText {
		s.print("\n")
		s.lastWasText = false
	}
}

func (s *TextSink) debugLine(format string, args ...any) {
	if !s.debug {
		return
	}
	s.newlineIfMidLine()
	s.print("%s[debug] %s%s\n", Gray, fmt.Sprintf(format, args...), Reset)
}

// LogWriter exposes the sink's log file for subsystems that want to mirror
// their own diagnostic output there (e.g. agent stderr).
func (s *TextSink) LogWriter() io.Writer {
	if s.logFile == nil {
		return nil
	}
	return s.logFile
}
