// Package diag implements acpx's diagnostics HTTP surface (SPEC_FULL.md
// §4.9/§6.6): a strictly read-only, loopback-only MCP endpoint exposing
// one tool, read_session_events, that tails a session's NDJSON event
// log. It is not the queue socket: it never drives the agent and never
// accepts a prompt or control request.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/acpxdev/acpx/internal/eventlog"
)

// Server serves the read_session_events MCP tool over HTTP, bound to a
// single session's log directory.
type Server struct {
	echo     *echo.Echo
	listener net.Listener
}

// NewServer builds a Server exposing sessionDir's event log via MCP.
func NewServer(sessionID, sessionDir string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "acpx-diag",
		Version: "1.0.0",
	}, nil)
	mcpSrv.AddTool(
		&mcp.Tool{
			Name:        "read_session_events",
			Description: fmt.Sprintf("Read the tail of session %s's NDJSON event log", sessionID),
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"maxLines": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of trailing lines to return (default 100)",
					},
				},
			},
		},
		readSessionEventsHandler(sessionDir),
	)

	getServer := func(r *http.Request) *mcp.Server { return mcpSrv }
	httpHandler := mcp.NewStreamableHTTPHandler(getServer, &mcp.StreamableHTTPOptions{Stateless: true})
	sseHandler := mcp.NewSSEHandler(getServer, nil)

	e.Any("/mcp", echo.WrapHandler(httpHandler))
	e.Any("/mcp/", echo.WrapHandler(httpHandler))
	e.Any("/sse", echo.WrapHandler(sseHandler))
	e.Any("/sse/", echo.WrapHandler(sseHandler))

	return &Server{echo: e}
}

type readEventsArgs struct {
	MaxLines int `json:"maxLines"`
}

func readSessionEventsHandler(sessionDir string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args readEventsArgs
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		if args.MaxLines <= 0 {
			args.MaxLines = 100
		}

		lines, err := eventlog.ReadTail(sessionDir, args.MaxLines)
		if err != nil {
			return errorResult(fmt.Sprintf("read event log: %v", err)), nil
		}

		data, err := json.Marshal(lines)
		if err != nil {
			return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Start begins listening in a background goroutine, bound to loopback
// only (SPEC_FULL.md §4.9: "binds only to 127.0.0.1").
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("listen on 127.0.0.1:%d: %w", port, err)
	}
	s.listener = ln
	s.echo.Listener = ln
	go s.echo.Start("")
	return nil
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	if s.echo != nil {
		return s.echo.Shutdown(context.Background())
	}
	return nil
}

// BaseURL returns the server's loopback base URL, e.g.
// "http://127.0.0.1:12345".
func (s *Server) BaseURL() string {
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("http://%s", s.listener.Addr().String())
}
