// Package mcp exposes the command bridge over the Model Context
// Protocol. It registers a single run_command tool that shares the
// chat loop's shell manager, so MCP callers and the interactive loop
// observe the same session and working directory.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/gulfsync/gulfsync/internal/safety"
	"github.com/gulfsync/gulfsync/internal/shell"
	"github.com/gulfsync/gulfsync/internal/workdir"
)

// Server wraps the MCP server and its HTTP handler.
type Server struct {
	mcp     *mcpsdk.Server
	handler *mcpsdk.StreamableHTTPHandler
	shell   *shell.Manager
	logger  zerolog.Logger
}

// RunCommandRequest is the run_command tool input.
type RunCommandRequest struct {
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
	Timeout int    `json:"timeout_secs,omitempty"`
}

// RunCommandResponse is the run_command tool output.
type RunCommandResponse struct {
	Output     string `json:"output"`
	ExitCode   *int   `json:"exit_code"`
	WorkingDir string `json:"working_dir"`
	TimedOut   bool   `json:"timed_out"`
	Restarted  bool   `json:"restarted"`
	Blocked    bool   `json:"blocked"`
	Reason     string `json:"reason,omitempty"`
}

// NewServer creates an MCP server bound to the given shell manager.
func NewServer(sh *shell.Manager, logger zerolog.Logger) *Server {
	mcp := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "gulfsync",
		Version: "0.1.0",
	}, nil)

	s := &Server{
		mcp:    mcp,
		shell:  sh,
		logger: logger.With().Str("component", "mcp").Logger(),
	}

	mcpsdk.AddTool(mcp, &mcpsdk.Tool{
		Name:        "run_command",
		Description: "Run a shell command in the persistent bridge session",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command": {
					Type:        "string",
					Description: "Shell command to execute",
				},
				"dir": {
					Type:        "string",
					Description: "Working directory for the command",
				},
				"timeout_secs": {
					Type:        "integer",
					Description: "Timeout in seconds (default 30)",
				},
			},
			Required: []string{"command"},
		},
	}, s.HandleRunCommand)

	s.handler = mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return mcp
	}, nil)

	return s
}

// Handler returns the streamable HTTP handler for mounting.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HandleRunCommand executes a command through the shared session after
// the safety gate clears it. Blocked commands return a structured
// refusal, not a protocol error.
func (s *Server) HandleRunCommand(ctx context.Context, session *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[RunCommandRequest]) (*mcpsdk.CallToolResultFor[RunCommandResponse], error) {
	command := params.Arguments.Command

	s.logger.Info().
		Str("method", "HandleRunCommand").
		Str("command", command).
		Str("dir", params.Arguments.Dir).
		Msg("Received run_command request")

	if verdict := safety.Check(command); !verdict.OK {
		s.logger.Warn().
			Str("command", command).
			Str("pattern", verdict.Pattern).
			Msg("Command blocked by safety gate")
		return s.result(RunCommandResponse{
			Blocked: true,
			Reason:  fmt.Sprintf("blocked by safety rule: %s", verdict.Pattern),
		})
	}

	req := shell.Request{Command: command}
	if dir, ok := workdir.Normalize(params.Arguments.Dir); ok {
		req.Dir = dir
	}
	if params.Arguments.Timeout > 0 {
		req.Timeout = time.Duration(params.Arguments.Timeout) * time.Second
	}

	res, err := s.shell.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute failed: %w", err)
	}

	return s.result(RunCommandResponse{
		Output:     res.Output,
		ExitCode:   res.ExitCode,
		WorkingDir: res.WorkingDir,
		TimedOut:   res.TimedOut,
		Restarted:  res.Restarted,
	})
}

func (s *Server) result(resp RunCommandResponse) (*mcpsdk.CallToolResultFor[RunCommandResponse], error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return &mcpsdk.CallToolResultFor[RunCommandResponse]{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(payload)},
		},
	}, nil
}
