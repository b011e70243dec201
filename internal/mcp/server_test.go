package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gulfsync/gulfsync/internal/shell"
)

func callRunCommand(t *testing.T, s *Server, req RunCommandRequest) RunCommandResponse {
	t.Helper()
	result, err := s.HandleRunCommand(context.Background(), nil, &mcpsdk.CallToolParamsFor[RunCommandRequest]{
		Arguments: req,
	})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	var resp RunCommandResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestRunCommandBlockedBySafetyGate(t *testing.T) {
	s := NewServer(nil, zerolog.Nop())

	resp := callRunCommand(t, s, RunCommandRequest{Command: "rm -rf /"})
	assert.True(t, resp.Blocked)
	assert.NotEmpty(t, resp.Reason)
}

func TestRunCommandExecutes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping shell session test in short mode")
	}

	mgr := shell.NewManager(shell.Config{}, zerolog.Nop())
	defer mgr.Stop()
	s := NewServer(mgr, zerolog.Nop())

	resp := callRunCommand(t, s, RunCommandRequest{Command: "echo hello"})
	assert.False(t, resp.Blocked)
	require.NotNil(t, resp.ExitCode)
	assert.Equal(t, 0, *resp.ExitCode)
	assert.Contains(t, resp.Output, "hello")
	assert.NotEmpty(t, resp.WorkingDir)
}

func TestHandlerIsMountable(t *testing.T) {
	s := NewServer(nil, zerolog.Nop())
	assert.NotNil(t, s.Handler())
}
