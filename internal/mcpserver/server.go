package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mnemo-agent/mnemo/internal/core"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// Server exposes the agent's memory tools over the Model Context Protocol,
// so external MCP clients (editors, other agents) can read and write the
// same memory store the conversational agent uses.
type Server struct {
	mcpSrv *server.MCPServer
	userID int64
}

// New registers every tool from the executor on an MCP server. Stdio MCP has
// no user identity of its own, so all calls run as the configured user.
func New(ctx context.Context, executor core.ToolExecutor, userID int64) (*Server, error) {
	s := server.NewMCPServer(
		core.AppName,
		core.AppVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	tools, err := executor.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	for _, t := range tools {
		tool := mcp.NewToolWithRawSchema(t.Function.Name, t.Function.Description, t.Function.Parameters)
		name := t.Function.Name
		s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, err := json.Marshal(req.GetArguments())
			if err != nil {
				return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
			}
			out, err := executor.CallTool(ctx, userID, name, string(args))
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(out), nil
		})
	}

	return &Server{mcpSrv: s, userID: userID}, nil
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	log.FromCtx(ctx).Info().Int64("user_id", s.userID).Msg("mcp server on stdio")
	return server.ServeStdio(s.mcpSrv)
}
