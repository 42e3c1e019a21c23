package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/sandbox"
)

// Server identity reported to MCP clients
const (
	ServerName    = "runbox"
	ServerVersion = "1.0.0"
)

// ToolExecuteCode is the name of the code execution tool
const ToolExecuteCode = "execute_code"

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	sandboxExec sandbox.SandboxExecutor
	mcpServer   *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sandboxExec sandbox.SandboxExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		sandboxExec: sandboxExec,
	}

	s.mcpServer = server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerExecuteCodeTool()

	return s, nil
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.NewTool(ToolExecuteCode,
		mcp.WithDescription("Build and run a program in an isolated, network-less container "+
			"and return its output. Output is reported as JSON with status, stdout, stderr and exit_code."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Complete program source"),
		),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Description("Program language"),
			mcp.Enum(s.sandboxExec.Languages()...),
		),
		mcp.WithNumber("timeout_sec",
			mcp.Description("Overall build and run deadline in seconds"),
			mcp.Min(1),
			mcp.Max(float64(s.config.Sandbox.MaxDeadlineSec)),
		),
	)

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode runs the submitted code. Every outcome, invalid input
// included, is a tool result; only protocol problems are returned as errors.
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	language, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeoutSec := request.GetFloat("timeout_sec", 0)

	s.logger.Info("code execution requested",
		zap.String(logger.FieldLanguage, language),
		zap.Int("code_len", len(code)))

	result, err := s.sandboxExec.Execute(ctx, sandbox.ExecuteRequest{
		Language: language,
		Code:     code,
		Deadline: time.Duration(timeoutSec * float64(time.Second)),
	})
	if err != nil {
		return s.errorResult(err), nil
	}

	body, err := json.Marshal(result.Report())
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	toolResult := mcp.NewToolResultText(string(body))
	toolResult.IsError = result.Status != sandbox.StatusSuccess
	return toolResult, nil
}

func (s *MCPServer) errorResult(err error) *mcp.CallToolResult {
	switch {
	case sandbox.IsClientError(err):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, sandbox.ErrBusy):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, context.Canceled):
		return mcp.NewToolResultError("execution cancelled")
	default:
		s.logger.Error("sandbox execution failed", zap.Error(err))
		return mcp.NewToolResultErrorf("Execution failed: %v", err)
	}
}

// ServeStdio serves MCP on the given streams until ctx is cancelled or
// input ends
func (s *MCPServer) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.logger.Info("starting MCP server on stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, stdin, stdout)
}

// HTTPHandler returns the streamable HTTP transport for mounting on a router
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithStateLess(true))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
