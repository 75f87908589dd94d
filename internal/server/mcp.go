// Package server exposes the environment pipeline over MCP (stdio) and an
// optional HTTP sidecar for health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/runbox/internal/environment"
)

// Version is stamped by the build; the MCP handshake reports it.
var Version = "dev"

// MCPServer serves the environment tools over MCP stdio.
type MCPServer struct {
	mcp    *server.MCPServer
	envs   *environment.Manager
	logger *slog.Logger
}

// NewMCPServer builds the MCP server and registers the tool set.
func NewMCPServer(envs *environment.Manager, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		mcp: server.NewMCPServer(
			"runbox",
			Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		envs:   envs,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the stdio transport until the client disconnects.
func (s *MCPServer) Serve() error {
	s.logger.Info("mcp server listening on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *MCPServer) registerTools() {
	s.mcp.AddTool(mcp.NewTool("create_environment",
		mcp.WithDescription("Create a test environment from a project source: fetch it into a sandbox, detect the runtime, and install dependencies. The source is a local directory path or a GitHub repository URL."),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Local project directory, GitHub repository URL, or owner/repo shorthand"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch to check out (GitHub sources only); default branch when omitted"),
		),
	), s.handleCreateEnvironment)

	s.mcp.AddTool(mcp.NewTool("run_tests",
		mcp.WithDescription("Detect the test frameworks in an environment, run them, and return a unified result."),
		mcp.WithString("env_id",
			mcp.Required(),
			mcp.Description("Environment ID returned by create_environment"),
		),
	), s.handleRunTests)

	s.mcp.AddTool(mcp.NewTool("cleanup",
		mcp.WithDescription("Destroy an environment and everything it created. Idempotent."),
		mcp.WithString("env_id",
			mcp.Required(),
			mcp.Description("Environment ID to destroy"),
		),
	), s.handleCleanup)
}

// Tool handlers report failures through the tool result, never as protocol
// errors: a broken clone or a failed install is a payload the client should
// see, not a transport fault.

// handleCreateEnvironment dispatches on the source kind: an existing local
// directory is copied in, anything else is treated as a GitHub reference.
func (s *MCPServer) handleCreateEnvironment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	branch := req.GetString("branch", "")

	var env *environment.Environment
	if info, statErr := os.Stat(source); statErr == nil && info.IsDir() {
		env, err = s.envs.CreateFromPath(ctx, source)
	} else {
		env, err = s.envs.CreateFromGitHub(ctx, source, branch)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating environment: %v", err)), nil
	}
	return jsonResult(env.Info())
}

func (s *MCPServer) handleRunTests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("env_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.envs.RunTests(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *MCPServer) handleCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("env_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.envs.Cleanup(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cleaning up %s: %v", id, err)), nil
	}
	return jsonResult(map[string]string{"status": "cleaned", "env_id": id})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
