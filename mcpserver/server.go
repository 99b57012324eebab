package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codeact/config"
	"github.com/isdmx/codeact/engine"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	sandbox   engine.Sandbox
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sandbox engine.Sandbox) (*MCPServer, error) {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		sandbox: sandbox,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("engine.strategy", s.config.Engine.Strategy),
		zap.Bool("engine.permissive_declarations", s.config.Engine.PermissiveDeclarations),
		zap.Int("engine.render_wait_ms", s.config.Engine.RenderWaitMS),
		zap.String("engine.capture.display", s.config.Engine.Capture.Display),
		zap.String("engine.capture.tool", s.config.Engine.Capture.Tool),
		zap.Int("engine.capture.timeout_sec", s.config.Engine.Capture.TimeoutSec),
		zap.Strings("capabilities.extended", s.config.Capabilities.Extended),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("codeact-engine", "A sandboxed script execution server with a persistent session")

	// Register the tools
	s.registerExecuteCodeTool()
	s.registerArtifactTools()
	s.registerResetContextTool()

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute a program in the sandboxed session. Top-level bindings persist across calls.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				"capture": map[string]any{
					"type":        "boolean",
					"description": "Capture a rendering artifact after the program finishes",
				},
				"render_wait_ms": map[string]any{
					"type":        "number",
					"description": "Pause before the artifact grab, overriding the configured default",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// registerArtifactTools registers get_captured_artifact and clear_artifact
func (s *MCPServer) registerArtifactTools() {
	getTool := mcp.Tool{
		Name:        "get_captured_artifact",
		Description: "Retrieve the most recently captured artifact as base64 PNG data",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(getTool, s.handleGetCapturedArtifact)

	clearTool := mcp.Tool{
		Name:        "clear_artifact",
		Description: "Discard the stored artifact",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(clearTool, s.handleClearArtifact)
}

// registerResetContextTool registers the reset_context tool
func (s *MCPServer) registerResetContextTool() {
	tool := mcp.Tool{
		Name:        "reset_context",
		Description: "Drop every binding of the persistent session context",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(tool, s.handleResetContext)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("code execution requested")

	// Extract parameters
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	capture := request.GetBool("capture", false)
	renderWaitMS := request.GetFloat("render_wait_ms", 0)
	if renderWaitMS < 0 {
		return nil, fmt.Errorf("render_wait_ms must not be negative, got: %v", renderWaitMS)
	}

	s.logger.Info("executing program",
		zap.Bool("capture", capture),
		zap.Int("code_len", len(code)))

	req := engine.ExecuteRequest{
		Program:    code,
		Capture:    capture,
		RenderWait: time.Duration(renderWaitMS) * time.Millisecond,
	}

	result, err := s.sandbox.Execute(ctx, req)
	if err != nil {
		s.logger.Error("engine execution failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("code execution completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
		zap.Bool("artifact_captured", result.ArtifactCaptured))

	// Convert result to JSON string for content
	resultJSON := fmt.Sprintf(`{"stdout":%q,"stderr":%q,"exit_code":%d,"artifact_captured":%t}`,
		result.Stdout, result.Stderr, result.ExitCode, result.ArtifactCaptured)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultJSON,
			},
		},
	}, nil
}

// handleGetCapturedArtifact handles the get_captured_artifact tool
func (s *MCPServer) handleGetCapturedArtifact(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifact := s.sandbox.CapturedArtifact()
	artifactB64 := base64.StdEncoding.EncodeToString(artifact)

	s.logger.Info("artifact requested", zap.Int("bytes", len(artifact)))

	resultJSON := fmt.Sprintf(`{"present":%t,"artifact_b64":%q}`, len(artifact) > 0, artifactB64)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultJSON,
			},
		},
	}, nil
}

// handleClearArtifact handles the clear_artifact tool
func (s *MCPServer) handleClearArtifact(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.sandbox.ClearArtifact()
	s.logger.Info("artifact cleared")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: `{"cleared":true}`,
			},
		},
	}, nil
}

// handleResetContext handles the reset_context tool
func (s *MCPServer) handleResetContext(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.sandbox.ResetContext()
	s.logger.Info("session context reset")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: `{"reset":true}`,
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
