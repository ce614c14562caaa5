// Package mcp exposes the relay over the Model Context Protocol so MCP
// clients can inspect a user's uploaded test runs and the relay's health.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Marshal-AM/fireglobe/internal/model"
)

// Relay is the subset of the relay service the tools call.
// *relay.Service satisfies it.
type Relay interface {
	ListTestRuns(ctx context.Context, token string) (model.TestRunsResponse, error)
	Health(ctx context.Context) model.HealthResponse
}

// Server wraps the mcp-go server with the relay service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	relay     Relay
	logger    *slog.Logger
}

// New creates an MCP server with all tools registered.
func New(relay Relay, logger *slog.Logger, version string) *Server {
	s := &Server{relay: relay, logger: logger}
	s.mcpServer = mcpserver.NewMCPServer(
		"fireglobe",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
