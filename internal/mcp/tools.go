package mcp

import (
	"context"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Marshal-AM/fireglobe/internal/authz"
	"github.com/Marshal-AM/fireglobe/internal/ctxutil"
)

// defaultRunLimit caps fireglobe_test_runs output unless limit is given.
const defaultRunLimit = 20

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("fireglobe_test_runs",
			mcplib.WithDescription(`List the test runs uploaded with an access token, newest first.

Each run carries the IPFS hashes and gateway URLs of its knowledge graph
and metrics documents, and the FGC reward transaction once one is attached.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("access_token",
				mcplib.Description("The FireGlobe access token shown on the dashboard"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of runs to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(defaultRunLimit),
			),
		),
		s.handleTestRuns,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fireglobe_health",
			mcplib.WithDescription("Report whether the relay's database, IPFS store, backend and metrics services are reachable or configured."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleHealth,
	)
}

func (s *Server) handleTestRuns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	token := request.GetString("access_token", "")
	if token == "" {
		return errorResult("access_token is required"), nil
	}
	limit := request.GetInt("limit", defaultRunLimit)
	if limit < 1 {
		limit = defaultRunLimit
	}

	resp, err := s.relay.ListTestRuns(ctx, token)
	if err != nil {
		if errors.Is(err, authz.ErrInvalidToken) {
			return errorResult("Invalid access token"), nil
		}
		s.logger.Error("mcp: list test runs failed", "error", err, "request_id", ctxutil.RequestIDFromContext(ctx))
		return errorResult(fmt.Sprintf("failed to list test runs: %v", err)), nil
	}

	if len(resp.TestRuns) > limit {
		resp.TestRuns = resp.TestRuns[:limit]
	}
	return jsonResult(map[string]any{
		"user_id":   resp.UserID,
		"total":     resp.Count,
		"test_runs": resp.TestRuns,
	})
}

func (s *Server) handleHealth(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.relay.Health(ctx))
}
