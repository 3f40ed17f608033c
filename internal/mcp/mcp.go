// Package mcp implements the Model Context Protocol surface for shinpan.
//
// MCP-compatible observers (agent tooling, dashboards driven by an LLM) get
// read-only access to committed match state and the configured mover roster.
// The tools never write: cancellation and launching stay on the HTTP API,
// which keeps the orchestrator the single writer of match state.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kifulabs/shinpan/internal/agent"
	"github.com/kifulabs/shinpan/internal/clock"
	"github.com/kifulabs/shinpan/internal/model"
	"github.com/kifulabs/shinpan/internal/store"
)

// Server wraps the MCP server with shinpan's store and agent registry.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     store.Store
	agents    *agent.Registry
	logger    *slog.Logger
}

// New creates and configures an MCP server with all tools registered.
func New(st store.Store, agents *agent.Registry, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:  st,
		agents: agents,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"shinpan",
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

func (s *Server) registerTools() {
	// get_match_state — the committed record plus clock values advanced to now.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_match_state",
			mcplib.WithDescription(`Get the current state of a chess match between two agents.

Returns the full committed record: position (FEN), move history, per-move
log with each agent's explanation and conversation transcript, and both
clocks advanced to the moment of the read. A finished match additionally
reports the winner and the termination reason.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("match_id",
				mcplib.Description("Identifier of the match to read"),
				mcplib.Required(),
			),
		),
		s.handleGetMatchState,
	)

	// list_agents — the configured mover roster.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_agents",
			mcplib.WithDescription(`List the agents available to play matches.

Returns each agent's registry ID (use it as white_agent/black_agent when
creating a match) and display name.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListAgents,
	)
}

func (s *Server) handleGetMatchState(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	matchID := request.GetString("match_id", "")
	if matchID == "" {
		return errorResult("match_id is required"), nil
	}

	state, err := s.store.Read(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResult(fmt.Sprintf("no such match: %s", matchID)), nil
		}
		s.logger.Error("mcp read match", "match_id", matchID, "error", err)
		return errorResult(fmt.Sprintf("failed to read match: %v", err)), nil
	}

	white, black := clock.RemainingNow(state, time.Now())
	return jsonResult(model.MatchView{
		MatchState: state,
		SideToMove: state.SideToMove(),
		WhiteNow:   white,
		BlackNow:   black,
	})
}

func (s *Server) handleListAgents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(map[string]any{
		"agents": s.agents.List(),
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err)), nil
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
