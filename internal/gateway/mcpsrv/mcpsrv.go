// Package mcpsrv exposes the orchestrator as an MCP (Model Context
// Protocol) server over stdio, so agentic clients can plan and execute
// matters as tools.
package mcpsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/themislabs/themis/internal/matter"
	"github.com/themislabs/themis/internal/orchestrator"
)

// Server wraps an MCP stdio server around the orchestrator service.
type Server struct {
	service *orchestrator.Service
	mcp     *server.MCPServer
	logger  *slog.Logger
}

// New creates the MCP server and registers the workflow tools.
func New(service *orchestrator.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger,
	}

	s.mcp = server.NewMCPServer("themis", version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(
		mcp.NewTool("plan_matter",
			mcp.WithDescription("Build a legal workflow plan for a matter. Returns the plan with its node sequence."),
			mcp.WithObject("matter",
				mcp.Required(),
				mcp.Description("The matter payload: summary, parties, intent, and any artifacts already produced."),
			),
		),
		s.handlePlanMatter,
	)
	s.mcp.AddTool(
		mcp.NewTool("execute_plan",
			mcp.WithDescription("Execute a stored plan. Returns the execution record with node results and attention flags."),
			mcp.WithString("plan_id",
				mcp.Required(),
				mcp.Description("The plan ID returned by plan_matter."),
			),
			mcp.WithObject("matter",
				mcp.Description("Optional overlay merged into the stored matter for this run."),
			),
		),
		s.handleExecutePlan,
	)
	s.mcp.AddTool(
		mcp.NewTool("get_artifacts",
			mcp.WithDescription("Get the artifacts produced by a plan's execution, keyed by agent."),
			mcp.WithString("plan_id",
				mcp.Required(),
				mcp.Description("The plan ID."),
			),
		),
		s.handleGetArtifacts,
	)

	return s
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp gateway serving on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) handlePlanMatter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	m, ok := args["matter"].(map[string]any)
	if !ok || len(m) == 0 {
		return mcp.NewToolResultError("matter is required and must be an object"), nil
	}

	plan, err := s.service.Plan(ctx, matter.Matter(m))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan build failed: %v", err)), nil
	}

	s.logger.InfoContext(ctx, "mcp plan built",
		slog.String("plan_id", plan.ID),
		slog.Int("nodes", len(plan.Nodes)),
	)
	return jsonResult(plan)
}

func (s *Server) handleExecutePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError("plan_id is required"), nil
	}

	var overlay matter.Matter
	if m, ok := req.GetArguments()["matter"].(map[string]any); ok && len(m) > 0 {
		overlay = matter.Matter(m)
	}

	rec, err := s.service.Execute(ctx, planID, overlay)
	if err != nil && rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution failed: %v", err)), nil
	}

	s.logger.InfoContext(ctx, "mcp execution finished",
		slog.String("plan_id", planID),
		slog.String("status", string(rec.Status)),
	)
	return jsonResult(rec)
}

func (s *Server) handleGetArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError("plan_id is required"), nil
	}

	artifacts, err := s.service.GetArtifacts(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading artifacts failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"plan_id": planID, "artifacts": artifacts})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
