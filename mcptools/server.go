// Package mcptools exposes engine operations as MCP tools over stdio,
// so LLM agents can inspect and steer classification without touching
// the HTTP API.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/lifecycle"
	"github.com/opencatalog/piiguard/rules"
	"github.com/opencatalog/piiguard/scan"
)

// Server wraps the MCP stdio server over the engine.
type Server struct {
	mcpServer    *server.MCPServer
	registry     *rules.Registry
	lifecycle    *lifecycle.Synchronizer
	orchestrator *scan.Orchestrator
	store        *govstore.Store
	logger       *slog.Logger
}

// NewServer registers the engine's tools.
func NewServer(registry *rules.Registry, sync *lifecycle.Synchronizer, orchestrator *scan.Orchestrator, store *govstore.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer:    server.NewMCPServer("piiguard", "1.0.0"),
		registry:     registry,
		lifecycle:    sync,
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
	}
	s.registerTools()
	return s
}

// Serve runs the stdio transport until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_rules",
		mcp.WithDescription("List sensitive-data classification rules."),
	), s.handleListRules)

	s.mcpServer.AddTool(mcp.NewTool("classify_column",
		mcp.WithDescription("Manually classify a column under a rule. Overrides automated evidence and removes any standing exclusion for the pair."),
		mcp.WithString("column_key", mcp.Required(), mcp.Description("Canonical column key: source/database/schema/table/column.")),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("Rule to classify the column under.")),
		mcp.WithString("actor", mcp.Description("Identity to attribute the action to.")),
	), s.handleClassify)

	s.mcpServer.AddTool(mcp.NewTool("unclassify_column",
		mcp.WithDescription("Remove a column's classification and permanently exclude the pair from rescans."),
		mcp.WithString("column_key", mcp.Required(), mcp.Description("Canonical column key.")),
		mcp.WithString("rule_id", mcp.Description("Rule to reject. Defaults to the rule owning the standing classification.")),
		mcp.WithString("actor", mcp.Description("Identity to attribute the action to.")),
		mcp.WithString("reason", mcp.Description("Why the classification was rejected.")),
	), s.handleUnclassify)

	s.mcpServer.AddTool(mcp.NewTool("rescan",
		mcp.WithDescription("Run a scan, optionally scoped to one data source or one rule."),
		mcp.WithString("data_source_id", mcp.Description("Restrict the scan to one data source.")),
		mcp.WithString("rule_id", mcp.Description("Restrict the scan to one rule.")),
	), s.handleRescan)

	s.mcpServer.AddTool(mcp.NewTool("cleanup_orphaned",
		mcp.WithDescription("Sweep classifications and issues whose rules no longer exist. Idempotent."),
	), s.handleCleanup)

	s.mcpServer.AddTool(mcp.NewTool("list_issues",
		mcp.WithDescription("List classification issues."),
		mcp.WithString("status", mcp.Description("Filter: open or resolved.")),
	), s.handleListIssues)
}

func stringArg(request mcp.CallToolRequest, name string) string {
	if v, ok := request.Params.Arguments[name].(string); ok {
		return v
	}
	return ""
}

func toolJSON(v interface{}) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) handleListRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs, err := s.registry.List(rules.ListFilter{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(defs)
}

func (s *Server) handleClassify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := catalog.ParseKey(stringArg(request, "column_key"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ruleID := stringArg(request, "rule_id")
	if ruleID == "" {
		return mcp.NewToolResultError("rule_id is required"), nil
	}
	actor := stringArg(request, "actor")
	if actor == "" {
		actor = "mcp"
	}

	res, err := s.orchestrator.Classify(ctx, ref, ruleID, actor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(res)
}

func (s *Server) handleUnclassify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := catalog.ParseKey(stringArg(request, "column_key"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actor := stringArg(request, "actor")
	if actor == "" {
		actor = "mcp"
	}

	res, err := s.orchestrator.Unclassify(ctx, ref, stringArg(request, "rule_id"), actor, stringArg(request, "reason"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(res)
}

func (s *Server) handleRescan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.orchestrator.Scan(ctx, catalog.Scope{
		DataSourceID: stringArg(request, "data_source_id"),
		RuleID:       stringArg(request, "rule_id"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(summary)
}

func (s *Server) handleCleanup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.lifecycle.CleanupOrphaned(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(report)
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := govstore.IssueStatus(stringArg(request, "status"))
	if status != "" && status != govstore.IssueOpen && status != govstore.IssueResolved {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", status)), nil
	}
	issues, err := s.store.ListIssues(status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(issues)
}
