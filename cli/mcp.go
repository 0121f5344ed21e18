// ABOUTME: MCP server subcommand
// ABOUTME: Exposes the lifecycle engine as MCP tools over stdio
package cli

import (
	"context"
	"database/sql"
	"log"

	"github.com/harperreed/oppflow/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPCommand starts the MCP server on stdio
func MCPCommand(db *sql.DB) error {
	log.Println("Starting lifecycle MCP server...")

	lifecycleHandlers := handlers.NewLifecycleHandlers(db)
	engineHandlers := handlers.NewEngineHandlers(db)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "oppflow",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_opportunity_state",
		Description: "Open the initial lifecycle state for an opportunity",
	}, lifecycleHandlers.CreateState)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_current_state",
		Description: "Get an opportunity's current lifecycle state",
	}, lifecycleHandlers.GetCurrentState)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_history",
		Description: "Get an opportunity's full lifecycle history, oldest first",
	}, lifecycleHandlers.GetHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "transition_opportunity",
		Description: "Manually transition an opportunity to a new state with an audit reason",
	}, lifecycleHandlers.Transition)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rules",
		Description: "List active transition rules, optionally filtered by from_state",
	}, engineHandlers.ListRules)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_transitions",
		Description: "Run the auto-transition engine over all active rules, or one rule; supports dry_run",
	}, engineHandlers.RunTransitions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_run_summary",
		Description: "Get cumulative auto-transition statistics and optional run history",
	}, engineHandlers.GetRunSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "lifecycle_analytics",
		Description: "Get time-in-state aggregates and current pipeline counts",
	}, engineHandlers.LifecycleAnalytics)

	ctx := context.Background()
	return server.Run(ctx, &mcp.StdioTransport{})
}
