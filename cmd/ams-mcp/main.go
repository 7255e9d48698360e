// Command ams-mcp exposes the Associative Semantic Memory as MCP tools
// over stdio, grounded on the teacher's cmd/efficient-notion-mcp/main.go
// (server.NewMCPServer / mcp.NewTool / server.ServeStdio usage).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jbpayton/sophia-ams/internal/asm"
	"github.com/jbpayton/sophia-ams/internal/config"
	"github.com/jbpayton/sophia-ams/internal/embedding"
	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/llmclient"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

var (
	memory    *asm.ASM
	ownerName string
)

func main() {
	_ = godotenv.Load()
	logging.Init()

	configPath := os.Getenv("AMS_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ams-mcp: failed to load config: %v\n", err)
		os.Exit(1)
	}

	embedGen := embedding.NewOllamaClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dim)
	llm := llmclient.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey)

	store, err := vkg.Open(cfg.StatePath, embedGen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ams-mcp: failed to open VKG store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ownerName = cfg.Agent.Name
	memory = asm.New(store, extract.NewAdapter(llm), llm, asm.Config{OwnerName: cfg.Agent.Name})

	s := server.NewMCPServer("sophia-ams", "0.1.0", server.WithToolCapabilities(true))

	s.AddTool(queryRelatedTool(), handleQueryRelated)
	s.AddTool(queryProcedureTool(), handleQueryProcedure)
	s.AddTool(ingestTextTool(), handleIngestText)
	s.AddTool(createGoalTool(), handleCreateGoal)
	s.AddTool(activeGoalsTool(), handleActiveGoals)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "ams-mcp: server error: %v\n", err)
		os.Exit(1)
	}
}

func queryRelatedTool() mcp.Tool {
	return mcp.NewTool("query_related_information",
		mcp.WithDescription("Retrieve triples related to a piece of text from the associative semantic memory."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to find related knowledge for")),
	)
}

func handleQueryRelated(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	text, _ := args["text"].(string)
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	result := memory.QueryRelatedInformation(ctx, text, asm.DefaultRetrievalOptions())

	var out string
	for _, st := range result.Triples {
		out += fmt.Sprintf("%s %s %s (confidence: %.2f)\n", st.T.Subject, st.T.Relationship, st.T.Object, st.Score)
	}
	if result.Summary != "" {
		out += "\nSummary: " + result.Summary
	}
	if out == "" {
		out = "No related information found."
	}
	return mcp.NewToolResultText(out), nil
}

func queryProcedureTool() mcp.Tool {
	return mcp.NewTool("query_procedure",
		mcp.WithDescription("Retrieve procedural knowledge (methods, dependencies, examples) for achieving a goal."),
		mcp.WithString("goal", mcp.Required(), mcp.Description("The goal to find a procedure for")),
	)
}

func handleQueryProcedure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	goal, _ := args["goal"].(string)
	if goal == "" {
		return mcp.NewToolResultError("goal is required"), nil
	}

	result := memory.QueryProcedure(ctx, goal, asm.ProcedureOptions{
		IncludeAlternatives: true, IncludeExamples: true, IncludeDependencies: true, Limit: 10,
	})

	out := fmt.Sprintf("Found %d procedural triples for %q\n", result.TotalFound, goal)
	for _, m := range result.Methods {
		out += fmt.Sprintf("Method: %s %s %s\n", m.T.Subject, m.T.Relationship, m.T.Object)
	}
	for _, d := range result.Dependencies {
		out += fmt.Sprintf("Dependency: %s %s %s\n", d.T.Subject, d.T.Relationship, d.T.Object)
	}
	return mcp.NewToolResultText(out), nil
}

func ingestTextTool() mcp.Tool {
	return mcp.NewTool("ingest_text",
		mcp.WithDescription("Extract and store triples from a piece of text into the semantic memory."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to extract triples from")),
		mcp.WithString("source", mcp.Description("Source label, e.g. 'document:notes.md'")),
	)
}

func handleIngestText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	text, _ := args["text"].(string)
	source, _ := args["source"].(string)
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	if source == "" {
		source = "mcp:ingest_text"
	}

	result := memory.IngestText(ctx, text, source, time.Now().Unix(), "", "")
	return mcp.NewToolResultText(fmt.Sprintf("Extracted and stored %d triples.", len(result.Triples))), nil
}

func createGoalTool() mcp.Tool {
	return mcp.NewTool("create_goal",
		mcp.WithDescription("Create a new goal for the agent."),
		mcp.WithString("description", mcp.Required(), mcp.Description("Goal description")),
		mcp.WithNumber("priority", mcp.Description("Priority 1-5, default 3")),
	)
}

func handleCreateGoal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	description, _ := args["description"].(string)
	if description == "" {
		return mcp.NewToolResultError("description is required"), nil
	}
	priority := 3
	if p, ok := args["priority"].(float64); ok {
		priority = int(p)
	}

	desc, err := memory.CreateGoal(ctx, ownerName, description, asm.CreateGoalOptions{Priority: priority})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create goal: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created goal: %s", desc)), nil
}

func activeGoalsTool() mcp.Tool {
	return mcp.NewTool("get_active_goals",
		mcp.WithDescription("List the agent's currently active high-priority and forever goals."),
	)
}

func handleActiveGoals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goals, err := memory.GetActiveGoalsForPrompt(ctx, ownerName, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list goals: %v", err)), nil
	}
	if goals == "" {
		goals = "No active goals."
	}
	return mcp.NewToolResultText(goals), nil
}
