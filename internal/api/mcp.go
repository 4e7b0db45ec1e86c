package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chronicle/internal/corpus"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner   Runner
	Store    NoteStore
	Searcher corpus.Searcher
}

// NewMCPServer creates an MCP server exposing the analysis pipeline and the
// corpus as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chronicle",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("chronicle — local multi-agent analysis over a personal research corpus."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze",
			mcp.WithDescription("Run a query through the full analysis pipeline (refine, critique, history lookup, synthesize) and persist the resulting note."),
			mcp.WithString("query", mcp.Description("The question to analyze"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Origin tag recorded in the note's frontmatter (default \"mcp\")")),
		),
		mcpAnalyze(deps),
	)

	s.AddTool(
		mcp.NewTool("search_corpus",
			mcp.WithDescription("Semantically search past analysis notes and return relevance-scored candidates."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchCorpus(deps),
	)

	s.AddTool(
		mcp.NewTool("get_note",
			mcp.WithDescription("Fetch a stored analysis note by UUID, rendered as markdown."),
			mcp.WithString("uuid", mcp.Description("Note UUID"), mcp.Required()),
		),
		mcpGetNote(deps),
	)

	return s
}

func mcpAnalyze(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Runner.Run(ctx, query, req.GetString("source", "mcp"))
		if err != nil {
			return mcpError(fmt.Sprintf("pipeline failed: %v", err)), nil
		}

		summary := map[string]any{
			"uuid":       res.Note.UUID,
			"filename":   res.Note.Filename,
			"title":      res.Note.Title,
			"summary":    res.Note.Summary,
			"status":     res.Synthesis.Status,
			"confidence": res.Synthesis.Confidence,
		}
		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchCorpus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		candidates, err := deps.Searcher.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(candidates) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(candidates)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("uuid")
		if err != nil {
			return mcpError("uuid is required"), nil
		}

		rendered, err := deps.Store.GetRendered(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get note: %v", err)), nil
		}
		return mcpText(rendered), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
