package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerSuggestionTools() {
	s.mcp.AddTool(mcp.NewTool("suggest_agents_for_task",
		mcp.WithDescription("Rank specialist sub-agents against task text."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithString("category"),
	), s.handleSuggestAgents)

	s.mcp.AddTool(mcp.NewTool("suggest_tools_for_task",
		mcp.WithDescription("Rank assistant-side tools against task text."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithString("category"),
	), s.handleSuggestTools)

	s.mcp.AddTool(mcp.NewTool("sync_claude_code_agents",
		mcp.WithDescription("Sync the agents directory's markdown definitions into the sub-agent registry."),
	), s.handleSyncAgents)

	s.mcp.AddTool(mcp.NewTool("read_claude_code_agents",
		mcp.WithDescription("Parse the agents directory without writing anything."),
	), s.handleReadAgents)

	s.mcp.AddTool(mcp.NewTool("update_agent_prompt_templates",
		mcp.WithDescription("Store each agent's prompt body as an agent_prompt template."),
	), s.handleUpdateAgentTemplates)
}

type suggestInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (s *Server) handleSuggestAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in suggestInput
	if err := decode(req, &in); err != nil {
		return fail("suggest_agents_for_task", err)
	}

	suggestions := s.suggest.SuggestAgents(in.Title, in.Description, in.Category)
	return ok(map[string]any{"success": true, "suggestions": suggestions, "count": len(suggestions)})
}

func (s *Server) handleSuggestTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in suggestInput
	if err := decode(req, &in); err != nil {
		return fail("suggest_tools_for_task", err)
	}

	suggestions := s.suggest.SuggestTools(in.Title, in.Description, in.Category)
	return ok(map[string]any{"success": true, "suggestions": suggestions, "count": len(suggestions)})
}

func (s *Server) handleSyncAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.syncer.Sync()
	if err != nil {
		return fail("sync_claude_code_agents", err)
	}
	return ok(map[string]any{"success": true, "synced": n, "dir": s.syncer.Dir()})
}

func (s *Server) handleReadAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.syncer.ReadDir()
	if err != nil {
		return fail("read_claude_code_agents", err)
	}
	return ok(map[string]any{"success": true, "agents": files, "count": len(files)})
}

func (s *Server) handleUpdateAgentTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.syncer.UpdatePromptTemplates()
	if err != nil {
		return fail("update_agent_prompt_templates", err)
	}
	return ok(map[string]any{"success": true, "updated": n})
}
