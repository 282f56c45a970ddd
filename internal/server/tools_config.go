package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/store"
)

func (s *Server) registerConfigurationTools() {
	s.mcp.AddTool(mcp.NewTool("get_project_info",
		mcp.WithDescription("Fetch the project record with row counts for every table."),
	), s.handleProjectInfo)

	s.mcp.AddTool(mcp.NewTool("get_project_configuration",
		mcp.WithDescription("Fetch the full project configuration: tech stack, guidelines, code patterns, templates, sub-agents, and MCP tools."),
	), s.handleProjectConfiguration)

	s.mcp.AddTool(mcp.NewTool("initialize_project_configuration",
		mcp.WithDescription("Seed the project configuration in one call: tech stack entries and guidelines."),
		mcp.WithArray("tech_stack", mcp.Description("Entries: {category, name, version?}")),
		mcp.WithArray("guidelines", mcp.Description("Entries: {title, content, category?, priority?}")),
	), s.handleInitializeConfiguration)

	s.mcp.AddTool(mcp.NewTool("add_tech_stack",
		mcp.WithDescription("Add or update one tech stack entry. Identity is (category, name)."),
		mcp.WithString("category", mcp.Required(), mcp.Description("frontend, backend, database, testing, ...")),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("version"),
	), s.handleUpsertTechStack)

	s.mcp.AddTool(mcp.NewTool("update_tech_stack",
		mcp.WithDescription("Update a tech stack entry, usually its version."),
		mcp.WithString("category", mcp.Required()),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("version"),
	), s.handleUpsertTechStack)

	s.mcp.AddTool(mcp.NewTool("remove_tech_stack",
		mcp.WithDescription("Remove one tech stack entry by (category, name)."),
		mcp.WithString("category", mcp.Required()),
		mcp.WithString("name", mcp.Required()),
	), s.handleRemoveTechStack)

	s.mcp.AddTool(mcp.NewTool("add_sub_agent",
		mcp.WithDescription("Register or update a specialist sub-agent."),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("agent_type"),
		mcp.WithArray("triggers"),
		mcp.WithString("custom_prompt"),
		mcp.WithObject("configuration"),
		mcp.WithNumber("priority"),
	), s.handleAddSubAgent)

	s.mcp.AddTool(mcp.NewTool("update_sub_agent",
		mcp.WithDescription("Enable or disable a sub-agent."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithBoolean("enabled", mcp.Required()),
	), s.handleUpdateSubAgent)

	s.mcp.AddTool(mcp.NewTool("add_mcp_tool",
		mcp.WithDescription("Register or update an external MCP tool."),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("tool_type"),
		mcp.WithString("command"),
		mcp.WithArray("when_to_use"),
		mcp.WithNumber("priority"),
	), s.handleAddMCPTool)

	s.mcp.AddTool(mcp.NewTool("update_mcp_tool",
		mcp.WithDescription("Enable or disable an MCP tool."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithBoolean("enabled", mcp.Required()),
	), s.handleUpdateMCPTool)

	s.mcp.AddTool(mcp.NewTool("add_guideline",
		mcp.WithDescription("Add a project guideline surfaced in execution prompts."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
		mcp.WithString("category"),
		mcp.WithNumber("priority"),
	), s.handleAddGuideline)

	s.mcp.AddTool(mcp.NewTool("add_code_pattern",
		mcp.WithDescription("Add a reusable code pattern to the library. Identity is the name."),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithString("example"),
		mcp.WithArray("tags"),
	), s.handleAddCodePattern)
}

func (s *Server) handleProjectInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := s.store.GetProject(s.projectID)
	if err != nil {
		return fail("get_project_info", err)
	}
	stats, err := s.store.GetStats()
	if err != nil {
		return fail("get_project_info", err)
	}
	return ok(map[string]any{"success": true, "project": project, "stats": stats})
}

func (s *Server) handleProjectConfiguration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stack, err := s.store.ListTechStack(s.projectID)
	if err != nil {
		return fail("get_project_configuration", err)
	}
	guidelines, err := s.store.ListGuidelines(s.projectID, "", false)
	if err != nil {
		return fail("get_project_configuration", err)
	}
	patterns, err := s.store.ListCodePatterns(s.projectID)
	if err != nil {
		return fail("get_project_configuration", err)
	}
	templates, err := s.store.ListTemplates(s.projectID)
	if err != nil {
		return fail("get_project_configuration", err)
	}
	subAgents, err := s.store.ListSubAgents(s.projectID, false)
	if err != nil {
		return fail("get_project_configuration", err)
	}
	mcpTools, err := s.store.ListMCPTools(s.projectID, false)
	if err != nil {
		return fail("get_project_configuration", err)
	}

	return ok(map[string]any{
		"success":       true,
		"tech_stack":    stack,
		"guidelines":    guidelines,
		"code_patterns": patterns,
		"templates":     templates,
		"sub_agents":    subAgents,
		"mcp_tools":     mcpTools,
	})
}

type techStackItem struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

type guidelineItem struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
}

type initializeInput struct {
	TechStack  []techStackItem `json:"tech_stack"`
	Guidelines []guidelineItem `json:"guidelines"`
}

func (s *Server) handleInitializeConfiguration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in initializeInput
	if err := decode(req, &in); err != nil {
		return fail("initialize_project_configuration", err)
	}

	for _, e := range in.TechStack {
		if e.Category == "" || e.Name == "" {
			return fail("initialize_project_configuration",
				fmt.Errorf("%w: tech stack entries need category and name", store.ErrValidation))
		}
		err := s.store.UpsertTechStackEntry(&store.TechStackEntry{
			ProjectID: s.projectID,
			Category:  e.Category,
			Name:      e.Name,
			Version:   e.Version,
		})
		if err != nil {
			return fail("initialize_project_configuration", err)
		}
	}
	for _, g := range in.Guidelines {
		if g.Title == "" || g.Content == "" {
			return fail("initialize_project_configuration",
				fmt.Errorf("%w: guidelines need title and content", store.ErrValidation))
		}
		err := s.store.InsertGuideline(&store.Guideline{
			ProjectID: s.projectID,
			Title:     g.Title,
			Content:   g.Content,
			Category:  g.Category,
			Priority:  g.Priority,
			IsActive:  true,
		})
		if err != nil {
			return fail("initialize_project_configuration", err)
		}
	}

	return ok(map[string]any{
		"success":          true,
		"tech_stack_count": len(in.TechStack),
		"guideline_count":  len(in.Guidelines),
	})
}

func (s *Server) handleUpsertTechStack(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in techStackItem
	if err := decode(req, &in); err != nil {
		return fail("add_tech_stack", err)
	}
	if in.Category == "" || in.Name == "" {
		return fail("add_tech_stack", fmt.Errorf("%w: category and name are required", store.ErrValidation))
	}

	entry := &store.TechStackEntry{
		ProjectID: s.projectID,
		Category:  in.Category,
		Name:      in.Name,
		Version:   in.Version,
	}
	if err := s.store.UpsertTechStackEntry(entry); err != nil {
		return fail("add_tech_stack", err)
	}
	return ok(map[string]any{"success": true, "entry": entry})
}

func (s *Server) handleRemoveTechStack(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in techStackItem
	if err := decode(req, &in); err != nil {
		return fail("remove_tech_stack", err)
	}

	if err := s.store.RemoveTechStackEntry(s.projectID, in.Category, in.Name); err != nil {
		return fail("remove_tech_stack", err)
	}
	return ok(map[string]any{"success": true, "removed": in.Category + "/" + in.Name})
}

type addSubAgentInput struct {
	Name          string         `json:"name"`
	AgentType     string         `json:"agent_type"`
	Triggers      []string       `json:"triggers"`
	CustomPrompt  string         `json:"custom_prompt"`
	Configuration map[string]any `json:"configuration"`
	Priority      int            `json:"priority"`
}

func (s *Server) handleAddSubAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in addSubAgentInput
	if err := decode(req, &in); err != nil {
		return fail("add_sub_agent", err)
	}
	if in.Name == "" {
		return fail("add_sub_agent", fmt.Errorf("%w: name is required", store.ErrValidation))
	}
	if in.AgentType == "" {
		in.AgentType = store.AgentCustom
	}

	agent := &store.SubAgent{
		ProjectID:     s.projectID,
		Name:          in.Name,
		AgentType:     in.AgentType,
		Enabled:       true,
		Triggers:      in.Triggers,
		CustomPrompt:  in.CustomPrompt,
		Configuration: in.Configuration,
		Priority:      in.Priority,
	}
	if err := s.store.UpsertSubAgent(agent); err != nil {
		return fail("add_sub_agent", err)
	}
	return ok(map[string]any{"success": true, "sub_agent": agent})
}

type enableInput struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleUpdateSubAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in enableInput
	if err := decode(req, &in); err != nil {
		return fail("update_sub_agent", err)
	}

	if err := s.store.SetSubAgentEnabled(in.ID, in.Enabled); err != nil {
		return fail("update_sub_agent", err)
	}
	return ok(map[string]any{"success": true, "id": in.ID, "enabled": in.Enabled})
}

type addMCPToolInput struct {
	Name      string   `json:"name"`
	ToolType  string   `json:"tool_type"`
	Command   string   `json:"command"`
	WhenToUse []string `json:"when_to_use"`
	Priority  int      `json:"priority"`
}

func (s *Server) handleAddMCPTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in addMCPToolInput
	if err := decode(req, &in); err != nil {
		return fail("add_mcp_tool", err)
	}
	if in.Name == "" {
		return fail("add_mcp_tool", fmt.Errorf("%w: name is required", store.ErrValidation))
	}

	tool := &store.MCPTool{
		ProjectID: s.projectID,
		Name:      in.Name,
		ToolType:  in.ToolType,
		Command:   in.Command,
		Enabled:   true,
		WhenToUse: in.WhenToUse,
		Priority:  in.Priority,
	}
	if err := s.store.UpsertMCPTool(tool); err != nil {
		return fail("add_mcp_tool", err)
	}
	return ok(map[string]any{"success": true, "mcp_tool": tool})
}

func (s *Server) handleUpdateMCPTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in enableInput
	if err := decode(req, &in); err != nil {
		return fail("update_mcp_tool", err)
	}

	if err := s.store.SetMCPToolEnabled(in.ID, in.Enabled); err != nil {
		return fail("update_mcp_tool", err)
	}
	return ok(map[string]any{"success": true, "id": in.ID, "enabled": in.Enabled})
}

func (s *Server) handleAddGuideline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in guidelineItem
	if err := decode(req, &in); err != nil {
		return fail("add_guideline", err)
	}
	if in.Title == "" || in.Content == "" {
		return fail("add_guideline", fmt.Errorf("%w: title and content are required", store.ErrValidation))
	}

	g := &store.Guideline{
		ProjectID: s.projectID,
		Title:     in.Title,
		Content:   in.Content,
		Category:  in.Category,
		Priority:  in.Priority,
		IsActive:  true,
	}
	if err := s.store.InsertGuideline(g); err != nil {
		return fail("add_guideline", err)
	}
	return ok(map[string]any{"success": true, "guideline": g})
}

type addCodePatternInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Example     string   `json:"example"`
	Tags        []string `json:"tags"`
}

func (s *Server) handleAddCodePattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in addCodePatternInput
	if err := decode(req, &in); err != nil {
		return fail("add_code_pattern", err)
	}
	if in.Name == "" {
		return fail("add_code_pattern", fmt.Errorf("%w: name is required", store.ErrValidation))
	}

	p := &store.CodePattern{
		ProjectID:   s.projectID,
		Name:        in.Name,
		Description: in.Description,
		Example:     in.Example,
		Tags:        in.Tags,
	}
	if err := s.store.UpsertCodePattern(p); err != nil {
		return fail("add_code_pattern", err)
	}
	s.cache.Invalidate("codepatterns:list")
	return ok(map[string]any{"success": true, "pattern": p})
}
