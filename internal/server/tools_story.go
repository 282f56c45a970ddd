package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/store"
	"orchestro/internal/story"
)

func (s *Server) registerStoryTools() {
	s.mcp.AddTool(mcp.NewTool("get_user_stories",
		mcp.WithDescription("List every user story."),
	), s.handleGetUserStories)

	s.mcp.AddTool(mcp.NewTool("get_tasks_by_user_story",
		mcp.WithDescription("List the sub-tasks of a user story."),
		mcp.WithString("story_id", mcp.Required()),
	), s.handleGetTasksByUserStory)

	s.mcp.AddTool(mcp.NewTool("delete_user_story",
		mcp.WithDescription("Delete a user story and its sub-tasks. Refused when done work exists unless forced; external dependents always block."),
		mcp.WithString("story_id", mcp.Required()),
		mcp.WithBoolean("force", mcp.Description("Delete even when done sub-tasks exist")),
	), s.handleDeleteUserStory)

	s.mcp.AddTool(mcp.NewTool("safe_delete_tasks_by_status",
		mcp.WithDescription("Bulk-delete tasks with a status, preserving protected rows."),
		mcp.WithString("status", mcp.Required(), mcp.Description("backlog, todo, in_progress, or done")),
	), s.handleSafeDeleteByStatus)

	s.mcp.AddTool(mcp.NewTool("get_user_story_health",
		mcp.WithDescription("Report stored versus derived status and deletability for every user story."),
	), s.handleUserStoryHealth)

	s.mcp.AddTool(mcp.NewTool("decompose_story",
		mcp.WithDescription("Decompose a user story into tasks with the configured completion model and persist the result."),
		mcp.WithString("story", mcp.Required(), mcp.Description("The user story text")),
	), s.handleDecomposeStory)

	s.mcp.AddTool(mcp.NewTool("intelligent_decompose_story",
		mcp.WithDescription("Return the decomposition prompt for the calling assistant to run itself, followed by save_story_decomposition."),
		mcp.WithString("story", mcp.Required()),
	), s.handleIntelligentDecomposeStory)

	s.mcp.AddTool(mcp.NewTool("save_story_decomposition",
		mcp.WithDescription("Persist a caller-produced decomposition: the story task, its sub-tasks, and their dependencies."),
		mcp.WithString("story", mcp.Required(), mcp.Description("The original story text")),
		mcp.WithArray("tasks", mcp.Required(), mcp.Description("Decomposed task records")),
	), s.handleSaveStoryDecomposition)
}

type storyIDInput struct {
	StoryID string `json:"story_id"`
}

func (s *Server) handleGetUserStories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stories, err := s.tasks.UserStories()
	if err != nil {
		return fail("get_user_stories", err)
	}
	return ok(map[string]any{"success": true, "user_stories": stories, "count": len(stories)})
}

func (s *Server) handleGetTasksByUserStory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in storyIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_tasks_by_user_story", err)
	}

	if _, err := s.tasks.Get(in.StoryID); err != nil {
		return fail("get_tasks_by_user_story", err)
	}
	tasks, err := s.tasks.SubTasks(in.StoryID)
	if err != nil {
		return fail("get_tasks_by_user_story", err)
	}
	return ok(map[string]any{"success": true, "tasks": tasks, "count": len(tasks)})
}

type deleteUserStoryInput struct {
	StoryID string `json:"story_id"`
	Force   bool   `json:"force"`
}

func (s *Server) handleDeleteUserStory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in deleteUserStoryInput
	if err := decode(req, &in); err != nil {
		return fail("delete_user_story", err)
	}

	res, err := s.tasks.DeleteUserStory(in.StoryID, in.Force)
	if err != nil {
		return fail("delete_user_story", err)
	}
	return ok(map[string]any{"success": true, "result": res})
}

type statusInput struct {
	Status store.Status `json:"status"`
}

func (s *Server) handleSafeDeleteByStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in statusInput
	if err := decode(req, &in); err != nil {
		return fail("safe_delete_tasks_by_status", err)
	}

	res, err := s.tasks.SafeDeleteByStatus(in.Status)
	if err != nil {
		return fail("safe_delete_tasks_by_status", err)
	}
	return ok(map[string]any{"success": true, "result": res})
}

func (s *Server) handleUserStoryHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health, err := s.tasks.UserStoryHealth()
	if err != nil {
		return fail("get_user_story_health", err)
	}
	return ok(map[string]any{"success": true, "stories": health, "count": len(health)})
}

type storyTextInput struct {
	Story string `json:"story"`
}

func (s *Server) handleDecomposeStory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in storyTextInput
	if err := decode(req, &in); err != nil {
		return fail("decompose_story", err)
	}

	res, err := s.decomposer.DecomposeStory(ctx, in.Story)
	if err != nil {
		return fail("decompose_story", err)
	}
	return ok(res)
}

func (s *Server) handleIntelligentDecomposeStory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in storyTextInput
	if err := decode(req, &in); err != nil {
		return fail("intelligent_decompose_story", err)
	}

	res, err := s.decomposer.IntelligentDecomposeStory(in.Story)
	if err != nil {
		return fail("intelligent_decompose_story", err)
	}
	return ok(map[string]any{
		"success":      true,
		"prompt":       res.Prompt,
		"instructions": res.Instructions,
		"next_tool":    res.NextTool,
	})
}

type saveDecompositionInput struct {
	Story string                 `json:"story"`
	Tasks []story.DecomposedTask `json:"tasks"`
}

func (s *Server) handleSaveStoryDecomposition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in saveDecompositionInput
	if err := decode(req, &in); err != nil {
		return fail("save_story_decomposition", err)
	}

	res, err := s.decomposer.SaveStoryDecomposition(in.Story, in.Tasks)
	if err != nil {
		return fail("save_story_decomposition", err)
	}
	return ok(res)
}
