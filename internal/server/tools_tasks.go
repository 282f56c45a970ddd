package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/store"
	"orchestro/internal/task"
	"orchestro/internal/workflow"
)

func (s *Server) registerTaskTools() {
	s.mcp.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task, optionally with dependencies on existing tasks."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("status", mcp.Description("Initial status: backlog, todo, in_progress, or done")),
		mcp.WithArray("dependencies", mcp.Description("Ids of tasks this task depends on")),
		mcp.WithString("assignee", mcp.Description("Assignee name")),
		mcp.WithString("priority", mcp.Description("low, medium, high, or urgent")),
		mcp.WithArray("tags", mcp.Description("Free-form tags")),
		mcp.WithString("category", mcp.Description("design_frontend, backend_database, or test_fix")),
		mcp.WithBoolean("is_user_story", mcp.Description("Mark the task as a user story")),
		mcp.WithString("user_story_id", mcp.Description("Parent user story id")),
	), s.handleCreateTask)

	s.mcp.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Apply a partial update to a task. Omitted fields are left unchanged."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("title"),
		mcp.WithString("description"),
		mcp.WithString("status", mcp.Description("Target status; transitions follow the status machine")),
		mcp.WithArray("dependencies", mcp.Description("Replacement dependency id list")),
		mcp.WithString("assignee"),
		mcp.WithString("priority"),
		mcp.WithArray("tags"),
		mcp.WithString("category"),
	), s.handleUpdateTask)

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks, optionally filtered by status and category."),
		mcp.WithString("status"),
		mcp.WithString("category"),
	), s.handleListTasks)

	s.mcp.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Fetch one task by id."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handleGetTask)

	s.mcp.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. Fails while other tasks depend on it."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handleDeleteTask)

	s.mcp.AddTool(mcp.NewTool("get_task_context",
		mcp.WithDescription("Fetch a task with its dependencies, dependents, story relations, and learnings."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handleGetTaskContext)
}

type createTaskInput struct {
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Status       store.Status         `json:"status"`
	Dependencies []string             `json:"dependencies"`
	Assignee     string               `json:"assignee"`
	Priority     string               `json:"priority"`
	Tags         []string             `json:"tags"`
	Category     string               `json:"category"`
	IsUserStory  bool                 `json:"is_user_story"`
	UserStoryID  string               `json:"user_story_id"`
	Metadata     *store.StoryMetadata `json:"story_metadata"`
}

func (s *Server) handleCreateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in createTaskInput
	if err := decode(req, &in); err != nil {
		return fail("create_task", err)
	}

	t, err := s.tasks.Create(task.CreateInput{
		Title:         in.Title,
		Description:   in.Description,
		Status:        in.Status,
		Dependencies:  in.Dependencies,
		Assignee:      in.Assignee,
		Priority:      in.Priority,
		Tags:          in.Tags,
		Category:      in.Category,
		IsUserStory:   in.IsUserStory,
		UserStoryID:   in.UserStoryID,
		StoryMetadata: in.Metadata,
	})
	if err != nil {
		return fail("create_task", err)
	}
	return ok(map[string]any{
		"success":    true,
		"task":       t,
		"next_steps": workflow.ForStage(workflow.StageTaskCreated, t.ID),
	})
}

type updateTaskInput struct {
	TaskID       string        `json:"task_id"`
	Title        *string       `json:"title"`
	Description  *string       `json:"description"`
	Status       *store.Status `json:"status"`
	Dependencies *[]string     `json:"dependencies"`
	Assignee     *string       `json:"assignee"`
	Priority     *string       `json:"priority"`
	Tags         *[]string     `json:"tags"`
	Category     *string       `json:"category"`
}

func (s *Server) handleUpdateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in updateTaskInput
	if err := decode(req, &in); err != nil {
		return fail("update_task", err)
	}

	t, changes, err := s.tasks.Update(in.TaskID, store.TaskUpdate{
		Title:        in.Title,
		Description:  in.Description,
		Status:       in.Status,
		Dependencies: in.Dependencies,
		Assignee:     in.Assignee,
		Priority:     in.Priority,
		Tags:         in.Tags,
		Category:     in.Category,
	})
	if err != nil {
		return fail("update_task", err)
	}

	out := map[string]any{
		"success": true,
		"task":    t,
		"changes": changes,
	}
	if in.Status != nil && *in.Status == store.StatusDone && !t.IsUserStory {
		out["next_steps"] = workflow.ForStage(workflow.StageImplementationComplete, t.ID)
	}
	return ok(out)
}

type listTasksInput struct {
	Status   store.Status `json:"status"`
	Category string       `json:"category"`
}

func (s *Server) handleListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in listTasksInput
	if err := decode(req, &in); err != nil {
		return fail("list_tasks", err)
	}

	tasks, err := s.tasks.List(store.TaskFilter{Status: in.Status, Category: in.Category})
	if err != nil {
		return fail("list_tasks", err)
	}
	return ok(map[string]any{
		"success": true,
		"tasks":   tasks,
		"count":   len(tasks),
	})
}

type taskIDInput struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleGetTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_task", err)
	}

	t, err := s.tasks.Get(in.TaskID)
	if err != nil {
		return fail("get_task", err)
	}
	return ok(map[string]any{"success": true, "task": t})
}

func (s *Server) handleDeleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("delete_task", err)
	}

	if err := s.tasks.Delete(in.TaskID); err != nil {
		return fail("delete_task", err)
	}
	return ok(map[string]any{"success": true, "deleted_id": in.TaskID})
}

func (s *Server) handleGetTaskContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_task_context", err)
	}

	tc, err := s.tasks.GetTaskContext(in.TaskID)
	if err != nil {
		return fail("get_task_context", err)
	}
	return ok(map[string]any{"success": true, "context": tc})
}
