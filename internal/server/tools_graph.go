package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/store"
)

func (s *Server) registerGraphTools() {
	s.mcp.AddTool(mcp.NewTool("save_dependencies",
		mcp.WithDescription("Replace a task's resource edges directly, without storing a full analysis record."),
		mcp.WithString("task_id", mcp.Required()),
		mcp.WithArray("dependencies", mcp.Required(), mcp.Description("Resource dependencies: {type, name, path?, action}")),
	), s.handleSaveDependencies)

	s.mcp.AddTool(mcp.NewTool("get_task_dependency_graph",
		mcp.WithDescription("Fetch the resource nodes and labeled edges attached to a task."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handleTaskDependencyGraph)

	s.mcp.AddTool(mcp.NewTool("get_resource_usage",
		mcp.WithDescription("List every task holding an edge to a resource node."),
		mcp.WithString("resource_id", mcp.Required()),
	), s.handleResourceUsage)

	s.mcp.AddTool(mcp.NewTool("get_task_conflicts",
		mcp.WithDescription("Classify the task's resource overlaps with other unfinished tasks."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handleTaskConflicts)
}

type saveDependenciesInput struct {
	TaskID       string                     `json:"task_id"`
	Dependencies []store.AnalysisDependency `json:"dependencies"`
}

func (s *Server) handleSaveDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in saveDependenciesInput
	if err := decode(req, &in); err != nil {
		return fail("save_dependencies", err)
	}

	g, err := s.graph.SaveDependencies(in.TaskID, in.Dependencies)
	if err != nil {
		return fail("save_dependencies", err)
	}
	return ok(map[string]any{"success": true, "graph": g})
}

func (s *Server) handleTaskDependencyGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_task_dependency_graph", err)
	}

	g, err := s.graph.TaskDependencyGraph(in.TaskID)
	if err != nil {
		return fail("get_task_dependency_graph", err)
	}
	return ok(map[string]any{"success": true, "graph": g})
}

type resourceIDInput struct {
	ResourceID string `json:"resource_id"`
}

func (s *Server) handleResourceUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in resourceIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_resource_usage", err)
	}

	report, err := s.graph.ResourceUsage(in.ResourceID)
	if err != nil {
		return fail("get_resource_usage", err)
	}
	return ok(map[string]any{"success": true, "usage": report})
}

func (s *Server) handleTaskConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_task_conflicts", err)
	}

	conflicts, err := s.graph.TaskConflicts(in.TaskID)
	if err != nil {
		return fail("get_task_conflicts", err)
	}
	return ok(map[string]any{"success": true, "conflicts": conflicts, "count": len(conflicts)})
}
