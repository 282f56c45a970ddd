package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/store"
	"orchestro/internal/workflow"
)

func (s *Server) registerWorkflowTools() {
	s.mcp.AddTool(mcp.NewTool("prepare_task_for_execution",
		mcp.WithDescription("Build the analysis prompt for a task: search patterns, files to check, risks, and similar learnings."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handlePrepareTask)

	s.mcp.AddTool(mcp.NewTool("save_task_analysis",
		mcp.WithDescription("Persist the assistant's codebase analysis for a task and report the resulting resource conflicts."),
		mcp.WithString("task_id", mcp.Required()),
		mcp.WithObject("analysis", mcp.Required(), mcp.Description("Analysis record: files_to_modify, files_to_create, dependencies, risks, related_code, recommendations")),
	), s.handleSaveTaskAnalysis)

	s.mcp.AddTool(mcp.NewTool("get_execution_prompt",
		mcp.WithDescription("Build the enriched implementation prompt from the saved analysis, resource graph, suggestions, learnings, and guidelines."),
		mcp.WithString("task_id", mcp.Required()),
	), s.handleGetExecutionPrompt)
}

func (s *Server) handlePrepareTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("prepare_task_for_execution", err)
	}

	prep, err := s.coordinator.PrepareTaskForExecution(in.TaskID)
	if err != nil {
		return fail("prepare_task_for_execution", err)
	}
	return ok(prep)
}

type saveAnalysisInput struct {
	TaskID   string              `json:"task_id"`
	Analysis *store.TaskAnalysis `json:"analysis"`
}

func (s *Server) handleSaveTaskAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in saveAnalysisInput
	if err := decode(req, &in); err != nil {
		return fail("save_task_analysis", err)
	}
	if in.Analysis != nil && in.Analysis.AnalyzedAt.IsZero() {
		in.Analysis.AnalyzedAt = time.Now().UTC()
	}

	conflicts, err := s.graph.SaveTaskAnalysis(in.TaskID, in.Analysis)
	if err != nil {
		return fail("save_task_analysis", err)
	}
	return ok(map[string]any{
		"success":    true,
		"task_id":    in.TaskID,
		"conflicts":  conflicts,
		"next_steps": workflow.ForStage(workflow.StageAnalysisSaved, in.TaskID),
	})
}

func (s *Server) handleGetExecutionPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in taskIDInput
	if err := decode(req, &in); err != nil {
		return fail("get_execution_prompt", err)
	}

	res, err := s.coordinator.ExecutionPrompt(in.TaskID)
	if err != nil {
		return fail("get_execution_prompt", err)
	}
	return ok(res)
}
