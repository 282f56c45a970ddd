package workflow

// Stage names for the task workflow. A task moves from creation through
// analysis to implementation; decomposition feeds created tasks into the
// same pipeline.
type Stage string

const (
	StageTaskCreated            Stage = "TASK_CREATED"
	StageStoryDecomposed        Stage = "STORY_DECOMPOSED"
	StageAnalysisPrepared       Stage = "ANALYSIS_PREPARED"
	StageAnalysisSaved          Stage = "ANALYSIS_SAVED"
	StageReadyToImplement       Stage = "READY_TO_IMPLEMENT"
	StageImplementationComplete Stage = "IMPLEMENTATION_COMPLETE"
)

// ToolCall is a machine-usable hint the assistant may follow literally.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// NextSteps tells the caller which operation advances the workflow.
// Every tool result that continues the pipeline carries one.
type NextSteps struct {
	Step         int        `json:"step"`
	Action       string     `json:"action"`
	Instructions string     `json:"instructions"`
	NextTool     string     `json:"next_tool"`
	ToolsToCall  []ToolCall `json:"tools_to_call,omitempty"`
}

// ForStage returns the fixed next-step record for a stage. The task id is
// threaded into the suggested call parameters.
func ForStage(stage Stage, taskID string) *NextSteps {
	switch stage {
	case StageTaskCreated, StageStoryDecomposed:
		return &NextSteps{
			Step:         1,
			Action:       "prepare_analysis",
			Instructions: "Run prepare_task_for_execution to get the analysis prompt, then inspect the codebase with your own read and search tools.",
			NextTool:     "prepare_task_for_execution",
			ToolsToCall: []ToolCall{
				{Tool: "prepare_task_for_execution", Params: map[string]any{"task_id": taskID}},
			},
		}
	case StageAnalysisPrepared:
		return &NextSteps{
			Step:         2,
			Action:       "analyze_codebase",
			Instructions: "Inspect the codebase per the prompt, then submit your findings with save_task_analysis.",
			NextTool:     "save_task_analysis",
			ToolsToCall: []ToolCall{
				{Tool: "save_task_analysis", Params: map[string]any{"task_id": taskID}},
			},
		}
	case StageAnalysisSaved:
		return &NextSteps{
			Step:         3,
			Action:       "get_execution_prompt",
			Instructions: "Fetch the enriched execution prompt before writing any code.",
			NextTool:     "get_execution_prompt",
			ToolsToCall: []ToolCall{
				{Tool: "get_execution_prompt", Params: map[string]any{"task_id": taskID}},
			},
		}
	case StageReadyToImplement:
		return &NextSteps{
			Step:         4,
			Action:       "implement",
			Instructions: "Set the task to in_progress, implement per the prompt, then set it to done.",
			NextTool:     "update_task",
			ToolsToCall: []ToolCall{
				{Tool: "update_task", Params: map[string]any{"task_id": taskID, "status": "in_progress"}},
			},
		}
	case StageImplementationComplete:
		return &NextSteps{
			Step:         5,
			Action:       "record_feedback",
			Instructions: "Record what worked and what failed with add_feedback so future tasks benefit.",
			NextTool:     "add_feedback",
			ToolsToCall: []ToolCall{
				{Tool: "add_feedback", Params: map[string]any{"task_id": taskID}},
			},
		}
	}
	return nil
}
