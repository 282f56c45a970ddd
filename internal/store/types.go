package store

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// allowedTransitions is the user-driven status machine. Derived refreshes of
// user-story status bypass this table (see TaskUpdate.DerivedStatus).
var allowedTransitions = map[Status][]Status{
	StatusBacklog:    {StatusTodo},
	StatusTodo:       {StatusBacklog, StatusInProgress},
	StatusInProgress: {StatusTodo, StatusDone},
	StatusDone:       {StatusInProgress},
}

// ValidTransition reports whether from -> to is a legal user-driven edge.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority levels for tasks.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task categories.
const (
	CategoryDesignFrontend  = "design_frontend"
	CategoryBackendDatabase = "backend_database"
	CategoryTestFix         = "test_fix"
)

// Suggestion is a ranked agent or tool recommendation attached to a task.
type Suggestion struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// StoryMetadata carries decomposition details for tasks produced from a
// user story.
type StoryMetadata struct {
	Complexity     string       `json:"complexity,omitempty"`
	EstimatedHours float64      `json:"estimated_hours,omitempty"`
	OriginalStory  string       `json:"original_story,omitempty"`
	SuggestedAgent *Suggestion  `json:"suggested_agent,omitempty"`
	SuggestedTools []Suggestion `json:"suggested_tools,omitempty"`
}

// FileToModify is one analysis entry for an existing file.
type FileToModify struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Risk   string `json:"risk"` // low | medium | high
}

// FileToCreate is one analysis entry for a new file.
type FileToCreate struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// AnalysisDependency names a resource the task touches.
type AnalysisDependency struct {
	Type   string `json:"type"` // file | component | api | model
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Action string `json:"action"` // uses | modifies | creates
}

// AnalysisRisk is one identified risk with its mitigation.
type AnalysisRisk struct {
	Level       string `json:"level"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// RelatedCode points at code the assistant found relevant.
type RelatedCode struct {
	File        string `json:"file"`
	Description string `json:"description"`
	Lines       string `json:"lines,omitempty"`
}

// TaskAnalysis is the structured record the external assistant produces
// after inspecting the codebase for a task. Stored verbatim on the task.
type TaskAnalysis struct {
	FilesToModify   []FileToModify       `json:"files_to_modify,omitempty"`
	FilesToCreate   []FileToCreate       `json:"files_to_create,omitempty"`
	Dependencies    []AnalysisDependency `json:"dependencies,omitempty"`
	Risks           []AnalysisRisk       `json:"risks,omitempty"`
	RelatedCode     []RelatedCode        `json:"related_code,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
	AnalyzedAt      time.Time            `json:"analyzed_at,omitempty"`
}

// TaskMetadata is the free-form metadata record on a task.
type TaskMetadata struct {
	Analysis *TaskAnalysis `json:"analysis,omitempty"`
}

// Task is the unit of work.
type Task struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Status        Status         `json:"status"`
	Assignee      string         `json:"assignee,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Category      string         `json:"category,omitempty"`
	IsUserStory   bool           `json:"is_user_story"`
	UserStoryID   string         `json:"user_story_id,omitempty"`
	StoryMetadata *StoryMetadata `json:"story_metadata,omitempty"`
	Metadata      *TaskMetadata  `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ResourceNode is a nameable artifact shared across tasks. Identity is
// (type, name); nodes are upserted.
type ResourceNode struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // file | component | api | model
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceEdge links a task to a resource with an action label.
type ResourceEdge struct {
	TaskID     string `json:"task_id"`
	ResourceID string `json:"resource_id"`
	Action     string `json:"action"` // uses | modifies | creates
}

// Resource edge actions.
const (
	ActionUses     = "uses"
	ActionModifies = "modifies"
	ActionCreates  = "creates"
)

// QueuedEvent is one entry on the persistent event queue.
type QueuedEvent struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	Payload     string     `json:"payload"` // opaque JSON
	Processed   bool       `json:"processed"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Learning is a feedback record optionally tied to a task.
type Learning struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	Context   string    `json:"context"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Lesson    string    `json:"lesson"`
	Type      string    `json:"type,omitempty"` // success | failure | improvement
	Pattern   string    `json:"pattern,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Learning feedback types.
const (
	FeedbackSuccess     = "success"
	FeedbackFailure     = "failure"
	FeedbackImprovement = "improvement"
)

// PatternFrequency aggregates feedback counters per pattern. Maintained in
// the same transaction that inserts the corresponding learning.
type PatternFrequency struct {
	Pattern          string    `json:"pattern"`
	Frequency        int       `json:"frequency"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	ImprovementCount int       `json:"improvement_count"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

// Project is the configuration root owning all other entities.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TechStackEntry is one configured technology.
type TechStackEntry struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Category  string `json:"category"` // frontend | backend | database | testing | ...
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
}

// Guideline is a project rule surfaced in execution prompts.
type Guideline struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Category  string `json:"category,omitempty"`
	Priority  int    `json:"priority"`
	IsActive  bool   `json:"is_active"`
}

// CodePattern is a reusable code example from the pattern library.
type CodePattern struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Example     string   `json:"example,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	UsageCount  int      `json:"usage_count"`
}

// Template is a named prompt/document template with {{var}} placeholders.
type Template struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Category  string `json:"category,omitempty"`
}

// SubAgent is a configured specialist agent.
type SubAgent struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Name          string         `json:"name"`
	AgentType     string         `json:"agent_type"`
	Enabled       bool           `json:"enabled"`
	Triggers      []string       `json:"triggers,omitempty"`
	CustomPrompt  string         `json:"custom_prompt,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Priority      int            `json:"priority"`
}

// Known sub-agent types.
const (
	AgentArchitectureGuardian = "architecture-guardian"
	AgentDatabaseGuardian     = "database-guardian"
	AgentTestMaintainer       = "test-maintainer"
	AgentAPIGuardian          = "api-guardian"
	AgentCodeReviewer         = "production-ready-code-reviewer"
	AgentGeneralPurpose       = "general-purpose"
	AgentCustom               = "custom"
)

// MCPTool is a configured external tool the assistant can call.
type MCPTool struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	ToolType     string   `json:"tool_type"`
	Command      string   `json:"command,omitempty"`
	Enabled      bool     `json:"enabled"`
	WhenToUse    []string `json:"when_to_use,omitempty"`
	Priority     int      `json:"priority"`
	UsageCount   int      `json:"usage_count"`
	SuccessCount int      `json:"success_count"`
}
