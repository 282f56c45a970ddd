package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"orchestro/internal/logging"
	"orchestro/internal/store"
	"orchestro/internal/suggest"
	"orchestro/internal/workflow"
)

// DefaultTimeout bounds one completion call.
const DefaultTimeout = 30 * time.Second

// maxStoryTitle truncates the derived story title.
const maxStoryTitle = 80

// DecomposedTask is one task in a completion response. Dependencies refer
// to other tasks in the same response by exact title.
type DecomposedTask struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category,omitempty"`
	Complexity     string   `json:"complexity,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Result is the outcome of a saved decomposition.
type Result struct {
	Success                  bool                `json:"success"`
	OriginalStory            string              `json:"original_story"`
	StoryID                  string              `json:"story_id"`
	Tasks                    []*store.Task       `json:"tasks"`
	DependencyMap            map[string][]string `json:"dependency_map"`
	TotalEstimatedHours      float64             `json:"total_estimated_hours"`
	RecommendedAnalysisOrder []string            `json:"recommended_analysis_order"`
	NextSteps                *workflow.NextSteps `json:"next_steps,omitempty"`
}

// IntelligentPrompt is the result of intelligent_decompose_story: the
// caller runs the decomposition itself and reports back.
type IntelligentPrompt struct {
	Prompt       string `json:"prompt"`
	Instructions string `json:"instructions"`
	NextTool     string `json:"next_tool"`
}

// Decomposer creates user stories and their sub-tasks.
type Decomposer struct {
	store     *store.Store
	suggest   *suggest.Engine
	completer TextCompleter
	projectID string
	timeout   time.Duration
}

// NewDecomposer builds a decomposer. The completer may be nil when only
// the intelligent (caller-side) flow is used.
func NewDecomposer(s *store.Store, sg *suggest.Engine, completer TextCompleter, projectID string, timeout time.Duration) *Decomposer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Decomposer{store: s, suggest: sg, completer: completer, projectID: projectID, timeout: timeout}
}

// DecomposeStory runs the full pipeline: prompt the completer, parse the
// task list, persist the story and its sub-tasks.
func (d *Decomposer) DecomposeStory(ctx context.Context, storyText string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryStory, "DecomposeStory")
	defer timer.Stop()

	if strings.TrimSpace(storyText) == "" {
		return nil, fmt.Errorf("%w: story text is required", store.ErrValidation)
	}
	if d.completer == nil {
		return nil, fmt.Errorf("%w: no completer configured, use intelligent_decompose_story", ErrUpstream)
	}

	prompt, err := d.decompositionPrompt(storyText)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.completer.Complete(cctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrUpstreamTimeout, d.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	tasks, err := ParseDecomposition(raw)
	if err != nil {
		return nil, err
	}
	return d.SaveStoryDecomposition(storyText, tasks)
}

// IntelligentDecomposeStory returns the decomposition prompt for the
// calling assistant to run with its own model.
func (d *Decomposer) IntelligentDecomposeStory(storyText string) (*IntelligentPrompt, error) {
	if strings.TrimSpace(storyText) == "" {
		return nil, fmt.Errorf("%w: story text is required", store.ErrValidation)
	}
	prompt, err := d.decompositionPrompt(storyText)
	if err != nil {
		return nil, err
	}
	return &IntelligentPrompt{
		Prompt:       prompt,
		Instructions: "Produce the JSON task array yourself, then submit it with save_story_decomposition together with the original story.",
		NextTool:     "save_story_decomposition",
	}, nil
}

// decompositionPrompt builds the completion prompt, enriched with the
// project's tech stack and pattern library when configured.
func (d *Decomposer) decompositionPrompt(storyText string) (string, error) {
	var b strings.Builder
	b.WriteString("Decompose the following user story into 2 to 8 concrete development tasks.\n\n")
	fmt.Fprintf(&b, "User story:\n%s\n\n", storyText)

	stack, err := d.store.ListTechStack(d.projectID)
	if err != nil {
		return "", err
	}
	if len(stack) > 0 {
		b.WriteString("Tech stack:\n")
		for _, e := range stack {
			fmt.Fprintf(&b, "- %s: %s", e.Category, e.Name)
			if e.Version != "" {
				fmt.Fprintf(&b, " %s", e.Version)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	patterns, err := d.store.ListCodePatterns(d.projectID)
	if err != nil {
		return "", err
	}
	if len(patterns) > 0 {
		b.WriteString("Established code patterns to reuse:\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with a JSON array only, no prose. Each element:\n")
	b.WriteString(`{"title": string, "description": string, "category": "design_frontend"|"backend_database"|"test_fix", "complexity": "simple"|"medium"|"complex", "estimated_hours": number, "priority": "low"|"medium"|"high"|"urgent", "dependencies": [titles of earlier tasks in this array], "tags": [string]}`)
	b.WriteString("\n\nOrder the array so that dependencies come before the tasks that need them.\n")
	return b.String(), nil
}

// ParseDecomposition extracts the task array from a completion response.
// Code fences and surrounding prose are tolerated; anything without a
// usable JSON array fails with ErrParse.
func ParseDecomposition(raw string) ([]DecomposedTask, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array found", ErrParse)
	}

	var tasks []DecomposedTask
	if err := json.Unmarshal([]byte(raw[start:end+1]), &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: empty task list", ErrParse)
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.Title) == "" {
			return nil, fmt.Errorf("%w: task %d has no title", ErrParse, i)
		}
	}
	return tasks, nil
}

// SaveStoryDecomposition persists a story and its decomposed tasks. The
// first pass creates every task so titles can be resolved to ids; the
// second pass wires the dependencies. Dependency titles that match no
// task in the list are dropped.
func (d *Decomposer) SaveStoryDecomposition(storyText string, decomposed []DecomposedTask) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryStory, "SaveStoryDecomposition")
	defer timer.Stop()

	if strings.TrimSpace(storyText) == "" {
		return nil, fmt.Errorf("%w: story text is required", store.ErrValidation)
	}
	if len(decomposed) == 0 {
		return nil, fmt.Errorf("%w: empty task list", ErrParse)
	}

	var totalHours float64
	for _, dt := range decomposed {
		totalHours += dt.EstimatedHours
	}

	storyTask := &store.Task{
		Title:       storyTitle(storyText),
		Description: storyText,
		IsUserStory: true,
		StoryMetadata: &store.StoryMetadata{
			OriginalStory:  storyText,
			EstimatedHours: totalHours,
		},
	}
	// The story's creation event is emitted after the batch persists so it
	// can carry the sub-task count.
	if err := d.store.CreateTaskNoEvent(storyTask, nil); err != nil {
		return nil, err
	}

	idByTitle := make(map[string]string, len(decomposed))
	tasks := make([]*store.Task, 0, len(decomposed))
	for _, dt := range decomposed {
		meta := &store.StoryMetadata{
			Complexity:     dt.Complexity,
			EstimatedHours: dt.EstimatedHours,
		}
		if agents := d.suggest.SuggestAgents(dt.Title, dt.Description, dt.Category); len(agents) > 0 {
			meta.SuggestedAgent = &agents[0]
		}
		meta.SuggestedTools = d.suggest.SuggestTools(dt.Title, dt.Description, dt.Category)

		t := &store.Task{
			Title:         dt.Title,
			Description:   dt.Description,
			Category:      validCategory(dt.Category),
			Priority:      validPriority(dt.Priority),
			Tags:          dt.Tags,
			UserStoryID:   storyTask.ID,
			StoryMetadata: meta,
		}
		if err := d.store.CreateTask(t, nil); err != nil {
			return nil, err
		}
		idByTitle[dt.Title] = t.ID
		tasks = append(tasks, t)
	}

	depMap := make(map[string][]string, len(decomposed))
	for i, dt := range decomposed {
		var deps []string
		for _, depTitle := range dt.Dependencies {
			if id, ok := idByTitle[depTitle]; ok && id != tasks[i].ID {
				deps = append(deps, id)
			}
		}
		if len(deps) > 0 {
			if err := d.store.ReplaceTaskDeps(tasks[i].ID, deps); err != nil {
				return nil, err
			}
		}
		depMap[tasks[i].ID] = deps
	}

	if err := d.store.Emit(store.EventUserStoryCreated, map[string]any{
		"task_id":    storyTask.ID,
		"title":      storyTask.Title,
		"status":     storyTask.Status,
		"task_count": len(tasks),
	}); err != nil {
		return nil, err
	}

	order := analysisOrder(tasks, depMap)
	res := &Result{
		Success:                  true,
		OriginalStory:            storyText,
		StoryID:                  storyTask.ID,
		Tasks:                    tasks,
		DependencyMap:            depMap,
		TotalEstimatedHours:      totalHours,
		RecommendedAnalysisOrder: order,
	}
	if len(order) > 0 {
		res.NextSteps = workflow.ForStage(workflow.StageStoryDecomposed, order[0])
	}

	logging.Get(logging.CategoryStory).Info("Decomposed story %s into %d tasks", storyTask.ID, len(tasks))
	return res, nil
}

// analysisOrder lists independent tasks first, then the rest, keeping the
// creation order within each group.
func analysisOrder(tasks []*store.Task, depMap map[string][]string) []string {
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if len(depMap[t.ID]) == 0 {
			order = append(order, t.ID)
		}
	}
	for _, t := range tasks {
		if len(depMap[t.ID]) > 0 {
			order = append(order, t.ID)
		}
	}
	return order
}

// storyTitle derives a short title from the story text.
func storyTitle(storyText string) string {
	line := strings.TrimSpace(storyText)
	if i := strings.IndexByte(line, '\n'); i != -1 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) > maxStoryTitle {
		line = strings.TrimSpace(line[:maxStoryTitle-3]) + "..."
	}
	return "Story: " + line
}

func validCategory(c string) string {
	switch c {
	case store.CategoryDesignFrontend, store.CategoryBackendDatabase, store.CategoryTestFix:
		return c
	}
	return ""
}

func validPriority(p string) string {
	switch p {
	case store.PriorityLow, store.PriorityMedium, store.PriorityHigh, store.PriorityUrgent:
		return p
	}
	return store.PriorityMedium
}
