// Package workflow drives a task through the analysis pipeline: it builds
// the analysis prompt handed to the external assistant, assembles the
// enriched execution prompt once an analysis is saved, and stamps every
// result with the next-step hint that keeps the caller on the rails.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"orchestro/internal/logging"
	"orchestro/internal/store"
	"orchestro/internal/suggest"
)

// ErrNotAnalyzed is returned when the execution prompt is requested before
// an analysis has been saved for the task.
var ErrNotAnalyzed = errors.New("task has not been analyzed")

// maxSearchPatterns bounds the keyword seeds handed to the assistant.
const maxSearchPatterns = 8

// maxPromptLearnings bounds the history section of both prompts.
const maxPromptLearnings = 3

// Coordinator builds prompts from store state.
type Coordinator struct {
	store     *store.Store
	projectID string
}

// NewCoordinator builds a coordinator scoped to one project.
func NewCoordinator(s *store.Store, projectID string) *Coordinator {
	return &Coordinator{store: s, projectID: projectID}
}

// Preparation is the result of prepare_task_for_execution.
type Preparation struct {
	TaskID           string           `json:"task_id"`
	TaskTitle        string           `json:"task_title"`
	TaskDescription  string           `json:"task_description"`
	Prompt           string           `json:"prompt"`
	SearchPatterns   []string         `json:"search_patterns"`
	FilesToCheck     []string         `json:"files_to_check"`
	RisksToIdentify  []string         `json:"risks_to_identify"`
	SimilarLearnings []store.Learning `json:"similar_learnings,omitempty"`
	NextSteps        *NextSteps       `json:"next_steps"`
}

// PrepareTaskForExecution produces the structured analysis prompt. The
// engine reads no source files itself; the prompt tells the assistant what
// to look for and how to report back.
func (c *Coordinator) PrepareTaskForExecution(taskID string) (*Preparation, error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "PrepareTaskForExecution")
	defer timer.Stop()

	t, err := c.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	patterns := extractKeywords(t.Title+" "+t.Description, maxSearchPatterns)
	files := c.filesToCheck()
	risks := risksFor(t)
	learnings, err := c.store.SimilarLearnings(store.SimilarQuery{
		Context: t.Title + " " + t.Description,
		Limit:   maxPromptLearnings,
	})
	if err != nil {
		return nil, err
	}

	prep := &Preparation{
		TaskID:           t.ID,
		TaskTitle:        t.Title,
		TaskDescription:  t.Description,
		SearchPatterns:   patterns,
		FilesToCheck:     files,
		RisksToIdentify:  risks,
		SimilarLearnings: learnings,
		NextSteps:        ForStage(StageAnalysisPrepared, t.ID),
	}
	prep.Prompt = c.analysisPrompt(t, prep)

	if err := c.store.Emit(store.EventTaskAnalysisPrepared, map[string]any{
		"task_id": t.ID,
		"title":   t.Title,
	}); err != nil {
		return nil, err
	}
	return prep, nil
}

func (c *Coordinator) analysisPrompt(t *store.Task, prep *Preparation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Codebase analysis for task: %s\n\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Description)
	}
	b.WriteString("Inspect the codebase with your own read, search, and glob tools. Do not write any code yet.\n\n")

	if len(prep.SearchPatterns) > 0 {
		b.WriteString("## Search for\n")
		for _, p := range prep.SearchPatterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	if len(prep.FilesToCheck) > 0 {
		b.WriteString("## Files to check\n")
		for _, f := range prep.FilesToCheck {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if len(prep.RisksToIdentify) > 0 {
		b.WriteString("## Risks to identify\n")
		for _, r := range prep.RisksToIdentify {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	if len(prep.SimilarLearnings) > 0 {
		b.WriteString("## Lessons from similar past work\n")
		for _, l := range prep.SimilarLearnings {
			fmt.Fprintf(&b, "- %s\n", l.Lesson)
		}
		b.WriteString("\n")
	}

	b.WriteString("When done, report your findings with save_task_analysis: files_to_modify (path, reason, risk), files_to_create, dependencies (type, name, action), risks, related_code, recommendations.\n")
	return b.String()
}

// filesToCheck derives glob seeds from the configured tech stack.
func (c *Coordinator) filesToCheck() []string {
	entries, err := c.store.ListTechStack(c.projectID)
	if err != nil || len(entries) == 0 {
		return []string{"src/**"}
	}

	seen := map[string]bool{}
	var globs []string
	add := func(g string) {
		if !seen[g] {
			seen[g] = true
			globs = append(globs, g)
		}
	}
	for _, e := range entries {
		switch strings.ToLower(e.Name) {
		case "react", "nextjs", "next.js":
			add("src/**/*.tsx")
			add("src/components/**")
		case "typescript":
			add("src/**/*.ts")
		case "javascript", "node", "node.js", "express":
			add("src/**/*.js")
		case "go", "golang":
			add("**/*.go")
		case "python", "django", "fastapi":
			add("**/*.py")
		default:
			switch e.Category {
			case "frontend":
				add("src/components/**")
			case "backend":
				add("src/**")
			case "database":
				add("migrations/**")
			case "testing":
				add("**/*test*")
			}
		}
	}
	if len(globs) == 0 {
		globs = []string{"src/**"}
	}
	return globs
}

// risksFor derives heuristic risk hints from category and tags.
func risksFor(t *store.Task) []string {
	var risks []string
	switch t.Category {
	case store.CategoryBackendDatabase:
		risks = append(risks,
			"schema or query changes breaking existing callers",
			"data migrations that cannot be rolled back")
	case store.CategoryDesignFrontend:
		risks = append(risks,
			"layout regressions on existing pages",
			"shared component changes leaking into other screens")
	case store.CategoryTestFix:
		risks = append(risks,
			"loosened assertions masking real failures")
	}
	for _, tag := range t.Tags {
		switch strings.ToLower(tag) {
		case "auth", "security":
			risks = append(risks, "authentication or authorization regressions")
		case "api":
			risks = append(risks, "breaking changes to the public API contract")
		case "performance":
			risks = append(risks, "latency regressions on hot paths")
		}
	}
	if len(risks) == 0 {
		risks = append(risks, "unintended behavior changes in code sharing the touched files")
	}
	return risks
}

// ExecutionContext is the structured data behind the execution prompt.
type ExecutionContext struct {
	Task           *store.Task                `json:"task"`
	Analysis       *store.TaskAnalysis        `json:"analysis"`
	ResourceNodes  []store.ResourceNode       `json:"resource_nodes"`
	ResourceEdges  []store.ResourceEdgeDetail `json:"resource_edges"`
	SuggestedAgent *store.Suggestion          `json:"suggested_agent,omitempty"`
	SuggestedTools []store.Suggestion         `json:"suggested_tools,omitempty"`
	Learnings      []store.Learning           `json:"learnings,omitempty"`
	Guidelines     []store.Guideline          `json:"guidelines"`
}

// ExecutionPromptResult is the result of get_execution_prompt.
type ExecutionPromptResult struct {
	TaskID    string            `json:"task_id"`
	Prompt    string            `json:"prompt"`
	Context   *ExecutionContext `json:"context"`
	NextSteps *NextSteps        `json:"next_steps"`
}

// defaultGuidelines apply when the project has configured none.
var defaultGuidelines = []store.Guideline{
	{Title: "Follow existing patterns", Content: "Match the style and structure of the surrounding code."},
	{Title: "Keep changes scoped", Content: "Touch only the files the analysis identified; raise anything unexpected."},
	{Title: "Test what you change", Content: "Add or update tests covering the changed behavior."},
}

// ExecutionPrompt assembles the enriched implementation prompt for an
// analyzed task. Fails with ErrNotAnalyzed before save_task_analysis.
func (c *Coordinator) ExecutionPrompt(taskID string) (*ExecutionPromptResult, error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "ExecutionPrompt")
	defer timer.Stop()

	t, err := c.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.Metadata == nil || t.Metadata.Analysis == nil {
		return nil, fmt.Errorf("%w: task %s, call save_task_analysis first", ErrNotAnalyzed, taskID)
	}
	analysis := t.Metadata.Analysis

	nodes, edges, err := c.store.TaskResourceGraph(taskID)
	if err != nil {
		return nil, err
	}
	learnings, err := c.store.SimilarLearnings(store.SimilarQuery{
		Context: t.Title + " " + t.Description,
		Limit:   maxPromptLearnings,
	})
	if err != nil {
		return nil, err
	}
	guidelines, err := c.store.ListGuidelines(c.projectID, "", true)
	if err != nil {
		return nil, err
	}
	if len(guidelines) == 0 {
		guidelines = defaultGuidelines
	}

	ctx := &ExecutionContext{
		Task:          t,
		Analysis:      analysis,
		ResourceNodes: nodes,
		ResourceEdges: edges,
		Learnings:     learnings,
		Guidelines:    guidelines,
	}
	if t.StoryMetadata != nil {
		ctx.SuggestedAgent = t.StoryMetadata.SuggestedAgent
		ctx.SuggestedTools = t.StoryMetadata.SuggestedTools
	}

	return &ExecutionPromptResult{
		TaskID:    taskID,
		Prompt:    executionPrompt(ctx),
		Context:   ctx,
		NextSteps: ForStage(StageReadyToImplement, taskID),
	}, nil
}

func executionPrompt(ctx *ExecutionContext) string {
	t := ctx.Task
	a := ctx.Analysis

	var b strings.Builder
	fmt.Fprintf(&b, "# Implement task: %s\n\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Description)
	}

	if ctx.SuggestedAgent != nil {
		fmt.Fprintf(&b, "## Suggested agent\n- %s\n\n", suggest.Describe(*ctx.SuggestedAgent))
	}
	if len(ctx.SuggestedTools) > 0 {
		b.WriteString("## Suggested tools\n")
		for _, s := range ctx.SuggestedTools {
			fmt.Fprintf(&b, "- %s\n", suggest.Describe(s))
		}
		b.WriteString("\n")
	}

	if len(a.FilesToModify) > 0 {
		b.WriteString("## Files to modify\n")
		for _, f := range a.FilesToModify {
			fmt.Fprintf(&b, "- %s [%s risk]: %s\n", f.Path, f.Risk, f.Reason)
		}
		b.WriteString("\n")
	}
	if len(a.FilesToCreate) > 0 {
		b.WriteString("## Files to create\n")
		for _, f := range a.FilesToCreate {
			fmt.Fprintf(&b, "- %s: %s\n", f.Path, f.Reason)
		}
		b.WriteString("\n")
	}

	if len(ctx.ResourceEdges) > 0 {
		b.WriteString("## Resources this task touches\n")
		for _, e := range ctx.ResourceEdges {
			fmt.Fprintf(&b, "- %s %s/%s\n", e.Action, e.ResourceType, e.ResourceName)
		}
		b.WriteString("\n")
	}

	if len(a.Risks) > 0 {
		b.WriteString("## Risks\n")
		for _, level := range []string{"high", "medium", "low"} {
			for _, r := range a.Risks {
				if r.Level != level {
					continue
				}
				fmt.Fprintf(&b, "- [%s] %s", r.Level, r.Description)
				if r.Mitigation != "" {
					fmt.Fprintf(&b, " (mitigation: %s)", r.Mitigation)
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if len(a.RelatedCode) > 0 {
		b.WriteString("## Related code\n")
		for _, rc := range a.RelatedCode {
			fmt.Fprintf(&b, "- %s: %s", rc.File, rc.Description)
			if rc.Lines != "" {
				fmt.Fprintf(&b, " (%s)", rc.Lines)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(a.Recommendations) > 0 {
		b.WriteString("## Recommendations\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	if len(ctx.Learnings) > 0 {
		b.WriteString("## Lessons from similar past work\n")
		for _, l := range ctx.Learnings {
			fmt.Fprintf(&b, "- %s\n", l.Lesson)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Project guidelines\n")
	for _, g := range ctx.Guidelines {
		fmt.Fprintf(&b, "- %s: %s\n", g.Title, g.Content)
	}
	b.WriteString("\n")

	b.WriteString("## When finished\n")
	b.WriteString("1. Set the task status to done with update_task.\n")
	b.WriteString("2. Record what worked and what failed with add_feedback.\n")
	return b.String()
}

// stopwords excluded from keyword extraction.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "for": true, "from": true,
	"in": true, "into": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "should": true, "so": true, "that": true,
	"the": true, "their": true, "this": true, "to": true, "user": true,
	"via": true, "when": true, "will": true, "with": true,
}

// extractKeywords pulls distinct significant words from the text, longest
// first, capped at max.
func extractKeywords(text string, max int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	seen := map[string]bool{}
	var words []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		words = append(words, f)
	}
	sort.SliceStable(words, func(i, j int) bool {
		return len(words[i]) > len(words[j])
	})
	if len(words) > max {
		words = words[:max]
	}
	return words
}
