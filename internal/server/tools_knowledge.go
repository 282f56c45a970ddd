package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/cache"
	"orchestro/internal/learning"
	"orchestro/internal/store"
)

func (s *Server) registerKnowledgeTools() {
	s.mcp.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List the project's prompt and document templates."),
	), s.handleListTemplates)

	s.mcp.AddTool(mcp.NewTool("list_patterns",
		mcp.WithDescription("List the project's code pattern library."),
	), s.handleListPatterns)

	s.mcp.AddTool(mcp.NewTool("list_learnings",
		mcp.WithDescription("List recent feedback learnings, newest first."),
		mcp.WithNumber("limit"),
	), s.handleListLearnings)

	s.mcp.AddTool(mcp.NewTool("render_template",
		mcp.WithDescription("Render a named template, substituting {{variable}} placeholders."),
		mcp.WithString("name", mcp.Required()),
		mcp.WithObject("variables", mcp.Description("Placeholder values by name")),
	), s.handleRenderTemplate)

	s.mcp.AddTool(mcp.NewTool("get_relevant_knowledge",
		mcp.WithDescription("Bundle similar learnings, frequent patterns, active guidelines, and code patterns for a work context."),
		mcp.WithString("context", mcp.Required(), mcp.Description("Free text describing the work at hand")),
		mcp.WithString("category", mcp.Description("Restrict guidelines to one category")),
	), s.handleRelevantKnowledge)

	s.mcp.AddTool(mcp.NewTool("add_feedback",
		mcp.WithDescription("Record execution feedback for a task; the pattern aggregate is updated in the same transaction."),
		mcp.WithString("task_id", mcp.Required()),
		mcp.WithString("feedback", mcp.Required()),
		mcp.WithString("type", mcp.Required(), mcp.Description("success, failure, or improvement")),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("The approach or pattern the feedback is about")),
		mcp.WithArray("tags"),
	), s.handleAddFeedback)

	s.mcp.AddTool(mcp.NewTool("get_similar_learnings",
		mcp.WithDescription("Find learnings whose text overlaps a context."),
		mcp.WithString("context"),
		mcp.WithString("task_id"),
		mcp.WithNumber("limit"),
	), s.handleSimilarLearnings)

	s.mcp.AddTool(mcp.NewTool("get_top_patterns",
		mcp.WithDescription("List the most frequent feedback patterns."),
		mcp.WithNumber("limit"),
	), s.handleTopPatterns)

	s.mcp.AddTool(mcp.NewTool("get_trending_patterns",
		mcp.WithDescription("Rank patterns by activity inside a recent window."),
		mcp.WithNumber("days"),
		mcp.WithNumber("limit"),
	), s.handleTrendingPatterns)

	s.mcp.AddTool(mcp.NewTool("get_pattern_stats",
		mcp.WithDescription("Fetch the raw frequency aggregate for one pattern."),
		mcp.WithString("pattern", mcp.Required()),
	), s.handlePatternStats)

	s.mcp.AddTool(mcp.NewTool("detect_failure_patterns",
		mcp.WithDescription("Find recurring patterns whose failure rate meets a threshold, worst first."),
		mcp.WithNumber("min_occurrences", mcp.Description("Default 3")),
		mcp.WithNumber("failure_threshold", mcp.Description("Default 0.5")),
	), s.handleDetectFailurePatterns)

	s.mcp.AddTool(mcp.NewTool("check_pattern_risk",
		mcp.WithDescription("Classify one pattern's risk from its historical failure rate."),
		mcp.WithString("pattern", mcp.Required()),
	), s.handleCheckPatternRisk)
}

func (s *Server) handleListTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, err := s.cache.GetOrSet("templates:list", cache.LongTTL, func() (any, error) {
		return s.store.ListTemplates(s.projectID)
	})
	if err != nil {
		return fail("list_templates", err)
	}
	templates := v.([]store.Template)
	return ok(map[string]any{"success": true, "templates": templates, "count": len(templates)})
}

func (s *Server) handleListPatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, err := s.cache.GetOrSet("codepatterns:list", cache.LongTTL, func() (any, error) {
		return s.store.ListCodePatterns(s.projectID)
	})
	if err != nil {
		return fail("list_patterns", err)
	}
	patterns := v.([]store.CodePattern)
	return ok(map[string]any{"success": true, "patterns": patterns, "count": len(patterns)})
}

type limitInput struct {
	Limit int `json:"limit"`
}

func (s *Server) handleListLearnings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in limitInput
	if err := decode(req, &in); err != nil {
		return fail("list_learnings", err)
	}

	learnings, err := s.learning.ListLearnings(in.Limit)
	if err != nil {
		return fail("list_learnings", err)
	}
	return ok(map[string]any{"success": true, "learnings": learnings, "count": len(learnings)})
}

type renderTemplateInput struct {
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables"`
}

func (s *Server) handleRenderTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in renderTemplateInput
	if err := decode(req, &in); err != nil {
		return fail("render_template", err)
	}
	if in.Name == "" {
		return fail("render_template", fmt.Errorf("%w: name is required", store.ErrValidation))
	}

	tpl, err := s.store.GetTemplate(s.projectID, in.Name)
	if err != nil {
		return fail("render_template", err)
	}

	rendered := tpl.Content
	for key, value := range in.Variables {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", value)
	}
	return ok(map[string]any{
		"success":  true,
		"name":     tpl.Name,
		"category": tpl.Category,
		"rendered": rendered,
	})
}

type relevantKnowledgeInput struct {
	Context  string `json:"context"`
	Category string `json:"category"`
}

func (s *Server) handleRelevantKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in relevantKnowledgeInput
	if err := decode(req, &in); err != nil {
		return fail("get_relevant_knowledge", err)
	}
	if strings.TrimSpace(in.Context) == "" {
		return fail("get_relevant_knowledge", fmt.Errorf("%w: context is required", store.ErrValidation))
	}

	learnings, err := s.learning.SimilarLearnings(store.SimilarQuery{Context: in.Context, Limit: 5})
	if err != nil {
		return fail("get_relevant_knowledge", err)
	}
	patterns, err := s.learning.TopPatterns(5)
	if err != nil {
		return fail("get_relevant_knowledge", err)
	}
	guidelines, err := s.store.ListGuidelines(s.projectID, in.Category, true)
	if err != nil {
		return fail("get_relevant_knowledge", err)
	}
	codePatterns, err := s.store.ListCodePatterns(s.projectID)
	if err != nil {
		return fail("get_relevant_knowledge", err)
	}

	return ok(map[string]any{
		"success":       true,
		"learnings":     learnings,
		"patterns":      patterns,
		"guidelines":    guidelines,
		"code_patterns": codePatterns,
	})
}

type addFeedbackInput struct {
	TaskID   string   `json:"task_id"`
	Feedback string   `json:"feedback"`
	Type     string   `json:"type"`
	Pattern  string   `json:"pattern"`
	Tags     []string `json:"tags"`
}

func (s *Server) handleAddFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in addFeedbackInput
	if err := decode(req, &in); err != nil {
		return fail("add_feedback", err)
	}

	l, err := s.learning.AddFeedback(learning.FeedbackInput{
		TaskID:   in.TaskID,
		Feedback: in.Feedback,
		Type:     in.Type,
		Pattern:  in.Pattern,
		Tags:     in.Tags,
	})
	if err != nil {
		return fail("add_feedback", err)
	}
	return ok(map[string]any{"success": true, "learning": l})
}

type similarLearningsInput struct {
	Context string `json:"context"`
	TaskID  string `json:"task_id"`
	Limit   int    `json:"limit"`
}

func (s *Server) handleSimilarLearnings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in similarLearningsInput
	if err := decode(req, &in); err != nil {
		return fail("get_similar_learnings", err)
	}

	learnings, err := s.learning.SimilarLearnings(store.SimilarQuery{
		Context: in.Context,
		TaskID:  in.TaskID,
		Limit:   in.Limit,
	})
	if err != nil {
		return fail("get_similar_learnings", err)
	}
	return ok(map[string]any{"success": true, "learnings": learnings, "count": len(learnings)})
}

func (s *Server) handleTopPatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in limitInput
	if err := decode(req, &in); err != nil {
		return fail("get_top_patterns", err)
	}

	patterns, err := s.learning.TopPatterns(in.Limit)
	if err != nil {
		return fail("get_top_patterns", err)
	}
	return ok(map[string]any{"success": true, "patterns": patterns, "count": len(patterns)})
}

type trendingInput struct {
	Days  int `json:"days"`
	Limit int `json:"limit"`
}

func (s *Server) handleTrendingPatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in trendingInput
	if err := decode(req, &in); err != nil {
		return fail("get_trending_patterns", err)
	}

	patterns, err := s.learning.TrendingPatterns(in.Days, in.Limit)
	if err != nil {
		return fail("get_trending_patterns", err)
	}
	return ok(map[string]any{"success": true, "patterns": patterns, "count": len(patterns)})
}

type patternInput struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handlePatternStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in patternInput
	if err := decode(req, &in); err != nil {
		return fail("get_pattern_stats", err)
	}

	stats, err := s.learning.PatternStats(in.Pattern)
	if err != nil {
		return fail("get_pattern_stats", err)
	}
	return ok(map[string]any{"success": true, "stats": stats})
}

type detectFailuresInput struct {
	MinOccurrences   int     `json:"min_occurrences"`
	FailureThreshold float64 `json:"failure_threshold"`
}

func (s *Server) handleDetectFailurePatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in detectFailuresInput
	if err := decode(req, &in); err != nil {
		return fail("detect_failure_patterns", err)
	}

	failures, err := s.learning.DetectFailurePatterns(in.MinOccurrences, in.FailureThreshold)
	if err != nil {
		return fail("detect_failure_patterns", err)
	}
	return ok(map[string]any{"success": true, "failure_patterns": failures, "count": len(failures)})
}

func (s *Server) handleCheckPatternRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in patternInput
	if err := decode(req, &in); err != nil {
		return fail("check_pattern_risk", err)
	}

	risk, err := s.learning.CheckPatternRisk(in.Pattern)
	if err != nil {
		return fail("check_pattern_risk", err)
	}
	return ok(map[string]any{"success": true, "risk": risk})
}
