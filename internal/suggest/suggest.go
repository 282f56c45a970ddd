// Package suggest scores agents and tools against task text. Scoring is a
// pure function of the registry and the input: keyword hits plus a category
// bonus, mapped onto a capped confidence.
package suggest

import (
	"fmt"
	"sort"
	"strings"

	"orchestro/internal/store"
)

// MaxSuggestions is how many ranked candidates a query returns.
const MaxSuggestions = 3

// MaxConfidence caps every score; nothing is ever certain.
const MaxConfidence = 0.95

// baseConfidence is the floor added to every scored candidate.
const baseConfidence = 0.2

// categoryBonus is added to the match count when the candidate's preferred
// category equals the task's.
const categoryBonus = 2

// Spec describes one candidate: its trigger keywords and an optional
// preferred task category.
type Spec struct {
	Name     string
	Type     string
	Keywords []string
	Category string
}

// agentRegistry covers the closed set of sub-agent types.
var agentRegistry = []Spec{
	{
		Name:     store.AgentDatabaseGuardian,
		Type:     "agent",
		Keywords: []string{"database", "schema", "migration", "sql", "table"},
		Category: store.CategoryBackendDatabase,
	},
	{
		Name:     store.AgentArchitectureGuardian,
		Type:     "agent",
		Keywords: []string{"architecture", "refactor", "structure", "module", "boundary", "design"},
	},
	{
		Name:     store.AgentTestMaintainer,
		Type:     "agent",
		Keywords: []string{"test", "tests", "coverage", "regression", "fixture", "flaky"},
		Category: store.CategoryTestFix,
	},
	{
		Name:     store.AgentAPIGuardian,
		Type:     "agent",
		Keywords: []string{"api", "endpoint", "rest", "route", "contract", "request"},
		Category: store.CategoryBackendDatabase,
	},
	{
		Name:     store.AgentCodeReviewer,
		Type:     "agent",
		Keywords: []string{"review", "quality", "security", "performance", "hardening", "error"},
	},
	{
		Name:     store.AgentGeneralPurpose,
		Type:     "agent",
		Keywords: []string{"implement", "feature", "build", "integrate"},
	},
}

// toolRegistry covers assistant-side tools worth recommending.
var toolRegistry = []Spec{
	{
		Name:     "codebase-search",
		Type:     "search",
		Keywords: []string{"find", "search", "locate", "refactor", "rename", "usage"},
	},
	{
		Name:     "database-inspector",
		Type:     "database",
		Keywords: []string{"database", "sql", "query", "schema", "migration"},
		Category: store.CategoryBackendDatabase,
	},
	{
		Name:     "test-runner",
		Type:     "testing",
		Keywords: []string{"test", "tests", "coverage", "regression", "suite"},
		Category: store.CategoryTestFix,
	},
	{
		Name:     "browser-preview",
		Type:     "frontend",
		Keywords: []string{"ui", "page", "component", "css", "layout", "screen"},
		Category: store.CategoryDesignFrontend,
	},
	{
		Name:     "docs-lookup",
		Type:     "documentation",
		Keywords: []string{"library", "documentation", "upgrade", "version", "dependency"},
	},
}

// Engine ranks registry candidates for tasks.
type Engine struct {
	agents []Spec
	tools  []Spec
}

// NewEngine builds an engine over the built-in registries.
func NewEngine() *Engine {
	return &Engine{agents: agentRegistry, tools: toolRegistry}
}

// SuggestAgents ranks sub-agents for the task text.
func (e *Engine) SuggestAgents(title, description, category string) []store.Suggestion {
	return rank(e.agents, title, description, category)
}

// SuggestTools ranks tools for the task text.
func (e *Engine) SuggestTools(title, description, category string) []store.Suggestion {
	return rank(e.tools, title, description, category)
}

// rank scores every candidate and returns the top few, best first.
// Candidates with no keyword hit and no category match are dropped.
func rank(registry []Spec, title, description, category string) []store.Suggestion {
	words := tokenize(title + " " + description)

	var suggestions []store.Suggestion
	for _, spec := range registry {
		var matched []string
		for _, kw := range spec.Keywords {
			if words[kw] {
				matched = append(matched, kw)
			}
		}
		matchCount := len(matched)
		categoryHit := spec.Category != "" && spec.Category == category
		if categoryHit {
			matchCount += categoryBonus
		}
		if matchCount == 0 {
			continue
		}

		confidence := float64(matchCount)/float64(len(spec.Keywords)) + baseConfidence
		if confidence > MaxConfidence {
			confidence = MaxConfidence
		}

		reason := "matched " + strings.Join(matched, ", ")
		if len(matched) == 0 {
			reason = "matched task category"
		} else if categoryHit {
			reason += "; matched task category"
		}

		suggestions = append(suggestions, store.Suggestion{
			Name:       spec.Name,
			Type:       spec.Type,
			Reason:     reason,
			Confidence: store.Round2(confidence),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].Name < suggestions[j].Name
	})
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	return suggestions
}

// tokenize lowercases the text and splits it into a word set on anything
// that is not a letter or digit.
func tokenize(text string) map[string]bool {
	words := map[string]bool{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, f := range fields {
		words[f] = true
	}
	return words
}

// Describe renders a suggestion for prompt text.
func Describe(s store.Suggestion) string {
	return fmt.Sprintf("%s (%s, confidence %.2f): %s", s.Name, s.Type, s.Confidence, s.Reason)
}
