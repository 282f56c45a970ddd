package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject(t *testing.T, s *Store) *Project {
	t.Helper()
	p, err := s.EnsureDefaultProject("")
	require.NoError(t, err)
	return p
}

func TestEnsureDefaultProjectIsStable(t *testing.T) {
	s := newTestStore(t)

	first := testProject(t, s)
	assert.Equal(t, DefaultProjectName, first.Name)

	second := testProject(t, s)
	assert.Equal(t, first.ID, second.ID)
}

func TestTechStackUpsert(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)

	e := &TechStackEntry{ProjectID: p.ID, Category: "backend", Name: "go", Version: "1.24"}
	require.NoError(t, s.UpsertTechStackEntry(e))
	e2 := &TechStackEntry{ProjectID: p.ID, Category: "backend", Name: "go", Version: "1.25"}
	require.NoError(t, s.UpsertTechStackEntry(e2))

	entries, err := s.ListTechStack(p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.25", entries[0].Version)
}

func TestGuidelinesFilteringAndToggle(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)

	high := &Guideline{ProjectID: p.ID, Title: "no panics", Content: "return errors", Category: "errors", Priority: 10, IsActive: true}
	low := &Guideline{ProjectID: p.ID, Title: "tabs", Content: "use tabs", Category: "style", Priority: 1, IsActive: true}
	require.NoError(t, s.InsertGuideline(high))
	require.NoError(t, s.InsertGuideline(low))

	all, err := s.ListGuidelines(p.ID, "", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "no panics", all[0].Title)

	styleOnly, err := s.ListGuidelines(p.ID, "style", true)
	require.NoError(t, err)
	require.Len(t, styleOnly, 1)

	require.NoError(t, s.SetGuidelineActive(low.ID, false))
	active, err := s.ListGuidelines(p.ID, "", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	withInactive, err := s.ListGuidelines(p.ID, "", false)
	require.NoError(t, err)
	assert.Len(t, withInactive, 2)
}

func TestCodePatternUsageSurvivesUpsert(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)

	cp := &CodePattern{ProjectID: p.ID, Name: "repo-pattern", Description: "v1"}
	require.NoError(t, s.UpsertCodePattern(cp))
	require.NoError(t, s.IncrementCodePatternUsage(cp.ID))
	require.NoError(t, s.IncrementCodePatternUsage(cp.ID))

	cp2 := &CodePattern{ProjectID: p.ID, Name: "repo-pattern", Description: "v2"}
	require.NoError(t, s.UpsertCodePattern(cp2))

	patterns, err := s.ListCodePatterns(p.ID)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "v2", patterns[0].Description)
	assert.Equal(t, 2, patterns[0].UsageCount)
}

func TestTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)

	require.NoError(t, s.UpsertTemplate(&Template{
		ProjectID: p.ID, Name: "commit", Content: "feat: {{summary}}", Category: "git",
	}))

	got, err := s.GetTemplate(p.ID, "commit")
	require.NoError(t, err)
	assert.Equal(t, "feat: {{summary}}", got.Content)

	_, err = s.GetTemplate(p.ID, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubAgentUpsertKeyedByNameAndType(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)

	a := &SubAgent{
		ProjectID: p.ID, Name: "db-watch", AgentType: AgentDatabaseGuardian,
		Enabled: true, Triggers: []string{"schema"}, Priority: 5,
		Configuration: map[string]any{"model": "fast"},
	}
	require.NoError(t, s.UpsertSubAgent(a))

	a2 := &SubAgent{
		ProjectID: p.ID, Name: "db-watch", AgentType: AgentDatabaseGuardian,
		Enabled: true, Triggers: []string{"schema", "migration"}, Priority: 7,
	}
	require.NoError(t, s.UpsertSubAgent(a2))

	agents, err := s.ListSubAgents(p.ID, true)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, 7, agents[0].Priority)
	assert.Equal(t, []string{"schema", "migration"}, agents[0].Triggers)

	require.NoError(t, s.SetSubAgentEnabled(agents[0].ID, false))
	enabled, err := s.ListSubAgents(p.ID, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)
}

func TestMCPToolUsageCounters(t *testing.T) {
	s := newTestStore(t)
	p := testProject(t, s)

	tool := &MCPTool{
		ProjectID: p.ID, Name: "grep-index", ToolType: "search",
		Enabled: true, WhenToUse: []string{"large refactors"}, Priority: 3,
	}
	require.NoError(t, s.UpsertMCPTool(tool))
	require.NoError(t, s.RecordMCPToolUse(tool.ID, true))
	require.NoError(t, s.RecordMCPToolUse(tool.ID, false))

	tools, err := s.ListMCPTools(p.ID, true)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, 2, tools[0].UsageCount)
	assert.Equal(t, 1, tools[0].SuccessCount)

	// counters survive config updates
	tool2 := &MCPTool{ProjectID: p.ID, Name: "grep-index", ToolType: "search", Enabled: true}
	require.NoError(t, s.UpsertMCPTool(tool2))
	tools, err = s.ListMCPTools(p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, tools[0].UsageCount)
}
